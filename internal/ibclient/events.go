// Package ibclient turns the callback-based IB TWS API into a blocking,
// request/response API. Each outbound request is assigned a unique request
// id; inbound callbacks are routed by that id to a per-request accumulator
// which collects rows into a table and releases the waiting caller when the
// end-of-stream marker (or a fatal error) arrives.
package ibclient

// Kind identifies the category of an inbound transport event.
type Kind int

const (
	KindConnectAck Kind = iota
	KindContractDetails
	KindContractDetailsEnd
	KindOptionParameter
	KindOptionParameterEnd
	KindHistoricalBar
	KindHistoricalBarEnd
	KindError
)

var kindNames = map[Kind]string{
	KindConnectAck:         "connectAck",
	KindContractDetails:    "contractDetails",
	KindContractDetailsEnd: "contractDetailsEnd",
	KindOptionParameter:    "securityDefinitionOptionParameter",
	KindOptionParameterEnd: "securityDefinitionOptionParameterEnd",
	KindHistoricalBar:      "historicalData",
	KindHistoricalBarEnd:   "historicalDataEnd",
	KindError:              "error",
}

// String returns the TWS callback name for the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// isEnd reports whether the kind is an end-of-stream marker for some request
// family.
func (k Kind) isEnd() bool {
	switch k {
	case KindContractDetailsEnd, KindOptionParameterEnd, KindHistoricalBarEnd:
		return true
	}
	return false
}

// ContractDetails carries the fields of a single contract-details row.
type ContractDetails struct {
	ContractID   int64
	Symbol       string
	LocalSymbol  string
	Exchange     string
	Expiration   string // YYYYMMDD, options and futures only
	Strike       float64
	Right        string
	Multiplier   string
	LongName     string
	Industry     string
	Category     string
	Subcategory  string
	TimeZoneID   string
	TradingHours string
	LiquidHours  string
}

// OptionParameter carries one security-definition option-parameter row: the
// expirations and strikes an exchange lists for an underlying.
type OptionParameter struct {
	Exchange             string
	UnderlyingContractID int64
	TradingClass         string
	Multiplier           string
	Expirations          []string
	Strikes              []float64
}

// Bar is one historical data bar as delivered on the wire. Date is a
// "YYYYMMDD HH:MM:SS" string; Count is the trade count within the bar and
// Average the volume-weighted average price.
type Bar struct {
	Date    string
	Open    float64
	High    float64
	Low     float64
	Close   float64
	Volume  int64
	Count   int64
	Average float64
}

// Event is a single inbound callback from the transport, tagged with its
// kind and the request id it belongs to. Only the payload field matching the
// kind is populated.
type Event struct {
	Kind  Kind
	ReqID int64

	Details ContractDetails // KindContractDetails
	Param   OptionParameter // KindOptionParameter
	Bar     Bar             // KindHistoricalBar

	// KindHistoricalBarEnd
	RangeStart string
	RangeEnd   string

	// KindError
	Code    int64
	Message string
}

// Transport is the connection to the TWS/Gateway application. Implementations
// encode outbound requests onto the wire and decode inbound messages into
// Events. Recv blocks until an event is available and returns an error once
// the transport is closed; it is only ever called from the client's single
// receive goroutine.
type Transport interface {
	Dial(host string, port int, clientID int64) error
	Close() error
	Recv() (Event, error)

	ReqContractDetails(reqID int64, contract Contract) error
	ReqSecDefOptParams(reqID int64, symbol, futFopExchange, secType string, contractID int64) error
	ReqHistoricalData(reqID int64, contract Contract, query HistoryQuery) error
}
