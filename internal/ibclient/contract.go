package ibclient

import (
	"fmt"
	"regexp"
)

// Contract describes the instrument an outbound request is about. Fields
// mirror the TWS contract description; unused fields stay zero.
type Contract struct {
	SecType     string
	Symbol      string
	LocalSymbol string
	Exchange    string
	Currency    string
	Expiration  string // lastTradeDateOrContractMonth, YYYYMMDD
	Strike      float64
	Right       string // "C" or "P"
}

// HistoryQuery holds the parameters of a historical-data request.
type HistoryQuery struct {
	EndTime  string // "YYYYMMDD HH:MM:SS", latest bar to return
	Duration string // e.g. "5 d"
	BarSize  string // e.g. "30 mins", one of BarSizes
	DataType string // e.g. "TRADES", one of DataTypes
	RTHOnly  bool   // restrict to regular trading hours
}

// DataTypes is the closed set of historical data types TWS accepts.
var DataTypes = []string{
	"TRADES",
	"MIDPOINT",
	"BID",
	"ASK",
	"BID_ASK",
	"HISTORICAL_VOLATILITY",
	"OPTION_IMPLIED_VOLATILITY",
}

// BarSizes is the closed set of bar sizes TWS accepts.
var BarSizes = []string{
	"1 sec",
	"5 secs",
	"15 secs",
	"30 secs",
	"1 min",
	"2 mins",
	"3 mins",
	"5 mins",
	"15 mins",
	"30 mins",
	"1 hour",
	"1 day",
}

var durationRe = regexp.MustCompile(`^[0-9]+ [SDWMY]$|^[0-9]+ [sdwmy]$`)

// StockContract builds a contract description for a stock ticker.
func StockContract(ticker, exchange, currency string) Contract {
	return Contract{
		SecType:     "STK",
		LocalSymbol: ticker,
		Exchange:    exchange,
		Currency:    currency,
	}
}

// OptionContract builds a contract description for a single options
// contract. Right must be "C" for calls or "P" for puts.
func OptionContract(ticker, expiration string, strike float64, right, exchange, currency string) (Contract, error) {
	if right != "C" && right != "P" {
		return Contract{}, fmt.Errorf("%w: right %q, want \"C\" or \"P\"", ErrInvalidArgument, right)
	}
	return Contract{
		SecType:    "OPT",
		Symbol:     ticker,
		Exchange:   exchange,
		Currency:   currency,
		Expiration: expiration,
		Strike:     strike,
		Right:      right,
	}, nil
}

// FuturesContract builds a contract description for a futures contract
// identified by its local symbol, e.g. "ESZ5".
func FuturesContract(localSymbol, exchange string) Contract {
	return Contract{
		SecType:     "FUT",
		LocalSymbol: localSymbol,
		Exchange:    exchange,
		Currency:    "USD",
	}
}

// validate checks a history query against the closed TWS parameter sets.
// It runs before anything touches the transport.
func (q HistoryQuery) validate() error {
	if !contains(DataTypes, q.DataType) {
		return fmt.Errorf("%w: data type %q, valid options: %v", ErrInvalidArgument, q.DataType, DataTypes)
	}
	if !contains(BarSizes, q.BarSize) {
		return fmt.Errorf("%w: bar size %q, valid options: %v", ErrInvalidArgument, q.BarSize, BarSizes)
	}
	if !durationRe.MatchString(q.Duration) {
		return fmt.Errorf("%w: duration %q, want \"<n> <unit>\" with unit one of s, d, w, m, y", ErrInvalidArgument, q.Duration)
	}
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
