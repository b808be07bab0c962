package ibwire

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"ibflow/internal/ibclient"
)

// Transport speaks the gateway socket protocol and satisfies
// ibclient.Transport. It is safe for one reader (the client's receive
// goroutine) plus concurrent request senders.
type Transport struct {
	dialTimeout time.Duration

	mu   sync.Mutex // guards writes to conn
	conn net.Conn
	rd   *bufio.Reader

	// Historical data arrives as one frame holding every bar plus the range;
	// decoded events beyond the first are queued for subsequent Recv calls.
	queue []ibclient.Event
}

var _ ibclient.Transport = (*Transport)(nil)

// New creates an unconnected transport.
func New() *Transport {
	return &Transport{dialTimeout: 10 * time.Second}
}

// Dial connects to the gateway, performs the version handshake and sends
// startApi with the client id. The connect ack (nextValidId) arrives through
// Recv.
func (t *Transport) Dial(host string, port int, clientID int64) error {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), t.dialTimeout)
	if err != nil {
		return fmt.Errorf("ibwire: dial: %w", err)
	}
	rd := bufio.NewReader(conn)

	if _, err := conn.Write([]byte(apiPrefix)); err != nil {
		conn.Close()
		return fmt.Errorf("ibwire: handshake: %w", err)
	}
	if err := writeFrame(conn, clientVersion); err != nil {
		conn.Close()
		return fmt.Errorf("ibwire: handshake: %w", err)
	}
	hello, err := readFrame(rd)
	if err != nil {
		conn.Close()
		return fmt.Errorf("ibwire: handshake: %w", err)
	}
	if len(hello) < 2 {
		conn.Close()
		return fmt.Errorf("ibwire: short handshake reply: %v", hello)
	}
	if err := writeFrame(conn,
		strconv.Itoa(msgStartAPI),
		"2", // startApi message version
		strconv.FormatInt(clientID, 10),
		"", // optional capabilities
	); err != nil {
		conn.Close()
		return fmt.Errorf("ibwire: startApi: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.rd = rd
	t.queue = nil
	t.mu.Unlock()
	return nil
}

// Close tears down the connection. Pending Recv calls fail.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (t *Transport) send(fields ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("ibwire: not connected")
	}
	return writeFrame(t.conn, fields...)
}

// Recv returns the next inbound event, reading frames until one decodes to a
// known message. Bars of a historical-data frame are delivered one event at
// a time.
func (t *Transport) Recv() (ibclient.Event, error) {
	if len(t.queue) > 0 {
		ev := t.queue[0]
		t.queue = t.queue[1:]
		return ev, nil
	}
	for {
		fields, err := readFrame(t.rd)
		if err != nil {
			return ibclient.Event{}, err
		}
		events, err := decode(fields)
		if err != nil {
			return ibclient.Event{}, err
		}
		if len(events) == 0 {
			continue // unknown message, skip
		}
		t.queue = events[1:]
		return events[0], nil
	}
}

// --- outbound requests ---

// ReqContractDetails encodes reqContractData for the given contract.
func (t *Transport) ReqContractDetails(reqID int64, c ibclient.Contract) error {
	return t.send(
		strconv.Itoa(msgReqContractData),
		"8", // message version
		strconv.FormatInt(reqID, 10),
		"0", // contract id
		c.Symbol,
		c.SecType,
		c.Expiration,
		formatFloat(c.Strike),
		c.Right,
		"", // multiplier
		c.Exchange,
		"", // primary exchange
		c.Currency,
		c.LocalSymbol,
		"", // trading class
		"0", // include expired
		"", // security id type
		"", // security id
	)
}

// ReqSecDefOptParams encodes reqSecDefOptParams for an underlying.
func (t *Transport) ReqSecDefOptParams(reqID int64, symbol, futFopExchange, secType string, contractID int64) error {
	return t.send(
		strconv.Itoa(msgReqSecDefOptParams),
		strconv.FormatInt(reqID, 10),
		symbol,
		futFopExchange,
		secType,
		strconv.FormatInt(contractID, 10),
	)
}

// ReqHistoricalData encodes reqHistoricalData. formatDate is pinned to 1 so
// bar dates come back as "YYYYMMDD HH:MM:SS" strings.
func (t *Transport) ReqHistoricalData(reqID int64, c ibclient.Contract, q ibclient.HistoryQuery) error {
	return t.send(
		strconv.Itoa(msgReqHistoricalData),
		"6", // message version
		strconv.FormatInt(reqID, 10),
		c.Symbol,
		c.SecType,
		c.Expiration,
		formatFloat(c.Strike),
		c.Right,
		"", // multiplier
		c.Exchange,
		"", // primary exchange
		c.Currency,
		c.LocalSymbol,
		"", // trading class
		"0", // include expired
		q.EndTime,
		q.BarSize,
		q.Duration,
		boolField(q.RTHOnly),
		q.DataType,
		"1", // formatDate
	)
}

// --- inbound decode ---

// decode turns one inbound frame into events. An empty slice with a nil
// error means the message type is not one the client consumes.
func decode(fields []string) ([]ibclient.Event, error) {
	f := &fieldReader{fields: fields}
	msgID := f.int()
	if f.err != nil {
		return nil, f.err
	}

	switch msgID {
	case msgNextValidID:
		f.str() // version
		f.int() // order id
		return finish(f, ibclient.Event{Kind: ibclient.KindConnectAck})

	case msgErrMsg:
		f.str() // version
		ev := ibclient.Event{Kind: ibclient.KindError}
		ev.ReqID = f.int()
		ev.Code = f.int()
		ev.Message = f.str()
		return finish(f, ev)

	case msgContractData:
		return decodeContractData(f)

	case msgContractDataEnd:
		f.str() // version
		return finish(f, ibclient.Event{Kind: ibclient.KindContractDetailsEnd, ReqID: f.int()})

	case msgSecDefOptParam:
		return decodeOptParam(f)

	case msgSecDefOptParamEnd:
		return finish(f, ibclient.Event{Kind: ibclient.KindOptionParameterEnd, ReqID: f.int()})

	case msgHistoricalData:
		return decodeHistoricalData(f)
	}
	return nil, nil
}

func finish(f *fieldReader, ev ibclient.Event) ([]ibclient.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []ibclient.Event{ev}, nil
}

func decodeContractData(f *fieldReader) ([]ibclient.Event, error) {
	f.str() // version
	ev := ibclient.Event{Kind: ibclient.KindContractDetails}
	ev.ReqID = f.int()
	d := &ev.Details
	d.Symbol = f.str()
	f.str() // security type
	d.Expiration = f.str()
	d.Strike = f.float()
	d.Right = f.str()
	d.Exchange = f.str()
	f.str() // currency
	d.LocalSymbol = f.str()
	d.Multiplier = f.str()
	d.ContractID = f.int()
	d.LongName = f.str()
	d.Industry = f.str()
	d.Category = f.str()
	d.Subcategory = f.str()
	d.TimeZoneID = f.str()
	d.TradingHours = f.str()
	d.LiquidHours = f.str()
	return finish(f, ev)
}

func decodeOptParam(f *fieldReader) ([]ibclient.Event, error) {
	ev := ibclient.Event{Kind: ibclient.KindOptionParameter}
	ev.ReqID = f.int()
	p := &ev.Param
	p.Exchange = f.str()
	p.UnderlyingContractID = f.int()
	p.TradingClass = f.str()
	p.Multiplier = f.str()
	n := f.int()
	for i := int64(0); i < n && f.err == nil; i++ {
		p.Expirations = append(p.Expirations, f.str())
	}
	n = f.int()
	for i := int64(0); i < n && f.err == nil; i++ {
		p.Strikes = append(p.Strikes, f.float())
	}
	return finish(f, ev)
}

// decodeHistoricalData expands the single wire message into one event per
// bar plus the end event carrying the covered range.
func decodeHistoricalData(f *fieldReader) ([]ibclient.Event, error) {
	f.str() // version
	reqID := f.int()
	start := f.str()
	end := f.str()
	n := f.int()

	events := make([]ibclient.Event, 0, n+1)
	for i := int64(0); i < n && f.err == nil; i++ {
		ev := ibclient.Event{Kind: ibclient.KindHistoricalBar, ReqID: reqID}
		b := &ev.Bar
		b.Date = f.str()
		b.Open = f.float()
		b.High = f.float()
		b.Low = f.float()
		b.Close = f.float()
		b.Volume = f.int()
		b.Average = f.float()
		b.Count = f.int()
		events = append(events, ev)
	}
	if f.err != nil {
		return nil, f.err
	}
	events = append(events, ibclient.Event{
		Kind:       ibclient.KindHistoricalBarEnd,
		ReqID:      reqID,
		RangeStart: start,
		RangeEnd:   end,
	})
	return events, nil
}
