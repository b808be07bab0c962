package ibclient

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultRequestTimeout = 60 * time.Second
)

// Config tunes client behavior. Zero values fall back to defaults.
type Config struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	// EndTime supplies the default end time for history queries when the
	// caller does not pass WithEndTime, formatted "YYYYMMDD HH:MM:SS".
	// Defaults to the current wall clock.
	EndTime func() string
}

// Client is the synchronous face of the TWS API. One request method call maps
// to one outbound request; the call blocks until the response stream for that
// request id completes, fails, or times out. Methods are safe for concurrent
// use; a single receive goroutine does all inbound dispatch.
type Client struct {
	transport Transport
	log       *slog.Logger

	connectTimeout time.Duration
	requestTimeout time.Duration
	endTime        func() string

	mu        sync.Mutex
	connected bool
	pending   *pendingTable

	ackOnce  sync.Once
	ack      chan struct{}
	recvDone chan struct{}
}

// NewClient wraps a transport. A nil logger means slog.Default.
func NewClient(t Transport, cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		transport:      t,
		log:            log.With("component", "ibclient"),
		connectTimeout: cfg.ConnectTimeout,
		requestTimeout: cfg.RequestTimeout,
		endTime:        cfg.EndTime,
	}
	if c.connectTimeout <= 0 {
		c.connectTimeout = DefaultConnectTimeout
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = DefaultRequestTimeout
	}
	if c.endTime == nil {
		c.endTime = func() string { return time.Now().Format(barTimeLayout) }
	}
	return c
}

// ---------------------------------------------------------------------------
// lifecycle

// Connect dials TWS/Gateway, starts the receive goroutine and blocks until
// the connection acknowledgement arrives or the connect timeout fires. A
// failed handshake leaves the receive goroutine owning the session; call
// Disconnect before connecting again.
func (c *Client) Connect(host string, port int, clientID int64) error {
	c.mu.Lock()
	// recvDone tracks the session lifecycle, not the handshake: a Connect
	// that timed out waiting for the ack still holds it.
	if c.recvDone != nil {
		c.mu.Unlock()
		return fmt.Errorf("ibclient: connection already open; Disconnect first")
	}
	if err := c.transport.Dial(host, port, clientID); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("dial %s:%d: %w", host, port, err)
	}
	c.pending = newPendingTable(0)
	c.ackOnce = sync.Once{}
	c.ack = make(chan struct{})
	c.recvDone = make(chan struct{})
	go c.recvLoop()
	c.mu.Unlock()

	timer := time.NewTimer(c.connectTimeout)
	defer timer.Stop()
	select {
	case <-c.ack:
	case <-c.recvDone:
		return fmt.Errorf("ibclient: transport closed during connect")
	case <-timer.C:
		return ErrConnectTimeout
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.log.Info("connected", "host", host, "port", port, "client_id", clientID)
	return nil
}

// Disconnect closes the transport and waits for the receive goroutine to
// drain. Pending requests are released with ErrNotConnected. Safe to call
// more than once.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.recvDone == nil {
		c.mu.Unlock()
		return nil
	}
	done := c.recvDone
	c.connected = false
	c.mu.Unlock()

	err := c.transport.Close()
	<-done

	c.mu.Lock()
	c.recvDone = nil
	c.mu.Unlock()
	return err
}

// recvLoop is the single inbound goroutine: it reads transport events until
// the transport closes and routes each to its accumulator.
func (c *Client) recvLoop() {
	defer close(c.recvDone)
	for {
		ev, err := c.transport.Recv()
		if err != nil {
			c.mu.Lock()
			wasConnected := c.connected
			c.connected = false
			pending := c.pending
			c.mu.Unlock()
			if wasConnected {
				c.log.Warn("transport closed", "error", err)
			}
			pending.failAll(ErrNotConnected)
			return
		}
		c.dispatch(ev)
	}
}

func (c *Client) dispatch(ev Event) {
	switch ev.Kind {
	case KindConnectAck:
		c.ackOnce.Do(func() { close(c.ack) })
		return

	case KindError:
		if !fatalCode(ev.Code) {
			c.log.Info("tws notice", "req_id", ev.ReqID, "code", ev.Code, "message", ev.Message)
			return
		}
		acc := c.pending.get(ev.ReqID)
		if acc == nil {
			c.log.Warn("tws error for unknown request", "req_id", ev.ReqID, "code", ev.Code, "message", ev.Message)
			return
		}
		// The broker aborted the stream. Release the waiter with whatever
		// accumulated; the condition lives in the log, not the return value.
		c.log.Error("tws error", "req_id", ev.ReqID, "code", ev.Code, "message", ev.Message)
		acc.complete()
		c.pending.remove(ev.ReqID)
		return
	}

	acc := c.pending.get(ev.ReqID)
	if acc == nil {
		c.log.Debug("event for unknown request", "kind", ev.Kind.String(), "req_id", ev.ReqID)
		return
	}
	accepted, terminal := acc.handle(ev)
	if !accepted && !terminal {
		c.log.Warn("dropped mismatched event", "kind", ev.Kind.String(), "req_id", ev.ReqID)
	}
	if terminal {
		c.pending.remove(ev.ReqID)
	}
}

// roundTrip registers the accumulator, sends the request and waits. The
// pending entry is removed on every exit path so late events cannot land on
// a finished request.
func (c *Client) roundTrip(acc *accumulator, send func(reqID int64) error) (*Table, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	pending := c.pending
	c.mu.Unlock()

	id := pending.add(acc)
	// Re-check after the insert: connected is cleared before the disconnect
	// sweep, so either the sweep saw this entry or we see the cleared flag.
	c.mu.Lock()
	alive := c.connected
	c.mu.Unlock()
	if !alive {
		pending.remove(id)
		return nil, ErrNotConnected
	}
	if err := send(id); err != nil {
		pending.remove(id)
		return nil, fmt.Errorf("send request %d: %w", id, err)
	}
	table, err := acc.wait(c.requestTimeout)
	pending.remove(id)
	return table, err
}

// ---------------------------------------------------------------------------
// request options

type reqOptions struct {
	exchange   string
	currency   string
	duration   string
	barSize    string
	endTime    string
	afterHours bool
}

// RequestOption adjusts a single request. Defaults: SMART routing, USD, a
// "5 d" window of "30 mins" bars ending at the client's default end time,
// regular trading hours only.
type RequestOption func(*reqOptions)

func (c *Client) options(opts []RequestOption) reqOptions {
	o := reqOptions{
		exchange: "SMART",
		currency: "USD",
		duration: "5 d",
		barSize:  "30 mins",
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.endTime == "" {
		o.endTime = c.endTime()
	}
	return o
}

func WithExchange(exchange string) RequestOption {
	return func(o *reqOptions) { o.exchange = exchange }
}

func WithCurrency(currency string) RequestOption {
	return func(o *reqOptions) { o.currency = currency }
}

// WithDuration sets the history window, e.g. "10 d" or "1 y".
func WithDuration(duration string) RequestOption {
	return func(o *reqOptions) { o.duration = duration }
}

// WithBarSize sets the history bar size, one of BarSizes.
func WithBarSize(barSize string) RequestOption {
	return func(o *reqOptions) { o.barSize = barSize }
}

// WithEndTime sets the latest bar to return, "YYYYMMDD HH:MM:SS".
func WithEndTime(endTime string) RequestOption {
	return func(o *reqOptions) { o.endTime = endTime }
}

// WithAfterHours includes bars outside regular trading hours.
func WithAfterHours() RequestOption {
	return func(o *reqOptions) { o.afterHours = true }
}

// ---------------------------------------------------------------------------
// request families

// StockDetails returns the contract-details rows matching a stock ticker.
func (c *Client) StockDetails(ticker string, opts ...RequestOption) (*Table, error) {
	o := c.options(opts)
	contract := StockContract(ticker, o.exchange, o.currency)
	return c.roundTrip(newContractDetailsAccumulator(), func(id int64) error {
		return c.transport.ReqContractDetails(id, contract)
	})
}

// OptionParams returns the option expirations and strikes each exchange
// lists for the underlying identified by ticker and contractID.
func (c *Client) OptionParams(ticker string, contractID int64) (*Table, error) {
	return c.roundTrip(newOptionParamsAccumulator(), func(id int64) error {
		return c.transport.ReqSecDefOptParams(id, ticker, "", "STK", contractID)
	})
}

// OptionChain returns one row per listed option contract on ticker for the
// given expiration (YYYYMMDD).
func (c *Client) OptionChain(ticker, exchange, expiration string, opts ...RequestOption) (*Table, error) {
	o := c.options(opts)
	contract := Contract{
		SecType:    "OPT",
		Symbol:     ticker,
		Exchange:   exchange,
		Currency:   o.currency,
		Expiration: expiration,
	}
	return c.roundTrip(newOptionChainAccumulator(), func(id int64) error {
		return c.transport.ReqContractDetails(id, contract)
	})
}

// StockTradesHistory returns TRADES bars for a stock, keyed by bar time.
func (c *Client) StockTradesHistory(ticker string, opts ...RequestOption) (*Table, error) {
	o := c.options(opts)
	return c.history(StockContract(ticker, o.exchange, o.currency), "TRADES", o)
}

// StockIVHistory returns implied-volatility bars for a stock.
func (c *Client) StockIVHistory(ticker string, opts ...RequestOption) (*Table, error) {
	o := c.options(opts)
	return c.history(StockContract(ticker, o.exchange, o.currency), "OPTION_IMPLIED_VOLATILITY", o)
}

// StockHVHistory returns historical-volatility bars for a stock.
func (c *Client) StockHVHistory(ticker string, opts ...RequestOption) (*Table, error) {
	o := c.options(opts)
	return c.history(StockContract(ticker, o.exchange, o.currency), "HISTORICAL_VOLATILITY", o)
}

// OptionTradesHistory returns TRADES bars for a single options contract.
func (c *Client) OptionTradesHistory(ticker, expiration string, strike float64, right string, opts ...RequestOption) (*Table, error) {
	o := c.options(opts)
	contract, err := OptionContract(ticker, expiration, strike, right, o.exchange, o.currency)
	if err != nil {
		return nil, err
	}
	return c.history(contract, "TRADES", o)
}

// OptionBidAskHistory returns BID_ASK bars for a single options contract,
// with the bid/ask aggregate columns.
func (c *Client) OptionBidAskHistory(ticker, expiration string, strike float64, right string, opts ...RequestOption) (*Table, error) {
	o := c.options(opts)
	contract, err := OptionContract(ticker, expiration, strike, right, o.exchange, o.currency)
	if err != nil {
		return nil, err
	}
	return c.history(contract, "BID_ASK", o)
}

// FuturesTradesHistory returns TRADES bars for a futures contract identified
// by local symbol, e.g. "ESZ5" on GLOBEX.
func (c *Client) FuturesTradesHistory(localSymbol, exchange string, opts ...RequestOption) (*Table, error) {
	o := c.options(opts)
	return c.history(FuturesContract(localSymbol, exchange), "TRADES", o)
}

// history validates the query before any transport traffic, then runs the
// round trip with the data-type specific accumulator.
func (c *Client) history(contract Contract, dataType string, o reqOptions) (*Table, error) {
	q := HistoryQuery{
		EndTime:  o.endTime,
		Duration: o.duration,
		BarSize:  o.barSize,
		DataType: dataType,
		RTHOnly:  !o.afterHours,
	}
	if err := q.validate(); err != nil {
		return nil, err
	}
	return c.roundTrip(newHistoryAccumulator(dataType), func(id int64) error {
		return c.transport.ReqHistoricalData(id, contract, q)
	})
}
