package ibclient

import (
	"fmt"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// accumulator

// accumulator collects the callback rows of one in-flight request and
// releases the waiting caller exactly once, on the end-of-stream marker, on a
// fatal broker error, or when the caller's timeout fires. Rows are appended
// by the receive goroutine while the caller may concurrently snapshot the
// partial table, so all access goes through the mutex.
type accumulator struct {
	rowKind Kind
	endKind Kind
	parse   func(Event) (Row, error)

	mu    sync.Mutex
	table *Table
	err   error

	done     chan struct{}
	doneOnce sync.Once
}

func newAccumulator(rowKind, endKind Kind, table *Table, parse func(Event) (Row, error)) *accumulator {
	return &accumulator{
		rowKind: rowKind,
		endKind: endKind,
		table:   table,
		parse:   parse,
		done:    make(chan struct{}),
	}
}

// handle feeds one routed event into the accumulator. A row event of the
// wrong kind is dropped; an end event of the wrong kind still releases the
// waiter so a confused broker cannot hang the caller. The returned values
// report whether the event was consumed and whether the request is now
// terminal.
func (a *accumulator) handle(ev Event) (accepted, terminal bool) {
	switch {
	case ev.Kind == a.rowKind:
		row, err := a.parse(ev)
		if err != nil {
			a.fail(err)
			return false, true
		}
		a.mu.Lock()
		a.table.AppendRow(row)
		a.mu.Unlock()
		return true, false

	case ev.Kind == a.endKind:
		a.complete()
		return true, true

	case ev.Kind.isEnd():
		a.fail(fmt.Errorf("ibclient: got %s for a %s request", ev.Kind, a.endKind))
		return false, true
	}
	return false, false
}

// complete marks the request finished successfully.
func (a *accumulator) complete() {
	a.doneOnce.Do(func() { close(a.done) })
}

// fail marks the request finished with err. The first terminal transition
// wins; later calls are no-ops.
func (a *accumulator) fail(err error) {
	a.doneOnce.Do(func() {
		a.mu.Lock()
		a.err = err
		a.mu.Unlock()
		close(a.done)
	})
}

// wait blocks until the request is terminal or the timeout fires, then
// returns a snapshot of whatever accumulated. On timeout the snapshot holds
// the partial rows and the error is ErrRequestTimeout.
func (a *accumulator) wait(timeout time.Duration) (*Table, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-a.done:
	case <-timer.C:
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.table.snapshot(), ErrRequestTimeout
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.table.snapshot(), a.err
}

// ---------------------------------------------------------------------------
// response families

// Column sets match what each TWS callback delivers, one response family per
// request method.

func newContractDetailsAccumulator() *accumulator {
	t := NewTable(
		"contract_id", "ticker", "exchange", "long_name", "industry",
		"category", "sub_category", "time_zone_id", "trading_hours",
		"liquid_hours",
	)
	return newAccumulator(KindContractDetails, KindContractDetailsEnd, t, parseContractDetails)
}

func parseContractDetails(ev Event) (Row, error) {
	d := ev.Details
	return Row{Values: []any{
		d.ContractID, d.LocalSymbol, d.Exchange, d.LongName, d.Industry,
		d.Category, d.Subcategory, d.TimeZoneID, d.TradingHours,
		d.LiquidHours,
	}}, nil
}

// newOptionChainAccumulator consumes the same contractDetails callbacks as
// newContractDetailsAccumulator but keeps the option-specific fields; used
// when the request contract is an option pattern matching many contracts.
func newOptionChainAccumulator() *accumulator {
	t := NewTable(
		"contract_id", "option_ticker", "exchange", "expiration", "strike",
		"right", "multiplier",
	)
	return newAccumulator(KindContractDetails, KindContractDetailsEnd, t, parseOptionChainRow)
}

func parseOptionChainRow(ev Event) (Row, error) {
	d := ev.Details
	return Row{Values: []any{
		d.ContractID, d.LocalSymbol, d.Exchange, d.Expiration, d.Strike,
		d.Right, d.Multiplier,
	}}, nil
}

func newOptionParamsAccumulator() *accumulator {
	t := NewTable("exchange", "multiplier", "expirations", "strikes")
	return newAccumulator(KindOptionParameter, KindOptionParameterEnd, t, parseOptionParams)
}

func parseOptionParams(ev Event) (Row, error) {
	p := ev.Param
	return Row{Values: []any{p.Exchange, p.Multiplier, p.Expirations, p.Strikes}}, nil
}

// barTimeLayout is the wire format of historical bar timestamps.
const barTimeLayout = "20060102 15:04:05"

// newHistoryAccumulator picks the column set the requested data type
// delivers. Volatility bars carry no volume; for BID_ASK bars TWS reuses the
// OHLC slots, so the columns are renamed to what the slots actually hold
// (open is the time-average bid, high the max ask, low the min bid, close
// the time-average ask).
func newHistoryAccumulator(dataType string) *accumulator {
	switch dataType {
	case "BID_ASK":
		t := NewTable("average_bid", "max_ask", "min_bid", "average_ask")
		return newAccumulator(KindHistoricalBar, KindHistoricalBarEnd, t, parseBar(false, false))
	case "HISTORICAL_VOLATILITY", "OPTION_IMPLIED_VOLATILITY":
		t := NewTable("open", "high", "low", "close", "count", "average")
		return newAccumulator(KindHistoricalBar, KindHistoricalBarEnd, t, parseBar(false, true))
	default:
		t := NewTable("open", "high", "low", "close", "volume", "count", "average")
		return newAccumulator(KindHistoricalBar, KindHistoricalBarEnd, t, parseBar(true, true))
	}
}

func parseBar(withVolume, withCount bool) func(Event) (Row, error) {
	return func(ev Event) (Row, error) {
		b := ev.Bar
		ts, err := parseBarTime(b.Date)
		if err != nil {
			return Row{}, err
		}
		values := []any{b.Open, b.High, b.Low, b.Close}
		if withVolume {
			values = append(values, b.Volume)
		}
		if withCount {
			values = append(values, b.Count, b.Average)
		}
		return Row{Time: ts, Values: values}, nil
	}
}

func parseBarTime(date string) (time.Time, error) {
	if ts, err := time.Parse(barTimeLayout, date); err == nil {
		return ts, nil
	}
	// Daily bars come back as a bare date.
	ts, err := time.Parse("20060102", date)
	if err != nil {
		return time.Time{}, fmt.Errorf("ibclient: bad bar date %q: %w", date, err)
	}
	return ts, nil
}
