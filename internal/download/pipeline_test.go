package download

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ibflow/internal/futures"
	"ibflow/internal/ibclient"
	"ibflow/internal/store"
)

// fakeRequester serves canned tables for one underlying with a two-contract
// chain.
type fakeRequester struct {
	calls []string
}

func (f *fakeRequester) record(s string) { f.calls = append(f.calls, s) }

func (f *fakeRequester) StockDetails(ticker string, opts ...ibclient.RequestOption) (*ibclient.Table, error) {
	f.record("details/" + ticker)
	t := ibclient.NewTable(
		"contract_id", "ticker", "exchange", "long_name", "industry",
		"category", "sub_category", "time_zone_id", "trading_hours",
		"liquid_hours",
	)
	t.AppendRow(ibclient.Row{Values: []any{
		int64(265598), ticker, "SMART", "APPLE INC", "Technology",
		"Computers", "Computers", "US/Eastern", "0930-1600", "0930-1600",
	}})
	return t, nil
}

func (f *fakeRequester) OptionParams(ticker string, contractID int64) (*ibclient.Table, error) {
	f.record("params/" + ticker)
	t := ibclient.NewTable("exchange", "multiplier", "expirations", "strikes")
	t.AppendRow(ibclient.Row{Values: []any{
		"NYSE", "100", []string{"20240119"}, []float64{180},
	}})
	t.AppendRow(ibclient.Row{Values: []any{
		"SMART", "100", []string{"20240119", "20240216", "20240517"}, []float64{180, 185},
	}})
	return t, nil
}

func (f *fakeRequester) OptionChain(ticker, exchange, expiration string, opts ...ibclient.RequestOption) (*ibclient.Table, error) {
	f.record("chain/" + ticker + "/" + exchange + "/" + expiration)
	t := ibclient.NewTable(
		"contract_id", "option_ticker", "exchange", "expiration", "strike",
		"right", "multiplier",
	)
	t.AppendRow(ibclient.Row{Values: []any{
		int64(1001), "AAPL  240216C00180000", exchange, expiration, 180.0, "C", "100",
	}})
	t.AppendRow(ibclient.Row{Values: []any{
		int64(1002), "AAPL  240216P00185000", exchange, expiration, 185.0, "P", "100",
	}})
	return t, nil
}

func histTable(close float64) *ibclient.Table {
	t := ibclient.NewTable("open", "high", "low", "close", "volume", "count", "average")
	t.AppendRow(ibclient.Row{
		Time:   time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC),
		Values: []any{close, close, close, close, int64(100), int64(10), close},
	})
	return t
}

func (f *fakeRequester) StockTradesHistory(ticker string, opts ...ibclient.RequestOption) (*ibclient.Table, error) {
	f.record("trades/" + ticker)
	return histTable(188), nil
}

func (f *fakeRequester) StockIVHistory(ticker string, opts ...ibclient.RequestOption) (*ibclient.Table, error) {
	f.record("iv/" + ticker)
	return histTable(0.25), nil
}

func (f *fakeRequester) StockHVHistory(ticker string, opts ...ibclient.RequestOption) (*ibclient.Table, error) {
	f.record("hv/" + ticker)
	return histTable(0.22), nil
}

func (f *fakeRequester) OptionBidAskHistory(ticker, expiration string, strike float64, right string, opts ...ibclient.RequestOption) (*ibclient.Table, error) {
	f.record("bidask/" + ticker + "/" + right)
	t := ibclient.NewTable("average_bid", "max_ask", "min_bid", "average_ask")
	t.AppendRow(ibclient.Row{
		Time:   time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC),
		Values: []any{5.10, 5.40, 5.05, 5.30},
	})
	return t, nil
}

func (f *fakeRequester) FuturesTradesHistory(localSymbol, exchange string, opts ...ibclient.RequestOption) (*ibclient.Table, error) {
	f.record("futures/" + localSymbol + "/" + exchange)
	return histTable(5021.25), nil
}

// flakyRequester fails the first N trades-history calls before behaving.
type flakyRequester struct {
	fakeRequester
	failures int
}

func (f *flakyRequester) StockTradesHistory(ticker string, opts ...ibclient.RequestOption) (*ibclient.Table, error) {
	if f.failures > 0 {
		f.failures--
		f.record("trades-fail/" + ticker)
		return nil, errors.New("pacing violation")
	}
	return f.fakeRequester.StockTradesHistory(ticker, opts...)
}

type fakeEarnings struct {
	date time.Time
}

func (f *fakeEarnings) NextEarningsDate(ticker string, now time.Time) (time.Time, error) {
	return f.date, nil
}

func newTestPipeline(t *testing.T, opts Options) (*Pipeline, *fakeRequester, *store.HistoryStore, *store.MetaStore) {
	t.Helper()
	dir := t.TempDir()
	history := store.NewHistoryStore(filepath.Join(dir, "data"))
	meta, err := store.NewMetaStore(filepath.Join(dir, "meta.db"))
	if err != nil {
		t.Fatalf("NewMetaStore: %v", err)
	}
	t.Cleanup(func() { meta.Close() })

	req := &fakeRequester{}
	// Earnings Feb 1: the Feb 16 expiration is the first one after it.
	earnings := &fakeEarnings{date: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}
	opts.RateLimitPerMin = 100000 // keep tests fast
	p := New(req, history, meta, earnings, opts)
	return p, req, history, meta
}

func TestPipelineRun(t *testing.T) {
	p, req, history, meta := newTestPipeline(t, Options{})
	ctx := context.Background()

	if err := p.Run(ctx, []string{"AAPL"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Equity history landed in all three collections.
	for _, collection := range []string{"trades-30m", "impliedvol-30m", "historicalvol-30m"} {
		records, err := history.Read(collection, "AAPL")
		if err != nil {
			t.Fatalf("Read %s: %v", collection, err)
		}
		if len(records) != 1 {
			t.Errorf("%s records = %d, want 1", collection, len(records))
		}
	}

	// Chain selection: SMART row, first expiration after Feb 1 earnings.
	found := false
	for _, call := range req.calls {
		if call == "chain/AAPL/SMART/20240216" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected chain request for SMART/20240216, calls: %v", req.calls)
	}

	// Both chain contracts got bid/ask history.
	items, err := history.ListItems("option-bidask-30m")
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("bid/ask items = %v, want 2", items)
	}

	// Metadata was persisted.
	detail, err := meta.GetStockDetail(ctx, "AAPL")
	if err != nil || detail == nil {
		t.Fatalf("GetStockDetail = %+v, %v", detail, err)
	}
	contracts, err := meta.ListOptionContracts(ctx, "AAPL", "20240216")
	if err != nil {
		t.Fatalf("ListOptionContracts: %v", err)
	}
	if len(contracts) != 2 {
		t.Errorf("stored contracts = %d, want 2", len(contracts))
	}
}

func TestPipelineExplicitExpiration(t *testing.T) {
	p, req, _, _ := newTestPipeline(t, Options{Expiration: "20240119"})

	if err := p.Run(context.Background(), []string{"AAPL"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	found := false
	for _, call := range req.calls {
		if call == "chain/AAPL/SMART/20240119" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected chain request for explicit 20240119, calls: %v", req.calls)
	}
}

// Transient request failures are retried with backoff; persistent ones give
// up after the attempt budget.
func TestPipelineRetriesTransientFailures(t *testing.T) {
	dir := t.TempDir()
	history := store.NewHistoryStore(filepath.Join(dir, "data"))
	meta, err := store.NewMetaStore(filepath.Join(dir, "meta.db"))
	if err != nil {
		t.Fatalf("NewMetaStore: %v", err)
	}
	t.Cleanup(func() { meta.Close() })

	req := &flakyRequester{failures: 2}
	earnings := &fakeEarnings{date: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}
	p := New(req, history, meta, earnings, Options{RateLimitPerMin: 100000})
	p.retryDelay = 0

	if err := p.Run(context.Background(), []string{"AAPL"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	records, err := history.Read("trades-30m", "AAPL")
	if err != nil || len(records) != 1 {
		t.Fatalf("trades after retries = %d records, %v; want 1", len(records), err)
	}
	fails := 0
	for _, call := range req.calls {
		if call == "trades-fail/AAPL" {
			fails++
		}
	}
	if fails != 2 {
		t.Errorf("failed attempts = %d, want 2", fails)
	}
}

func TestPipelineGivesUpAfterRetryBudget(t *testing.T) {
	dir := t.TempDir()
	history := store.NewHistoryStore(filepath.Join(dir, "data"))
	meta, err := store.NewMetaStore(filepath.Join(dir, "meta.db"))
	if err != nil {
		t.Fatalf("NewMetaStore: %v", err)
	}
	t.Cleanup(func() { meta.Close() })

	req := &flakyRequester{failures: 10}
	p := New(req, history, meta, nil, Options{Expiration: "20240119", RateLimitPerMin: 100000})
	p.retryDelay = 0

	// The ticker fails but Run carries on.
	if err := p.Run(context.Background(), []string{"AAPL"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if records, _ := history.Read("trades-30m", "AAPL"); len(records) != 0 {
		t.Errorf("trades stored despite persistent failure: %d records", len(records))
	}
	if got := 10 - req.failures; got != retryAttempts {
		t.Errorf("attempts = %d, want %d", got, retryAttempts)
	}
}

func TestPipelineRunFutures(t *testing.T) {
	p, req, history, _ := newTestPipeline(t, Options{})
	p.now = func() time.Time { return time.Date(2024, 2, 5, 12, 0, 0, 0, time.UTC) }

	basket := futures.IndexBasket()
	reqs := basket.Requests(p.now(), nil)
	if err := p.RunFutures(context.Background(), reqs); err != nil {
		t.Fatalf("RunFutures: %v", err)
	}

	items, err := history.ListItems("futures-trades-30m")
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("futures items = %v, want 3", items)
	}
	found := false
	for _, call := range req.calls {
		if call == "futures/ESH4/GLOBEX" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected ESH4 request, calls: %v", req.calls)
	}
}

func TestChooseExpiration(t *testing.T) {
	listed := []string{"20240119", "20240216", "20240517"}
	earnings := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	got, err := chooseExpiration(listed, "", earnings)
	if err != nil {
		t.Fatalf("chooseExpiration: %v", err)
	}
	if got != "20240216" {
		t.Errorf("expiration = %s, want 20240216 (first after earnings)", got)
	}

	// Explicit expiration must be listed.
	if _, err := chooseExpiration(listed, "20240301", earnings); err == nil {
		t.Error("unlisted explicit expiration should error")
	}
	got, err = chooseExpiration(listed, "20240517", earnings)
	if err != nil || got != "20240517" {
		t.Errorf("explicit = %s, %v", got, err)
	}

	// No earnings date: front expiration.
	got, err = chooseExpiration(listed, "", time.Time{})
	if err != nil || got != "20240119" {
		t.Errorf("front = %s, %v", got, err)
	}

	// Earnings after every listed expiration.
	late := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	if _, err := chooseExpiration(listed, "", late); err == nil {
		t.Error("earnings past all expirations should error")
	}
}

func TestMergeTickers(t *testing.T) {
	got := MergeTickers([]string{"aapl", "MSFT"}, []string{"AAPL", " tsla "})
	want := []string{"AAPL", "MSFT", "TSLA"}
	if len(got) != len(want) {
		t.Fatalf("MergeTickers = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("MergeTickers = %v, want %v", got, want)
		}
	}
}

func TestCollectionSuffix(t *testing.T) {
	cases := map[string]string{
		"30 mins": "30m",
		"1 min":   "1m",
		"1 hour":  "1h",
		"1 day":   "1d",
		"30 secs": "30s",
	}
	for in, want := range cases {
		if got := CollectionSuffix(in); got != want {
			t.Errorf("CollectionSuffix(%q) = %q, want %q", in, got, want)
		}
	}
}
