package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"ibflow/internal/ibclient"
)

func ms(t time.Time) int64 { return t.UnixMilli() }

func TestHistoryStoreItemPath(t *testing.T) {
	s := NewHistoryStore("/data")

	got := s.itemPath("trades-30m", "aapl")
	want := filepath.Join("/data", "trades-30m", "AAPL.parquet")
	if got != want {
		t.Errorf("itemPath mismatch:\n  got  %s\n  want %s", got, want)
	}

	// Option local symbols carry padding spaces.
	got = s.itemPath("option-bidask-30m", "AAPL  240119C00180000")
	want = filepath.Join("/data", "option-bidask-30m", "AAPL240119C00180000.parquet")
	if got != want {
		t.Errorf("itemPath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestHistoryStoreAppendRead(t *testing.T) {
	s := NewHistoryStore(t.TempDir())

	records := []BarRecord{
		{Timestamp: ms(time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)), Open: 185.0, High: 186.5, Low: 184.0, Close: 185.5, Volume: 1000, Count: 50, Average: 185.2},
		{Timestamp: ms(time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)), Open: 185.5, High: 187.0, Low: 185.0, Close: 186.0, Volume: 900, Count: 40, Average: 185.8},
	}
	if err := s.Append("trades-30m", "AAPL", records); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := s.Read("trades-30m", "AAPL")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Read returned %d records, want 2", len(got))
	}
	if got[0].Close != 185.5 || got[1].Close != 186.0 {
		t.Errorf("closes = %v, %v", got[0].Close, got[1].Close)
	}
}

func TestHistoryStoreAppendMergesAndDedupes(t *testing.T) {
	s := NewHistoryStore(t.TempDir())
	t0 := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	t1 := t0.Add(30 * time.Minute)

	first := []BarRecord{{Timestamp: ms(t0), Close: 400.0}}
	if err := s.Append("trades-30m", "MSFT", first); err != nil {
		t.Fatalf("Append (first): %v", err)
	}

	// Overlapping window: t0 again with corrected data, plus a new bar.
	second := []BarRecord{
		{Timestamp: ms(t0), Close: 401.0},
		{Timestamp: ms(t1), Close: 403.0},
	}
	if err := s.Append("trades-30m", "MSFT", second); err != nil {
		t.Fatalf("Append (second): %v", err)
	}

	got, err := s.Read("trades-30m", "MSFT")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Read returned %d records after merge, want 2", len(got))
	}
	// Incoming wins over existing on equal timestamps.
	if got[0].Close != 401.0 {
		t.Errorf("first close = %v, want 401.0 (re-download wins)", got[0].Close)
	}
	if got[1].Close != 403.0 {
		t.Errorf("second close = %v, want 403.0", got[1].Close)
	}
}

func TestHistoryStoreReadMissing(t *testing.T) {
	s := NewHistoryStore(t.TempDir())
	got, err := s.Read("trades-30m", "NOPE")
	if err != nil {
		t.Fatalf("Read missing item: %v", err)
	}
	if got != nil {
		t.Errorf("Read missing item = %v, want nil", got)
	}
}

func TestHistoryStoreListItems(t *testing.T) {
	s := NewHistoryStore(t.TempDir())
	ts := ms(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	for _, item := range []string{"MSFT", "AAPL"} {
		if err := s.Append("trades-30m", item, []BarRecord{{Timestamp: ts}}); err != nil {
			t.Fatalf("Append %s: %v", item, err)
		}
	}

	items, err := s.ListItems("trades-30m")
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 2 || items[0] != "AAPL" || items[1] != "MSFT" {
		t.Errorf("ListItems = %v, want [AAPL MSFT]", items)
	}

	collections, err := s.ListCollections()
	if err != nil {
		t.Fatalf("ListCollections: %v", err)
	}
	if len(collections) != 1 || collections[0] != "trades-30m" {
		t.Errorf("ListCollections = %v, want [trades-30m]", collections)
	}
}

func TestBarsFromTable(t *testing.T) {
	table := ibclient.NewTable("open", "high", "low", "close", "volume", "count", "average")
	ts := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	table.AppendRow(ibclient.Row{Time: ts, Values: []any{
		185.0, 186.5, 184.0, 185.5, int64(1000), int64(50), 185.2,
	}})

	records := BarsFromTable(table)
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	r := records[0]
	if r.Timestamp != ts.UnixMilli() {
		t.Errorf("timestamp = %d, want %d", r.Timestamp, ts.UnixMilli())
	}
	if r.Open != 185.0 || r.Close != 185.5 || r.Volume != 1000 || r.Average != 185.2 {
		t.Errorf("record = %+v", r)
	}
}

func TestBarsFromTableBidAskAliases(t *testing.T) {
	table := ibclient.NewTable("average_bid", "max_ask", "min_bid", "average_ask")
	ts := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	table.AppendRow(ibclient.Row{Time: ts, Values: []any{5.10, 5.40, 5.05, 5.30}})

	records := BarsFromTable(table)
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	r := records[0]
	if r.Open != 5.10 || r.High != 5.40 || r.Low != 5.05 || r.Close != 5.30 {
		t.Errorf("record = %+v", r)
	}
	if r.Volume != 0 || r.Count != 0 {
		t.Errorf("volume/count should be zero for bid/ask bars: %+v", r)
	}
}

func TestMetaStoreStockDetails(t *testing.T) {
	s, err := NewMetaStore(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("NewMetaStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	table := ibclient.NewTable(
		"contract_id", "ticker", "exchange", "long_name", "industry",
		"category", "sub_category", "time_zone_id", "trading_hours",
		"liquid_hours",
	)
	table.AppendRow(ibclient.Row{Values: []any{
		int64(265598), "AAPL", "SMART", "APPLE INC", "Technology",
		"Computers", "Computers", "US/Eastern", "0930-1600", "0930-1600",
	}})
	if err := s.SaveStockDetails(ctx, table); err != nil {
		t.Fatalf("SaveStockDetails: %v", err)
	}

	d, err := s.GetStockDetail(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetStockDetail: %v", err)
	}
	if d == nil {
		t.Fatal("GetStockDetail returned nil for saved ticker")
	}
	if d.ContractID != 265598 || d.LongName != "APPLE INC" {
		t.Errorf("detail = %+v", d)
	}

	// Upsert: save again with a changed name.
	table2 := ibclient.NewTable("contract_id", "ticker", "exchange", "long_name")
	table2.AppendRow(ibclient.Row{Values: []any{int64(265598), "AAPL", "SMART", "APPLE INC."}})
	if err := s.SaveStockDetails(ctx, table2); err != nil {
		t.Fatalf("SaveStockDetails (upsert): %v", err)
	}
	d, err = s.GetStockDetail(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetStockDetail (after upsert): %v", err)
	}
	if d.LongName != "APPLE INC." {
		t.Errorf("long name after upsert = %q", d.LongName)
	}

	missing, err := s.GetStockDetail(ctx, "ZZZZ")
	if err != nil {
		t.Fatalf("GetStockDetail (missing): %v", err)
	}
	if missing != nil {
		t.Errorf("missing ticker = %+v, want nil", missing)
	}
}

func TestMetaStoreOptionChain(t *testing.T) {
	s, err := NewMetaStore(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("NewMetaStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	table := ibclient.NewTable(
		"contract_id", "option_ticker", "exchange", "expiration", "strike",
		"right", "multiplier",
	)
	table.AppendRow(ibclient.Row{Values: []any{
		int64(1001), "AAPL  240119C00185000", "SMART", "20240119", 185.0, "C", "100",
	}})
	table.AppendRow(ibclient.Row{Values: []any{
		int64(1002), "AAPL  240119P00180000", "SMART", "20240119", 180.0, "P", "100",
	}})
	table.AppendRow(ibclient.Row{Values: []any{
		int64(1003), "AAPL  240216C00185000", "SMART", "20240216", 185.0, "C", "100",
	}})
	if err := s.SaveOptionChain(ctx, "AAPL", table); err != nil {
		t.Fatalf("SaveOptionChain: %v", err)
	}

	all, err := s.ListOptionContracts(ctx, "AAPL", "")
	if err != nil {
		t.Fatalf("ListOptionContracts: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all contracts = %d, want 3", len(all))
	}

	jan, err := s.ListOptionContracts(ctx, "AAPL", "20240119")
	if err != nil {
		t.Fatalf("ListOptionContracts (filtered): %v", err)
	}
	if len(jan) != 2 {
		t.Fatalf("January contracts = %d, want 2", len(jan))
	}
	// Ordered by strike within the expiration.
	if jan[0].Strike != 180.0 || jan[1].Strike != 185.0 {
		t.Errorf("strikes = %v, %v", jan[0].Strike, jan[1].Strike)
	}
}
