package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"ibflow/internal/ibclient"
)

// MetaStore keeps contract metadata in SQLite: the stock details and option
// chains resolved during a download run, so later runs (and ad-hoc queries)
// can find what was fetched without hitting the gateway.
type MetaStore struct {
	db *sql.DB
}

const metaSchema = `
CREATE TABLE IF NOT EXISTS stock_details (
	ticker        TEXT PRIMARY KEY,
	contract_id   INTEGER NOT NULL,
	exchange      TEXT NOT NULL,
	long_name     TEXT,
	industry      TEXT,
	category      TEXT,
	sub_category  TEXT,
	time_zone_id  TEXT,
	trading_hours TEXT,
	liquid_hours  TEXT,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS option_contracts (
	contract_id   INTEGER PRIMARY KEY,
	underlying    TEXT NOT NULL,
	option_ticker TEXT NOT NULL,
	exchange      TEXT NOT NULL,
	expiration    TEXT NOT NULL,
	strike        REAL NOT NULL,
	"right"       TEXT NOT NULL,
	multiplier    TEXT,
	updated_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_option_contracts_underlying
	ON option_contracts (underlying, expiration);
`

// NewMetaStore opens (or creates) the SQLite database at dbPath and ensures
// the schema exists.
func NewMetaStore(dbPath string) (*MetaStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(metaSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &MetaStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *MetaStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Stock details
// ---------------------------------------------------------------------------

// StockDetail is one row of resolved stock contract metadata.
type StockDetail struct {
	Ticker       string
	ContractID   int64
	Exchange     string
	LongName     string
	Industry     string
	Category     string
	SubCategory  string
	TimeZoneID   string
	TradingHours string
	LiquidHours  string
}

// SaveStockDetails upserts the rows of a stock contract-details table.
func (s *MetaStore) SaveStockDetails(ctx context.Context, t *ibclient.Table) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for i := 0; i < t.Len(); i++ {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO stock_details
				(ticker, contract_id, exchange, long_name, industry, category,
				 sub_category, time_zone_id, trading_hours, liquid_hours, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(ticker) DO UPDATE SET
				contract_id = excluded.contract_id,
				exchange = excluded.exchange,
				long_name = excluded.long_name,
				industry = excluded.industry,
				category = excluded.category,
				sub_category = excluded.sub_category,
				time_zone_id = excluded.time_zone_id,
				trading_hours = excluded.trading_hours,
				liquid_hours = excluded.liquid_hours,
				updated_at = excluded.updated_at`,
			t.Str(i, "ticker"), t.Int(i, "contract_id"), t.Str(i, "exchange"),
			t.Str(i, "long_name"), t.Str(i, "industry"), t.Str(i, "category"),
			t.Str(i, "sub_category"), t.Str(i, "time_zone_id"),
			t.Str(i, "trading_hours"), t.Str(i, "liquid_hours"), now)
		if err != nil {
			return fmt.Errorf("saving stock details for %s: %w", t.Str(i, "ticker"), err)
		}
	}
	return nil
}

// GetStockDetail returns the stored metadata for a ticker, or nil when the
// ticker has never been resolved.
func (s *MetaStore) GetStockDetail(ctx context.Context, ticker string) (*StockDetail, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ticker, contract_id, exchange, long_name, industry, category,
		       sub_category, time_zone_id, trading_hours, liquid_hours
		FROM stock_details WHERE ticker = ?`, ticker)

	var d StockDetail
	err := row.Scan(&d.Ticker, &d.ContractID, &d.Exchange, &d.LongName,
		&d.Industry, &d.Category, &d.SubCategory, &d.TimeZoneID,
		&d.TradingHours, &d.LiquidHours)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ---------------------------------------------------------------------------
// Option contracts
// ---------------------------------------------------------------------------

// OptionContract is one row of resolved option chain metadata.
type OptionContract struct {
	ContractID   int64
	Underlying   string
	OptionTicker string
	Exchange     string
	Expiration   string
	Strike       float64
	Right        string
	Multiplier   string
}

// SaveOptionChain upserts the rows of an option-chain table under the given
// underlying ticker.
func (s *MetaStore) SaveOptionChain(ctx context.Context, underlying string, t *ibclient.Table) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for i := 0; i < t.Len(); i++ {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO option_contracts
				(contract_id, underlying, option_ticker, exchange, expiration,
				 strike, "right", multiplier, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(contract_id) DO UPDATE SET
				underlying = excluded.underlying,
				option_ticker = excluded.option_ticker,
				exchange = excluded.exchange,
				expiration = excluded.expiration,
				strike = excluded.strike,
				"right" = excluded."right",
				multiplier = excluded.multiplier,
				updated_at = excluded.updated_at`,
			t.Int(i, "contract_id"), underlying, t.Str(i, "option_ticker"),
			t.Str(i, "exchange"), t.Str(i, "expiration"), t.Float(i, "strike"),
			t.Str(i, "right"), t.Str(i, "multiplier"), now)
		if err != nil {
			return fmt.Errorf("saving option contract %d: %w", t.Int(i, "contract_id"), err)
		}
	}
	return nil
}

// ListOptionContracts returns the stored chain for an underlying, optionally
// restricted to one expiration (pass "" for all), ordered by expiration,
// strike and right.
func (s *MetaStore) ListOptionContracts(ctx context.Context, underlying, expiration string) ([]OptionContract, error) {
	query := `
		SELECT contract_id, underlying, option_ticker, exchange, expiration,
		       strike, "right", multiplier
		FROM option_contracts WHERE underlying = ?`
	args := []any{underlying}
	if expiration != "" {
		query += ` AND expiration = ?`
		args = append(args, expiration)
	}
	query += ` ORDER BY expiration, strike, "right"`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contracts []OptionContract
	for rows.Next() {
		var c OptionContract
		if err := rows.Scan(&c.ContractID, &c.Underlying, &c.OptionTicker,
			&c.Exchange, &c.Expiration, &c.Strike, &c.Right, &c.Multiplier); err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}
