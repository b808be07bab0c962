// Package download orchestrates full data pulls: per ticker it resolves the
// stock contract, downloads equity and volatility history, walks the option
// chain around the next earnings date and downloads per-contract bid/ask
// history, persisting everything through the store package.
package download

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ibflow/internal/futures"
	"ibflow/internal/ibclient"
	"ibflow/internal/store"
	"ibflow/internal/util"
)

// Requester is the slice of the client API the pipeline consumes.
type Requester interface {
	StockDetails(ticker string, opts ...ibclient.RequestOption) (*ibclient.Table, error)
	OptionParams(ticker string, contractID int64) (*ibclient.Table, error)
	OptionChain(ticker, exchange, expiration string, opts ...ibclient.RequestOption) (*ibclient.Table, error)
	StockTradesHistory(ticker string, opts ...ibclient.RequestOption) (*ibclient.Table, error)
	StockIVHistory(ticker string, opts ...ibclient.RequestOption) (*ibclient.Table, error)
	StockHVHistory(ticker string, opts ...ibclient.RequestOption) (*ibclient.Table, error)
	OptionBidAskHistory(ticker, expiration string, strike float64, right string, opts ...ibclient.RequestOption) (*ibclient.Table, error)
	FuturesTradesHistory(localSymbol, exchange string, opts ...ibclient.RequestOption) (*ibclient.Table, error)
}

var _ Requester = (*ibclient.Client)(nil)

// EarningsEstimator supplies next-earnings dates; nil dates (zero time) mean
// unknown.
type EarningsEstimator interface {
	NextEarningsDate(ticker string, now time.Time) (time.Time, error)
}

// Options tune a pipeline run.
type Options struct {
	Exchange   string // routing exchange for stock requests (default SMART)
	BarSize    string // e.g. "30 mins"
	Duration   string // e.g. "5 d"
	AfterHours bool
	Expiration string // explicit option expiration; "" derives it from earnings

	RateLimitPerMin int // TWS pacing budget
	MaxWorkers      int // concurrent earnings lookups
}

// retryAttempts and retryDelay govern transient gateway failures (pacing
// violations, request timeouts): each request gets a few tries with backoff
// before its ticker is given up on.
const (
	retryAttempts = 3
	retryDelay    = 2 * time.Second
)

// Pipeline wires the client, the stores and the earnings estimator together.
type Pipeline struct {
	req      Requester
	history  *store.HistoryStore
	meta     *store.MetaStore
	earnings EarningsEstimator
	rate     *util.RateLimiter
	opts     Options
	log      *slog.Logger

	now        func() time.Time
	retryDelay time.Duration
}

// New creates a pipeline. earnings may be nil when Options.Expiration is
// set.
func New(req Requester, history *store.HistoryStore, meta *store.MetaStore, earnings EarningsEstimator, opts Options) *Pipeline {
	if opts.Exchange == "" {
		opts.Exchange = "SMART"
	}
	if opts.BarSize == "" {
		opts.BarSize = "30 mins"
	}
	if opts.Duration == "" {
		opts.Duration = "5 d"
	}
	if opts.RateLimitPerMin <= 0 {
		opts.RateLimitPerMin = 30
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}
	return &Pipeline{
		req:      req,
		history:  history,
		meta:     meta,
		earnings: earnings,
		rate:     util.NewRateLimiter(opts.RateLimitPerMin),
		opts:     opts,
		log:      slog.Default().With("component", "download"),
		now:      time.Now,

		retryDelay: retryDelay,
	}
}

// fetch paces and retries one gateway request. Each attempt takes a rate
// token so retries do not dodge the pacing budget.
func (p *Pipeline) fetch(ctx context.Context, fn func() (*ibclient.Table, error)) (*ibclient.Table, error) {
	var table *ibclient.Table
	err := util.Retry(ctx, retryAttempts, p.retryDelay, func() error {
		if err := p.rate.Wait(ctx); err != nil {
			return err
		}
		var ferr error
		table, ferr = fn()
		return ferr
	})
	return table, err
}

// CollectionSuffix compresses a bar size into a collection name segment:
// "30 mins" -> "30m", "1 hour" -> "1h", "1 day" -> "1d".
func CollectionSuffix(barSize string) string {
	// Plural forms first so "mins" does not leave a stray "s".
	replacer := strings.NewReplacer(
		"secs", "s", "sec", "s",
		"mins", "m", "min", "m",
		"hours", "h", "hour", "h",
		"days", "d", "day", "d",
		" ", "",
	)
	return replacer.Replace(barSize)
}

// Run downloads everything for the given tickers. Per-ticker failures are
// logged and skipped; Run returns an error only when the context dies or
// storage breaks.
func (p *Pipeline) Run(ctx context.Context, tickers []string) error {
	earningsDates, err := p.prefetchEarnings(ctx, tickers)
	if err != nil {
		return err
	}

	for _, ticker := range tickers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.runTicker(ctx, ticker, earningsDates[ticker]); err != nil {
			if ctx.Err() != nil {
				return err
			}
			p.log.Error("ticker failed", "ticker", ticker, "error", err)
		}
	}
	return nil
}

// prefetchEarnings looks up next-earnings dates for all tickers with bounded
// concurrency. Skipped entirely when an explicit expiration was given.
func (p *Pipeline) prefetchEarnings(ctx context.Context, tickers []string) (map[string]time.Time, error) {
	dates := make(map[string]time.Time, len(tickers))
	if p.opts.Expiration != "" || p.earnings == nil {
		return dates, nil
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.MaxWorkers)
	for _, ticker := range tickers {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			when, err := p.earnings.NextEarningsDate(ticker, p.now())
			if err != nil {
				p.log.Warn("earnings lookup failed", "ticker", ticker, "error", err)
				return nil
			}
			mu.Lock()
			dates[ticker] = when
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return dates, nil
}

func (p *Pipeline) runTicker(ctx context.Context, ticker string, earningsDate time.Time) error {
	suffix := CollectionSuffix(p.opts.BarSize)
	histOpts := []ibclient.RequestOption{
		ibclient.WithExchange(p.opts.Exchange),
		ibclient.WithBarSize(p.opts.BarSize),
		ibclient.WithDuration(p.opts.Duration),
	}
	if p.opts.AfterHours {
		histOpts = append(histOpts, ibclient.WithAfterHours())
	}

	// Stock contract details.
	details, err := p.fetch(ctx, func() (*ibclient.Table, error) {
		return p.req.StockDetails(ticker, ibclient.WithExchange(p.opts.Exchange))
	})
	if err != nil {
		return fmt.Errorf("stock details: %w", err)
	}
	if details.Len() == 0 {
		return fmt.Errorf("no contract found for %s", ticker)
	}
	contractID := details.Int(0, "contract_id")
	p.log.Info("resolved ticker", "ticker", ticker, "contract_id", contractID)
	if err := p.meta.SaveStockDetails(ctx, details); err != nil {
		return err
	}

	// Equity history families.
	families := []struct {
		collection string
		fetch      func(string, ...ibclient.RequestOption) (*ibclient.Table, error)
	}{
		{"trades-" + suffix, p.req.StockTradesHistory},
		{"impliedvol-" + suffix, p.req.StockIVHistory},
		{"historicalvol-" + suffix, p.req.StockHVHistory},
	}
	for _, fam := range families {
		table, err := p.fetch(ctx, func() (*ibclient.Table, error) {
			return fam.fetch(ticker, histOpts...)
		})
		if err != nil {
			return fmt.Errorf("%s: %w", fam.collection, err)
		}
		p.log.Debug("history received", "ticker", ticker, "collection", fam.collection, "rows", table.Len())
		if err := p.history.Append(fam.collection, ticker, store.BarsFromTable(table)); err != nil {
			return err
		}
	}

	// Option parameters and expiration choice.
	params, err := p.fetch(ctx, func() (*ibclient.Table, error) {
		return p.req.OptionParams(ticker, contractID)
	})
	if err != nil {
		return fmt.Errorf("option params: %w", err)
	}
	preferred := params.Filter("exchange", p.opts.Exchange)
	if preferred.Len() == 0 {
		preferred = params
	}
	if preferred.Len() == 0 {
		p.log.Warn("no option parameters listed", "ticker", ticker)
		return nil
	}
	exchange := preferred.Str(0, "exchange")
	expirations := preferred.Strings(0, "expirations")

	expiration, err := chooseExpiration(expirations, p.opts.Expiration, earningsDate)
	if err != nil {
		return fmt.Errorf("choosing expiration for %s: %w", ticker, err)
	}
	p.log.Info("selected expiration", "ticker", ticker, "expiration", expiration, "exchange", exchange)

	// Option chain and per-contract bid/ask history.
	chain, err := p.fetch(ctx, func() (*ibclient.Table, error) {
		return p.req.OptionChain(ticker, exchange, expiration)
	})
	if err != nil {
		return fmt.Errorf("option chain: %w", err)
	}
	p.log.Info("option chain", "ticker", ticker, "expiration", expiration, "contracts", chain.Len())
	if err := p.meta.SaveOptionChain(ctx, ticker, chain); err != nil {
		return err
	}

	for i := 0; i < chain.Len(); i++ {
		strike := chain.Float(i, "strike")
		right := chain.Str(i, "right")
		table, err := p.fetch(ctx, func() (*ibclient.Table, error) {
			return p.req.OptionBidAskHistory(ticker, expiration, strike, right, histOpts...)
		})
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			p.log.Error("option history failed", "ticker", ticker, "strike", strike, "right", right, "error", err)
			continue
		}
		item := fmt.Sprintf("%s-%s-%v%s", ticker, expiration, strike, right)
		if err := p.history.Append("option-bidask-"+suffix, item, store.BarsFromTable(table)); err != nil {
			return err
		}
	}
	return nil
}

// RunFutures downloads trades history for the front contract of each basket
// symbol. The end time is capped at the roll date so bars past the roll never
// enter the front-contract series.
func (p *Pipeline) RunFutures(ctx context.Context, reqs []futures.Request) error {
	suffix := CollectionSuffix(p.opts.BarSize)
	now := p.now()
	for _, req := range reqs {
		opts := []ibclient.RequestOption{
			ibclient.WithBarSize(p.opts.BarSize),
			ibclient.WithDuration(p.opts.Duration),
		}
		if req.RollDate.Before(now) {
			opts = append(opts, ibclient.WithEndTime(req.RollDate.Format("20060102 15:04:05")))
		}
		table, err := p.fetch(ctx, func() (*ibclient.Table, error) {
			return p.req.FuturesTradesHistory(req.LocalSymbol, req.Contract.Exchange, opts...)
		})
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			p.log.Error("futures history failed", "symbol", req.LocalSymbol, "error", err)
			continue
		}
		p.log.Info("futures history", "symbol", req.LocalSymbol, "rows", table.Len())
		if err := p.history.Append("futures-trades-"+suffix, req.LocalSymbol, store.BarsFromTable(table)); err != nil {
			return err
		}
	}
	return nil
}

// chooseExpiration picks the option expiration to download. An explicit
// expiration must be listed; otherwise the earliest expiration strictly
// after the earnings date wins. With no earnings date the front expiration
// is used.
func chooseExpiration(listed []string, explicit string, earnings time.Time) (string, error) {
	if len(listed) == 0 {
		return "", fmt.Errorf("no expirations listed")
	}
	sorted := make([]string, len(listed))
	copy(sorted, listed)
	sort.Strings(sorted)

	if explicit != "" {
		for _, e := range sorted {
			if e == explicit {
				return e, nil
			}
		}
		return "", fmt.Errorf("expiration %s not listed (valid: %s)", explicit, strings.Join(sorted, ", "))
	}

	if earnings.IsZero() {
		return sorted[0], nil
	}
	cutoff := earnings.Format("20060102")
	for _, e := range sorted {
		if e > cutoff {
			return e, nil
		}
	}
	return "", fmt.Errorf("no expiration after earnings date %s", cutoff)
}
