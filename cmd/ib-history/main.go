// ib-history downloads one historical-data family for a single instrument
// and appends it to the parquet store.
//
//	ib-history -type iv -duration "10 d" AAPL
//	ib-history -type futures ESZ5
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"ibflow/internal/config"
	"ibflow/internal/download"
	"ibflow/internal/ibclient"
	"ibflow/internal/ibwire"
	"ibflow/internal/store"
	"ibflow/internal/util"
)

func main() {
	dataType := flag.String("type", "trades", "history family: trades, iv, hv or futures")
	barSize := flag.String("bar-size", "", "bar size override, e.g. \"30 mins\"")
	duration := flag.String("duration", "", "history duration override, e.g. \"5 d\"")
	endTime := flag.String("end", "", "latest bar to return (YYYYMMDD HH:MM:SS); default is the last session close")
	exchange := flag.String("exchange", "", "routing exchange (default SMART, GLOBEX for futures)")
	afterHours := flag.Bool("after-hours", false, "include bars outside regular trading hours")
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatal("usage: ib-history [-type trades|iv|hv|futures] SYMBOL")
	}
	symbol := strings.ToUpper(flag.Arg(0))

	cfgPath := "config/ibflow.yaml"
	if p := os.Getenv("IBFLOW_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if os.IsNotExist(err) {
		cfg = config.Default()
	} else if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))
	if *barSize != "" {
		cfg.Download.BarSize = *barSize
	}
	if *duration != "" {
		cfg.Download.Duration = *duration
	}

	cal := util.NewTradingCalendar("xnys")
	client := ibclient.NewClient(ibwire.New(), ibclient.Config{
		RequestTimeout: time.Duration(cfg.Connection.TimeoutSeconds) * time.Second,
		EndTime:        func() string { return cal.LastSessionEnd(time.Now()) },
	}, nil)
	conn := cfg.Connection
	if err := client.Connect(conn.Host, conn.Port, conn.ClientID); err != nil {
		log.Fatalf("connect to %s:%d: %v", conn.Host, conn.Port, err)
	}
	defer client.Disconnect()

	opts := []ibclient.RequestOption{
		ibclient.WithBarSize(cfg.Download.BarSize),
		ibclient.WithDuration(cfg.Download.Duration),
	}
	if *endTime != "" {
		opts = append(opts, ibclient.WithEndTime(*endTime))
	}
	if *exchange != "" {
		opts = append(opts, ibclient.WithExchange(*exchange))
	}
	if *afterHours {
		opts = append(opts, ibclient.WithAfterHours())
	}

	var (
		collection string
		result     *ibclient.Table
	)
	switch *dataType {
	case "trades":
		collection = "trades"
		result, err = client.StockTradesHistory(symbol, opts...)
	case "iv":
		collection = "impliedvol"
		result, err = client.StockIVHistory(symbol, opts...)
	case "hv":
		collection = "historicalvol"
		result, err = client.StockHVHistory(symbol, opts...)
	case "futures":
		collection = "futures-trades"
		futExchange := *exchange
		if futExchange == "" {
			futExchange = "GLOBEX"
		}
		result, err = client.FuturesTradesHistory(symbol, futExchange, opts...)
	default:
		log.Fatalf("unknown -type %q, want trades, iv, hv or futures", *dataType)
	}
	if err != nil {
		log.Fatalf("history request: %v", err)
	}

	collection = collection + "-" + download.CollectionSuffix(cfg.Download.BarSize)

	history := store.NewHistoryStore(cfg.Storage.DataDir)
	records := store.BarsFromTable(result)
	if err := history.Append(collection, symbol, records); err != nil {
		log.Fatalf("store: %v", err)
	}
	slog.Info("history stored", "collection", collection, "item", symbol, "rows", len(records))
	if len(records) > 0 {
		slog.Info("range",
			"first", records[0].Time().Format("2006-01-02 15:04"),
			"last", records[len(records)-1].Time().Format("2006-01-02 15:04"))
	}
}
