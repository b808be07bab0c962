package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ibflow/internal/config"
	"ibflow/internal/download"
	"ibflow/internal/earnings"
	"ibflow/internal/futures"
	"ibflow/internal/ibclient"
	"ibflow/internal/ibwire"
	"ibflow/internal/store"
	"ibflow/internal/util"
)

func main() {
	tickersFlag := flag.String("tickers", "", "comma-separated tickers to download")
	sp100 := flag.Bool("sp100", false, "include the S&P 100 universe")
	faves := flag.Bool("faves", false, "include the faves watch list")
	futuresOnly := flag.Bool("futures", false, "download the index futures basket instead of stocks")
	expiration := flag.String("expiration", "", "explicit option expiration (YYYYMMDD); default derives it from the next earnings date")
	barSize := flag.String("bar-size", "", "bar size override, e.g. \"30 mins\"")
	duration := flag.String("duration", "", "history duration override, e.g. \"5 d\"")
	afterHours := flag.Bool("after-hours", false, "include bars outside regular trading hours")
	flag.Parse()

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
	if *barSize != "" {
		cfg.Download.BarSize = *barSize
	}
	if *duration != "" {
		cfg.Download.Duration = *duration
	}

	// Dual logger: stdout + /tmp log file.
	logFileName := fmt.Sprintf("/tmp/ib-download-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.Create(logFileName)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()

	w := io.MultiWriter(os.Stdout, logFile)
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel(cfg.Logging.Level)}))
	util.SetDefault(logger)

	var tickers []string
	if *tickersFlag != "" {
		tickers = strings.Split(*tickersFlag, ",")
	}
	if *sp100 {
		tickers = append(tickers, download.SP100...)
	}
	if *faves {
		tickers = append(tickers, download.Faves...)
	}
	tickers = download.MergeTickers(cfg.Download.Tickers, tickers)
	if len(tickers) == 0 && !*futuresOnly {
		log.Fatal("no tickers: pass -tickers, -sp100 or -faves, or set download.tickers in the config")
	}

	cal := util.NewTradingCalendar("xnys")
	client := ibclient.NewClient(ibwire.New(), ibclient.Config{
		RequestTimeout: time.Duration(cfg.Connection.TimeoutSeconds) * time.Second,
		EndTime:        func() string { return cal.LastSessionEnd(time.Now()) },
	}, logger)

	conn := cfg.Connection
	if err := client.Connect(conn.Host, conn.Port, conn.ClientID); err != nil {
		log.Fatalf("connect to %s:%d: %v", conn.Host, conn.Port, err)
	}
	defer client.Disconnect()

	history := store.NewHistoryStore(cfg.Storage.DataDir)
	meta, err := store.NewMetaStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("open metadata store: %v", err)
	}
	defer meta.Close()

	pipeline := download.New(client, history, meta, earnings.NewClient(), download.Options{
		Exchange:        cfg.Download.Exchange,
		BarSize:         cfg.Download.BarSize,
		Duration:        cfg.Download.Duration,
		AfterHours:      *afterHours || cfg.Download.AfterHours,
		Expiration:      *expiration,
		RateLimitPerMin: cfg.Download.RateLimitPerMin,
		MaxWorkers:      cfg.Download.MaxWorkers,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *futuresOnly {
		basket := futures.IndexBasket()
		reqs := basket.Requests(time.Now(), cal)
		slog.Info("starting futures download", "contracts", len(reqs), "logFile", logFileName)
		if err := pipeline.RunFutures(ctx, reqs); err != nil {
			log.Fatalf("futures download error: %v", err)
		}
		return
	}

	slog.Info("starting download", "tickers", len(tickers), "logFile", logFileName)
	if err := pipeline.Run(ctx, tickers); err != nil {
		log.Fatalf("download error: %v", err)
	}
}

func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
