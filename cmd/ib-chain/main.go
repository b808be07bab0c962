// ib-chain prints the contract details, listed option parameters and the
// option chain for one underlying.
//
//	ib-chain -expiration 20240216 AAPL
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"ibflow/internal/config"
	"ibflow/internal/ibclient"
	"ibflow/internal/ibwire"
	"ibflow/internal/util"
)

func main() {
	expiration := flag.String("expiration", "", "option expiration (YYYYMMDD); default is the front expiration")
	exchange := flag.String("exchange", "SMART", "routing exchange")
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatal("usage: ib-chain [-expiration YYYYMMDD] [-exchange SMART] TICKER")
	}
	ticker := strings.ToUpper(flag.Arg(0))

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

	client := ibclient.NewClient(ibwire.New(), ibclient.Config{
		RequestTimeout: time.Duration(cfg.Connection.TimeoutSeconds) * time.Second,
	}, nil)
	conn := cfg.Connection
	if err := client.Connect(conn.Host, conn.Port, conn.ClientID); err != nil {
		log.Fatalf("connect to %s:%d: %v", conn.Host, conn.Port, err)
	}
	defer client.Disconnect()

	details, err := client.StockDetails(ticker, ibclient.WithExchange(*exchange))
	if err != nil {
		log.Fatalf("stock details: %v", err)
	}
	if details.Len() == 0 {
		log.Fatalf("no contract found for %s", ticker)
	}
	render("Contract", details, "ticker", "contract_id", "exchange", "long_name", "industry", "category")

	contractID := details.Int(0, "contract_id")
	params, err := client.OptionParams(ticker, contractID)
	if err != nil {
		log.Fatalf("option params: %v", err)
	}
	renderParams(params)

	preferred := params.Filter("exchange", *exchange)
	if preferred.Len() == 0 {
		preferred = params
	}
	if preferred.Len() == 0 {
		log.Fatalf("no option parameters listed for %s", ticker)
	}
	expirations := preferred.Strings(0, "expirations")
	sort.Strings(expirations)
	exp := *expiration
	if exp == "" && len(expirations) > 0 {
		exp = expirations[0]
	}

	chain, err := client.OptionChain(ticker, preferred.Str(0, "exchange"), exp)
	if err != nil {
		log.Fatalf("option chain: %v", err)
	}
	render("Chain "+exp, chain, "option_ticker", "contract_id", "expiration", "strike", "right", "multiplier")
}

// render prints the selected columns of a table.
func render(title string, t *ibclient.Table, columns ...string) {
	w := table.NewWriter()
	w.SetOutputMirror(os.Stdout)
	w.SetStyle(table.StyleLight)
	w.SetTitle(title)

	header := make(table.Row, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	w.AppendHeader(header)
	for i := 0; i < t.Len(); i++ {
		row := make(table.Row, len(columns))
		for j, c := range columns {
			row[j] = t.Value(i, c)
		}
		w.AppendRow(row)
	}
	w.Render()
}

// renderParams prints one row per listing exchange with the expiration and
// strike lists compacted.
func renderParams(params *ibclient.Table) {
	w := table.NewWriter()
	w.SetOutputMirror(os.Stdout)
	w.SetStyle(table.StyleLight)
	w.SetTitle("Option parameters")
	w.AppendHeader(table.Row{"exchange", "multiplier", "expirations", "strikes"})
	for i := 0; i < params.Len(); i++ {
		expirations := params.Strings(i, "expirations")
		strikes := params.Floats(i, "strikes")
		w.AppendRow(table.Row{
			params.Str(i, "exchange"),
			params.Str(i, "multiplier"),
			fmt.Sprintf("%d: %s", len(expirations), strings.Join(head(expirations, 4), " ")),
			len(strikes),
		})
	}
	w.Render()
}

func head(list []string, n int) []string {
	if len(list) <= n {
		return list
	}
	return list[:n]
}
