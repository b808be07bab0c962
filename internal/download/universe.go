package download

import "strings"

// SP100 holds the S&P 100 constituent tickers. Class shares keep the IB
// local-symbol spelling ("BRK B").
var SP100 = []string{
	"AAPL", "ABBV", "ABT", "ACN", "ADBE", "AIG", "ALL", "AMGN", "AMT", "AMZN",
	"AXP", "BA", "BAC", "BIIB", "BK", "BKNG", "BLK", "BMY", "BRK B", "C",
	"CAT", "CHTR", "CL", "CMCSA", "COF", "COP", "COST", "CRM", "CSCO", "CVS",
	"CVX", "DD", "DHR", "DIS", "DOW", "DUK", "EMR", "EXC", "F", "FB",
	"FDX", "GD", "GE", "GILD", "GM", "GOOG", "GOOGL", "GS", "HD", "HON",
	"IBM", "INTC", "JNJ", "JPM", "KHC", "KMI", "KO", "LLY", "LMT", "LOW",
	"MA", "MCD", "MDLZ", "MDT", "MET", "MMM", "MO", "MRK", "MS", "MSFT",
	"NEE", "NFLX", "NKE", "NVDA", "ORCL", "PEP", "PFE", "PG", "PM", "PYPL",
	"QCOM", "RTX", "SBUX", "SLB", "SO", "SPG", "T", "TGT", "TMO", "TSLA",
	"TXN", "UNH", "UNP", "UPS", "USB", "V", "VZ", "WBA", "WFC", "WMT",
	"XOM",
}

// Faves is a short watch list for quick runs.
var Faves = []string{
	"AAPL", "AMD", "AMZN", "GOOGL", "MSFT", "NFLX", "NVDA", "TSLA",
}

// MergeTickers combines ticker lists, uppercasing and deduplicating while
// preserving first-seen order.
func MergeTickers(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, t := range list {
			t = strings.ToUpper(strings.TrimSpace(t))
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
