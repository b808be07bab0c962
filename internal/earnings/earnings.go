// Package earnings estimates upcoming earnings dates from the finviz quote
// snapshot. Finviz lists the most recent or next announced earnings slot
// ("Apr 30 AMC"); the estimate projects it forward when it already passed.
package earnings

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const defaultBaseURL = "https://finviz.com"

// Finviz serves bot-looking requests a 403, so a browser user agent is
// required.
const userAgent = "Mozilla/5.0"

// Client fetches and parses finviz quote pages.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	log *slog.Logger
}

// NewClient creates a finviz client with the default endpoint.
func NewClient() *Client {
	return &Client{
		BaseURL: defaultBaseURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		log:     slog.Default().With("component", "earnings"),
	}
}

// StockInfo fetches the snapshot table for a ticker: statistic name to
// displayed value, e.g. "Earnings" -> "Apr 30 AMC".
func (c *Client) StockInfo(ticker string) (map[string]string, error) {
	url := fmt.Sprintf("%s/quote.ashx?t=%s", c.BaseURL, strings.ToLower(ticker))
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %s", url, resp.Status)
	}

	info, err := parseSnapshot(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", url, err)
	}
	return info, nil
}

// NextEarningsDate estimates the next earnings date for a ticker, strictly
// after now. Returns a zero time with no error when finviz does not list an
// earnings slot for the ticker.
func (c *Client) NextEarningsDate(ticker string, now time.Time) (time.Time, error) {
	info, err := c.StockInfo(ticker)
	if err != nil {
		return time.Time{}, err
	}
	listed, ok := info["Earnings"]
	if !ok {
		return time.Time{}, nil
	}
	when, err := estimateFromListing(listed, now)
	if err != nil {
		c.log.Warn("unparseable earnings listing", "ticker", ticker, "listing", listed)
		return time.Time{}, nil
	}
	return when, nil
}

// estimateFromListing turns a finviz earnings slot like "Apr 30 AMC" into
// the next occurrence after now. After-market-close reports move trading
// impact to the next day. The listed date carries no year; the listing may
// be last quarter's (project 13 weeks forward) or last year's (52 weeks).
func estimateFromListing(listing string, now time.Time) (time.Time, error) {
	fields := strings.Fields(listing)
	if len(fields) != 3 {
		return time.Time{}, fmt.Errorf("earnings listing %q: want \"Mon D AMC|BMO\"", listing)
	}
	month, err := time.Parse("Jan", fields[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("earnings listing %q: %w", listing, err)
	}
	day, err := strconv.Atoi(fields[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("earnings listing %q: %w", listing, err)
	}
	if fields[2] == "AMC" {
		day++
	}

	listed := time.Date(now.Year(), month.Month(), day, 0, 0, 0, 0, now.Location())
	candidates := []time.Time{
		listed,
		listed.AddDate(0, 0, 52*7),
		listed.AddDate(0, 0, 13*7),
	}
	var winner time.Time
	for _, cand := range candidates {
		if cand.After(now) && (winner.IsZero() || cand.Before(winner)) {
			winner = cand
		}
	}
	if winner.IsZero() {
		return time.Time{}, fmt.Errorf("earnings listing %q: no future candidate", listing)
	}
	return winner, nil
}

// ---------------------------------------------------------------------------
// snapshot parsing

// parseSnapshot extracts the finviz snapshot table. Statistic names are in
// td cells of class "snapshot-td2-cp", values in cells of class
// "snapshot-td2", in matching document order.
func parseSnapshot(r io.Reader) (map[string]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var names, values []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "td" {
			switch {
			case hasClass(n, "snapshot-td2-cp"):
				names = append(names, nodeText(n))
			case hasClass(n, "snapshot-td2"):
				values = append(values, nodeText(n))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if len(names) != len(values) {
		return nil, fmt.Errorf("snapshot table mismatch: %d names, %d values", len(names), len(values))
	}
	info := make(map[string]string, len(names))
	for i, name := range names {
		info[name] = values[i]
	}
	return info, nil
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}
