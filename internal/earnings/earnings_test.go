package earnings

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const snapshotPage = `<html><body>
<table class="snapshot-table2">
<tr>
  <td class="snapshot-td2-cp">Index</td><td class="snapshot-td2"><b>DJIA S&amp;P500</b></td>
  <td class="snapshot-td2-cp">P/E</td><td class="snapshot-td2"><b>28.91</b></td>
</tr>
<tr>
  <td class="snapshot-td2-cp">Earnings</td><td class="snapshot-td2"><b>Apr 30 AMC</b></td>
  <td class="snapshot-td2-cp">Market Cap</td><td class="snapshot-td2"><b>2900.00B</b></td>
</tr>
</table>
</body></html>`

func newTestServer(t *testing.T, page string) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != userAgent {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Write([]byte(page))
	}))
	t.Cleanup(srv.Close)

	c := NewClient()
	c.BaseURL = srv.URL
	return srv, c
}

func TestStockInfo(t *testing.T) {
	_, c := newTestServer(t, snapshotPage)

	info, err := c.StockInfo("AAPL")
	if err != nil {
		t.Fatalf("StockInfo: %v", err)
	}
	if got := info["Earnings"]; got != "Apr 30 AMC" {
		t.Errorf("Earnings = %q, want %q", got, "Apr 30 AMC")
	}
	if got := info["P/E"]; got != "28.91" {
		t.Errorf("P/E = %q, want %q", got, "28.91")
	}
	if got := info["Market Cap"]; got != "2900.00B" {
		t.Errorf("Market Cap = %q", got)
	}
}

func TestStockInfoHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	c := NewClient()
	c.BaseURL = srv.URL
	if _, err := c.StockInfo("AAPL"); err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("err = %v, want 403 status error", err)
	}
}

func TestNextEarningsDate(t *testing.T) {
	_, c := newTestServer(t, snapshotPage)

	// Listing "Apr 30 AMC" -> effective May 1. From mid-April the listed
	// date itself is the winner.
	now := time.Date(2024, 4, 15, 12, 0, 0, 0, time.UTC)
	got, err := c.NextEarningsDate("AAPL", now)
	if err != nil {
		t.Fatalf("NextEarningsDate: %v", err)
	}
	want := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("date = %v, want %v", got, want)
	}
}

func TestNextEarningsDateMissing(t *testing.T) {
	_, c := newTestServer(t, `<html><body><table>
<tr><td class="snapshot-td2-cp">P/E</td><td class="snapshot-td2">28.91</td></tr>
</table></body></html>`)

	got, err := c.NextEarningsDate("AAPL", time.Now())
	if err != nil {
		t.Fatalf("NextEarningsDate: %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("date = %v, want zero for missing listing", got)
	}
}

func TestEstimateFromListing(t *testing.T) {
	loc := time.UTC
	cases := []struct {
		name    string
		listing string
		now     time.Time
		want    time.Time
	}{
		{
			// BMO keeps the listed day.
			name:    "bmo upcoming",
			listing: "Apr 30 BMO",
			now:     time.Date(2024, 4, 15, 0, 0, 0, 0, loc),
			want:    time.Date(2024, 4, 30, 0, 0, 0, 0, loc),
		},
		{
			// AMC shifts impact to the next day.
			name:    "amc shifts a day",
			listing: "Apr 30 AMC",
			now:     time.Date(2024, 4, 15, 0, 0, 0, 0, loc),
			want:    time.Date(2024, 5, 1, 0, 0, 0, 0, loc),
		},
		{
			// Listing already passed: the next quarter (13 weeks out) wins
			// over the next year.
			name:    "passed listing projects a quarter",
			listing: "Feb 1 BMO",
			now:     time.Date(2024, 3, 1, 0, 0, 0, 0, loc),
			want:    time.Date(2024, 2, 1, 0, 0, 0, 0, loc).AddDate(0, 0, 13*7),
		},
	}
	for _, tc := range cases {
		got, err := estimateFromListing(tc.listing, tc.now)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !got.Equal(tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}

	if _, err := estimateFromListing("-", time.Now()); err == nil {
		t.Error("malformed listing should error")
	}
}
