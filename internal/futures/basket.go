// Package futures generates front-quarter futures contracts for a fixed
// basket of index futures.
package futures

import (
	"fmt"
	"time"

	"ibflow/internal/ibclient"
	"ibflow/internal/util"
)

// monthCodes are the standard futures expiration month letters, January
// through December.
var monthCodes = [13]string{"", "F", "G", "H", "J", "K", "M", "N", "Q", "U", "V", "X", "Z"}

// MonthCode returns the expiration letter for a month, e.g. "Z" for
// December.
func MonthCode(m time.Month) string { return monthCodes[m] }

// Basket describes a set of futures symbols sharing an exchange and roll
// policy.
type Basket struct {
	Symbols    []string
	Exchange   string
	RollOffset int // days before expiration to stop trading the front contract
}

// IndexBasket is the default basket: the big three US index futures.
func IndexBasket() Basket {
	return Basket{
		Symbols:    []string{"ES", "NQ", "RTY"},
		Exchange:   "GLOBEX",
		RollOffset: 8,
	}
}

// expirationMonths are the quarterly cycle months the index futures trade.
var expirationMonths = [4]time.Month{time.March, time.June, time.September, time.December}

// LocalSymbol builds the exchange ticker for a contract month, e.g.
// ES + Dec 2025 -> "ESZ5".
func LocalSymbol(base string, expiration time.Time) string {
	return fmt.Sprintf("%s%s%d", base, MonthCode(expiration.Month()), expiration.Year()%10)
}

// ExpirationDate returns the third Friday of the month. The instant is noon
// UTC so the civil date survives conversion into an exchange time zone.
func ExpirationDate(year int, month time.Month) time.Time {
	d := time.Date(year, month, 1, 12, 0, 0, 0, time.UTC)
	fridays := 0
	for {
		if d.Weekday() == time.Friday {
			fridays++
			if fridays == 3 {
				return d
			}
		}
		d = d.AddDate(0, 0, 1)
	}
}

// expirationDates returns the quarterly expirations covering a year plus the
// first quarter of the next, so a late-December lookup still finds a future
// expiration.
func expirationDates(year int) []time.Time {
	dates := make([]time.Time, 0, 5)
	for _, m := range expirationMonths {
		dates = append(dates, ExpirationDate(year, m))
	}
	dates = append(dates, ExpirationDate(year+1, expirationMonths[0]))
	return dates
}

// Request is one contract of the basket together with the end of its
// front-month window.
type Request struct {
	Contract    ibclient.Contract
	LocalSymbol string
	Expiration  time.Time
	RollDate    time.Time
}

// Requests yields the front contract per basket symbol as of now. The roll
// date is RollOffset days before expiration, walked back to a trading day;
// history queries should not extend past min(roll date, now).
func (b Basket) Requests(now time.Time, cal *util.TradingCalendar) []Request {
	reqs := make([]Request, 0, len(b.Symbols))
	for _, base := range b.Symbols {
		var expiration time.Time
		for _, d := range expirationDates(now.Year()) {
			if !d.Before(now.Truncate(24 * time.Hour)) {
				expiration = d
				break
			}
		}
		roll := expiration.AddDate(0, 0, -b.RollOffset)
		if cal != nil {
			roll = cal.AdjustToTradingDay(roll)
		}
		local := LocalSymbol(base, expiration)
		reqs = append(reqs, Request{
			Contract:    ibclient.FuturesContract(local, b.Exchange),
			LocalSymbol: local,
			Expiration:  expiration,
			RollDate:    roll,
		})
	}
	return reqs
}
