package util

import (
	"time"

	"github.com/scmhub/calendar"
)

// TradingCalendar answers trading-day questions for a single exchange,
// backed by scmhub/calendar MIC calendars (ISO 10383). When the library has
// no calendar for the MIC it falls back to plain Mon-Fri in New York time.
type TradingCalendar struct {
	cal      *calendar.Calendar
	fallback bool
	loc      *time.Location
}

// NewTradingCalendar loads the calendar for a MIC code, e.g. "xnys" for
// NYSE.
func NewTradingCalendar(mic string) *TradingCalendar {
	cal := calendar.GetCalendar(mic)
	if cal == nil {
		cal = calendar.GetCalendar("xnys")
	}
	if cal == nil {
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			loc = time.UTC
		}
		return &TradingCalendar{fallback: true, loc: loc}
	}
	return &TradingCalendar{cal: cal, loc: cal.Loc}
}

// Location returns the exchange time zone.
func (tc *TradingCalendar) Location() *time.Location { return tc.loc }

// IsTradingDay reports whether the exchange trades on the date of t.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	t = t.In(tc.loc)
	if tc.fallback {
		wd := t.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	return tc.cal.IsBusinessDay(t)
}

// IsOpen reports whether the exchange is open at instant t.
func (tc *TradingCalendar) IsOpen(t time.Time) bool {
	t = t.In(tc.loc)
	if tc.fallback {
		if !tc.IsTradingDay(t) {
			return false
		}
		h, m := t.Hour(), t.Minute()
		return (h > 9 || (h == 9 && m >= 30)) && h < 16
	}
	return tc.cal.IsOpen(t)
}

// PrevTradingDay returns the last trading day strictly before the date of t.
func (tc *TradingCalendar) PrevTradingDay(t time.Time) time.Time {
	d := t.In(tc.loc).AddDate(0, 0, -1)
	for !tc.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// AdjustToTradingDay walks t backward to the nearest trading day, leaving it
// unchanged when it already is one. Used for futures roll dates landing on
// holidays.
func (tc *TradingCalendar) AdjustToTradingDay(t time.Time) time.Time {
	d := t.In(tc.loc)
	for !tc.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// LastSessionEnd returns the close of the last finished regular session at
// or before now, formatted for a TWS history query ("YYYYMMDD HH:MM:SS" in
// exchange time). Before the 16:00 close on a trading day this is the
// previous trading day's close.
func (tc *TradingCalendar) LastSessionEnd(now time.Time) string {
	now = now.In(tc.loc)
	d := now
	if !tc.IsTradingDay(d) || now.Hour() < 16 {
		d = tc.PrevTradingDay(now)
	}
	close := time.Date(d.Year(), d.Month(), d.Day(), 16, 0, 0, 0, tc.loc)
	return close.Format("20060102 15:04:05")
}
