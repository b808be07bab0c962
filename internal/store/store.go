// Package store persists downloaded market data: bar history in Parquet
// collections on disk, contract metadata in SQLite.
package store

import (
	"time"

	"ibflow/internal/ibclient"
)

// BarRecord is the on-disk schema for one history bar, shared by every data
// type. For BID_ASK history the OHLC slots hold the bid/ask aggregates the
// bars were delivered with.
type BarRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
	Count     int64   `parquet:"count"`
	Average   float64 `parquet:"average"`
}

// Time returns the bar timestamp.
func (r BarRecord) Time() time.Time { return time.UnixMilli(r.Timestamp).UTC() }

// barColumnAliases maps the column names a history table may carry to the
// four OHLC record slots, in slot order.
var barColumnAliases = [4][]string{
	{"open", "average_bid"},
	{"high", "max_ask"},
	{"low", "min_bid"},
	{"close", "average_ask"},
}

// BarsFromTable converts a history result table into storage records. The
// table may use the plain OHLC column names or the BID_ASK aliases; volume,
// count and average are taken when present.
func BarsFromTable(t *ibclient.Table) []BarRecord {
	records := make([]BarRecord, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		r := BarRecord{Timestamp: t.Row(i).Time.UnixMilli()}
		slots := [4]*float64{&r.Open, &r.High, &r.Low, &r.Close}
		for s, aliases := range barColumnAliases {
			for _, col := range aliases {
				if v, ok := t.Value(i, col).(float64); ok {
					*slots[s] = v
					break
				}
			}
		}
		r.Volume = t.Int(i, "volume")
		r.Count = t.Int(i, "count")
		r.Average = t.Float(i, "average")
		records = append(records, r)
	}
	return records
}
