package marketdata

import (
	"context"
	"sort"
	"time"
)

// Bar is one daily OHLC observation.
type Bar struct {
	Date  time.Time `json:"date"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|). For the
// first bar of a series pass prevClose <= 0 to fall back to high-low.
func (b Bar) TrueRange(prevClose float64) float64 {
	tr := b.High - b.Low
	if prevClose > 0 {
		if hc := abs(b.High - prevClose); hc > tr {
			tr = hc
		}
		if lc := abs(b.Low - prevClose); lc > tr {
			tr = lc
		}
	}
	return tr
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// PriceTable maps symbol to its daily bars. Missing symbols and dates are
// simply absent, never an error.
type PriceTable map[string][]Bar

// Normalize sorts each symbol's bars by date ascending and drops duplicate
// dates, keeping the last occurrence.
func (t PriceTable) Normalize() {
	for sym, bars := range t {
		sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
		dedup := bars[:0]
		for _, b := range bars {
			if n := len(dedup); n > 0 && dedup[n-1].Date.Equal(b.Date) {
				dedup[n-1] = b
				continue
			}
			dedup = append(dedup, b)
		}
		t[sym] = dedup
	}
}

// Bars returns the sorted bar series for a symbol, nil if unknown.
func (t PriceTable) Bars(symbol string) []Bar { return t[symbol] }

// Provider supplies daily OHLC windows for a symbol set.
type Provider interface {
	FetchOHLCV(ctx context.Context, symbols []string, start, end time.Time) (PriceTable, error)
}
