package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// CSVDirProvider reads one <SYMBOL>.csv per symbol from a directory. Rows are
// `date,open,high,low,close` with an optional header; dates are YYYY-MM-DD.
// Symbols without a file surface as absent series, not errors.
type CSVDirProvider struct {
	Dir string
}

// NewCSVDirProvider creates a provider rooted at dir.
func NewCSVDirProvider(dir string) *CSVDirProvider {
	return &CSVDirProvider{Dir: dir}
}

// FetchOHLCV implements Provider.
func (p *CSVDirProvider) FetchOHLCV(ctx context.Context, symbols []string, start, end time.Time) (PriceTable, error) {
	table := make(PriceTable, len(symbols))
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bars, err := p.readSymbol(sym, start, end)
		if err != nil {
			return nil, fmt.Errorf("read ohlcv for %s: %w", sym, err)
		}
		if bars == nil {
			log.Debug().Str("symbol", sym).Msg("no price file for symbol")
			continue
		}
		table[sym] = bars
	}
	table.Normalize()
	return table, nil
}

func (p *CSVDirProvider) readSymbol(symbol string, start, end time.Time) ([]Bar, error) {
	path := filepath.Join(p.Dir, strings.ToUpper(symbol)+".csv")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 5
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	var bars []Bar
	for i, row := range rows {
		date, err := time.Parse("2006-01-02", row[0])
		if err != nil {
			if i == 0 {
				continue // header row
			}
			return nil, fmt.Errorf("row %d: bad date %q", i+1, row[0])
		}
		if date.Before(start) || date.After(end) {
			continue
		}
		vals := make([]float64, 4)
		for j := 0; j < 4; j++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[j+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: bad value %q", i+1, row[j+1])
			}
			vals[j] = v
		}
		bars = append(bars, Bar{Date: date, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3]})
	}
	return bars, nil
}
