package marketdata

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestBar_TrueRange(t *testing.T) {
	b := Bar{High: 105, Low: 100}

	if got := b.TrueRange(0); got != 5 {
		t.Errorf("first-bar true range = %v, want 5", got)
	}
	// Gap up: |high - prevClose| dominates.
	if got := b.TrueRange(95); got != 10 {
		t.Errorf("gap-up true range = %v, want 10", got)
	}
	// Gap down: |low - prevClose| dominates.
	if got := b.TrueRange(112); got != 12 {
		t.Errorf("gap-down true range = %v, want 12", got)
	}
}

func TestPriceTable_NormalizeSortsAndDedupes(t *testing.T) {
	table := PriceTable{
		"AAPL": {
			{Date: day("2024-03-05"), Close: 2},
			{Date: day("2024-03-04"), Close: 1},
			{Date: day("2024-03-05"), Close: 3}, // duplicate date, last wins
		},
	}
	table.Normalize()

	bars := table.Bars("AAPL")
	require.Len(t, bars, 2)
	assert.Equal(t, day("2024-03-04"), bars[0].Date)
	assert.Equal(t, 3.0, bars[1].Close)
	assert.Nil(t, table.Bars("MSFT"))
}

func TestCSVDirProvider_ReadsWindow(t *testing.T) {
	dir := t.TempDir()
	csv := "date,open,high,low,close\n" +
		"2024-03-01,10,11,9,10.5\n" +
		"2024-03-04,10.5,12,10,11.5\n" +
		"2024-03-05,11.5,13,11,12.5\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AAPL.csv"), []byte(csv), 0o644))

	p := NewCSVDirProvider(dir)
	table, err := p.FetchOHLCV(context.Background(), []string{"AAPL", "MSFT"}, day("2024-03-04"), day("2024-03-31"))
	require.NoError(t, err)

	bars := table.Bars("AAPL")
	require.Len(t, bars, 2, "bar before window start must be excluded")
	assert.Equal(t, 11.5, bars[0].Close)

	// Missing symbol is absent, not an error.
	assert.Nil(t, table.Bars("MSFT"))
}

func TestCSVDirProvider_BadRowErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AAPL.csv"),
		[]byte("2024-03-01,10,11,nine,10.5\n"), 0o644))

	p := NewCSVDirProvider(dir)
	_, err := p.FetchOHLCV(context.Background(), []string{"AAPL"}, day("2024-01-01"), day("2024-12-31"))
	assert.Error(t, err)
}

type stubProvider struct {
	table PriceTable
	calls int
}

func (s *stubProvider) FetchOHLCV(ctx context.Context, symbols []string, start, end time.Time) (PriceTable, error) {
	s.calls++
	return s.table, nil
}

func TestCachedProvider_MissThenHit(t *testing.T) {
	table := PriceTable{"AAPL": {{Date: day("2024-03-04"), Open: 1, High: 2, Low: 0.5, Close: 1.5}}}
	inner := &stubProvider{table: table}

	rdb, mock := redismock.NewClientMock()
	key := cacheKey([]string{"AAPL"}, day("2024-03-01"), day("2024-03-05"))
	payload, err := json.Marshal(table)
	require.NoError(t, err)

	mock.ExpectGet(key).RedisNil()
	mock.ExpectSet(key, payload, 15*time.Minute).SetVal("OK")
	mock.ExpectGet(key).SetVal(string(payload))

	cached := NewCachedProvider(inner, rdb, 15*time.Minute)

	got, err := cached.FetchOHLCV(context.Background(), []string{"AAPL"}, day("2024-03-01"), day("2024-03-05"))
	require.NoError(t, err)
	assert.Equal(t, table, got)
	assert.Equal(t, 1, inner.calls)

	got, err = cached.FetchOHLCV(context.Background(), []string{"AAPL"}, day("2024-03-01"), day("2024-03-05"))
	require.NoError(t, err)
	assert.Equal(t, table, got)
	assert.Equal(t, 1, inner.calls, "second fetch must come from cache")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheKey_OrderInsensitive(t *testing.T) {
	a := cacheKey([]string{"MSFT", "AAPL"}, day("2024-03-01"), day("2024-03-05"))
	b := cacheKey([]string{"AAPL", "MSFT"}, day("2024-03-01"), day("2024-03-05"))
	assert.Equal(t, a, b)
}
