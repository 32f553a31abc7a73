package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matteolongo/swing-screener-sub001/internal/config"
	"github.com/matteolongo/swing-screener-sub001/internal/marketdata"
	"github.com/matteolongo/swing-screener-sub001/internal/models"
	"github.com/matteolongo/swing-screener-sub001/internal/relations"
	"github.com/matteolongo/swing-screener-sub001/internal/storage"
)

var asof = time.Date(2024, 3, 8, 16, 0, 0, 0, time.UTC)

type stubGateway struct {
	events []models.Event
	err    error
}

func (g *stubGateway) FetchEvents(ctx context.Context, symbols []string, start, end time.Time) ([]models.Event, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.events, nil
}

type stubOHLCV struct {
	table marketdata.PriceTable
	err   error
}

func (o *stubOHLCV) FetchOHLCV(ctx context.Context, symbols []string, start, end time.Time) (marketdata.PriceTable, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.table, nil
}

// quietThenJump builds bars ending at asof's date with a strong final move.
func quietThenJump(symbol string) marketdata.PriceTable {
	closes := []float64{100, 101, 100, 101, 100, 101, 100, 115}
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]marketdata.Bar, len(closes))
	for i, c := range closes {
		bars[i] = marketdata.Bar{Date: start.AddDate(0, 0, i), Open: c, High: c * 1.01, Low: c * 0.99, Close: c}
	}
	return marketdata.PriceTable{symbol: bars}
}

func newPipeline(t *testing.T, gw *stubGateway, ohlcv *stubOHLCV, peers relations.PeerMap) (*Pipeline, *storage.FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	store := storage.NewFileStore(dir)
	cfg := config.Default()
	p := New(cfg, gw, ohlcv, store, peers, Options{Workers: 4})
	return p, store, dir
}

func strongEvent(symbol string) models.Event {
	return models.Event{
		EventID:     "ev-" + symbol,
		Symbol:      symbol,
		Source:      "newswire",
		OccurredAt:  asof.Add(-4 * time.Hour),
		Headline:    symbol + " surprise announcement",
		EventType:   "news",
		Credibility: 0.9,
	}
}

func TestRun_EndToEnd(t *testing.T) {
	gw := &stubGateway{events: []models.Event{strongEvent("AAPL")}}
	ohlcv := &stubOHLCV{table: quietThenJump("AAPL")}
	p, store, dir := newPipeline(t, gw, ohlcv, nil)

	technical := map[string]float64{"AAPL": 0.9}
	snap, err := p.Run(context.Background(), []string{"aapl", "AAPL "}, technical, asof)
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL"}, snap.Symbols, "case-insensitive dedupe preserves order")
	assert.Equal(t, "2024-03-08", snap.AsOfDate)
	require.Len(t, snap.Signals, 1)

	sig := snap.Signals[0]
	assert.False(t, sig.IsFalseCatalyst)
	assert.Greater(t, sig.ReturnZ, 3.0)

	require.Len(t, snap.Opportunities, 1)
	opp := snap.Opportunities[0]
	assert.Equal(t, "AAPL", opp.Symbol)
	assert.Greater(t, opp.OpportunityScore, 0.55)
	assert.Equal(t, models.StateCatalystActive, opp.State)

	require.Contains(t, snap.States, "AAPL")
	assert.Equal(t, models.StateCatalystActive, snap.States["AAPL"].State)
	assert.Equal(t, "ev-AAPL", snap.States["AAPL"].LastEventID)

	// Everything persisted.
	for _, name := range []string{"events", "signals", "themes", "opportunities"} {
		_, err := os.Stat(filepath.Join(dir, "daily", "2024-03-08", name+".json"))
		assert.NoErrorf(t, err, "collection %s must be written", name)
	}
	states, err := store.LoadSymbolState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap.States, states)

	assert.NotEmpty(t, snap.Summary())
}

func TestRun_EmptySymbolsShortCircuits(t *testing.T) {
	gw := &stubGateway{err: errors.New("must not be called")}
	ohlcv := &stubOHLCV{err: errors.New("must not be called")}
	p, store, dir := newPipeline(t, gw, ohlcv, nil)

	persisted := map[string]models.SymbolState{
		"NVDA": {Symbol: "NVDA", State: models.StateTrending, LastTransitionAt: asof.Add(-48 * time.Hour), StateScore: 0.7},
	}
	require.NoError(t, store.WriteSymbolState(context.Background(), persisted))

	snap, err := p.Run(context.Background(), nil, nil, asof)
	require.NoError(t, err)

	assert.Empty(t, snap.Events)
	assert.Empty(t, snap.Signals)
	assert.Empty(t, snap.Themes)
	assert.Empty(t, snap.Opportunities)
	assert.Equal(t, persisted, snap.States, "persisted states pass through unmodified")

	_, err = os.Stat(filepath.Join(dir, "daily"))
	assert.True(t, os.IsNotExist(err), "an empty run must not write daily collections")
}

func TestRun_IngestionErrorIsTyped(t *testing.T) {
	gw := &stubGateway{err: errors.New("feed down")}
	p, _, dir := newPipeline(t, gw, &stubOHLCV{}, nil)

	_, err := p.Run(context.Background(), []string{"AAPL"}, nil, asof)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIngestion)

	// A failed run persists nothing.
	_, statErr := os.Stat(filepath.Join(dir, "daily"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_MarketDataErrorIsTyped(t *testing.T) {
	gw := &stubGateway{events: []models.Event{strongEvent("AAPL")}}
	p, _, _ := newPipeline(t, gw, &stubOHLCV{err: errors.New("quote api down")}, nil)

	_, err := p.Run(context.Background(), []string{"AAPL"}, nil, asof)
	assert.ErrorIs(t, err, ErrMarketData)
}

// cancellingOHLCV cancels the run context during the price fetch, as a
// caller-side deadline firing mid-run would.
type cancellingOHLCV struct {
	cancel context.CancelFunc
	table  marketdata.PriceTable
}

func (o *cancellingOHLCV) FetchOHLCV(ctx context.Context, symbols []string, start, end time.Time) (marketdata.PriceTable, error) {
	o.cancel()
	return o.table, nil
}

func TestRun_CancelledContextAbortsWithoutPersisting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := &stubGateway{events: []models.Event{strongEvent("AAPL")}}
	ohlcv := &cancellingOHLCV{cancel: cancel, table: quietThenJump("AAPL")}
	dir := t.TempDir()
	p := New(config.Default(), gw, ohlcv, storage.NewFileStore(dir), nil, Options{Workers: 4})

	snap, err := p.Run(ctx, []string{"AAPL"}, nil, asof)
	require.Error(t, err, "a cancelled run must not report success")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, snap)

	// Nothing may be persisted for the aborted cycle.
	_, statErr := os.Stat(filepath.Join(dir, "daily"))
	assert.True(t, os.IsNotExist(statErr), "aborted run must not write daily collections")
	_, statErr = os.Stat(filepath.Join(dir, "symbol_states.json"))
	assert.True(t, os.IsNotExist(statErr), "aborted run must not touch the state table")
}

func TestRun_MissingPriceDataDegrades(t *testing.T) {
	gw := &stubGateway{events: []models.Event{strongEvent("AAPL")}}
	p, _, _ := newPipeline(t, gw, &stubOHLCV{table: marketdata.PriceTable{}}, nil)

	snap, err := p.Run(context.Background(), []string{"AAPL"}, nil, asof)
	require.NoError(t, err, "missing price data is degradation, not failure")

	require.Len(t, snap.Signals, 1)
	assert.True(t, snap.Signals[0].IsFalseCatalyst)
	assert.Contains(t, snap.Signals[0].Reasons, models.ReasonSymbolDataMissing)
	assert.Empty(t, snap.Opportunities, "false catalyst with neutral technical stays below threshold")
}

func TestRun_PeerConfirmationAndThemes(t *testing.T) {
	peers := relations.PeerMap{"AAPL": {"MSFT"}, "MSFT": {"AAPL"}}
	gw := &stubGateway{events: []models.Event{strongEvent("AAPL"), strongEvent("MSFT")}}
	table := quietThenJump("AAPL")
	for sym, bars := range quietThenJump("MSFT") {
		table[sym] = bars
	}
	ohlcv := &stubOHLCV{table: table}

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Theme.MinClusterSize = 2
	cfg.Theme.MinPeerConfirmation = 1
	p := New(cfg, gw, ohlcv, storage.NewFileStore(dir), peers, Options{})

	snap, err := p.Run(context.Background(), []string{"AAPL", "MSFT"}, nil, asof)
	require.NoError(t, err)

	require.Len(t, snap.Themes, 1)
	assert.ElementsMatch(t, []string{"AAPL", "MSFT"}, snap.Themes[0].Symbols)
	for _, sig := range snap.Signals {
		assert.Equal(t, 1, sig.PeerConfirmationCount)
	}
}

func TestRun_DeterministicAcrossIdenticalRuns(t *testing.T) {
	mk := func() *Snapshot {
		gw := &stubGateway{events: []models.Event{strongEvent("AAPL"), strongEvent("MSFT")}}
		table := quietThenJump("AAPL")
		for sym, bars := range quietThenJump("MSFT") {
			table[sym] = bars
		}
		p, _, _ := newPipeline(t, gw, &stubOHLCV{table: table}, nil)
		snap, err := p.Run(context.Background(), []string{"MSFT", "AAPL"}, nil, asof)
		require.NoError(t, err)
		return snap
	}

	a, b := mk(), mk()
	assert.Equal(t, a.Signals, b.Signals)
	assert.Equal(t, a.Themes, b.Themes)
	assert.Equal(t, a.Opportunities, b.Opportunities)
	assert.Equal(t, a.States, b.States)
}

func TestNormalizeSymbols(t *testing.T) {
	got := NormalizeSymbols([]string{" aapl", "MSFT", "aapl", "", "msft", "NVDA"})
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA"}, got)
}
