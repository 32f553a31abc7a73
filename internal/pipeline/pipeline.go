package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/matteolongo/swing-screener-sub001/internal/config"
	"github.com/matteolongo/swing-screener-sub001/internal/ingest"
	"github.com/matteolongo/swing-screener-sub001/internal/lifecycle"
	"github.com/matteolongo/swing-screener-sub001/internal/marketdata"
	"github.com/matteolongo/swing-screener-sub001/internal/metrics"
	"github.com/matteolongo/swing-screener-sub001/internal/models"
	"github.com/matteolongo/swing-screener-sub001/internal/opportunity"
	"github.com/matteolongo/swing-screener-sub001/internal/reaction"
	"github.com/matteolongo/swing-screener-sub001/internal/relations"
	"github.com/matteolongo/swing-screener-sub001/internal/scoring"
	"github.com/matteolongo/swing-screener-sub001/internal/storage"
)

// Typed collaborator failures, so callers can decide between retry and abort.
var (
	ErrIngestion  = errors.New("event ingestion failed")
	ErrMarketData = errors.New("market data fetch failed")
	ErrStorage    = errors.New("storage failed")
)

// neutralTechnical is assumed for run symbols absent from the supplied
// technical-readiness map.
const neutralTechnical = 0.5

// baselineBufferDays extends the OHLCV window behind the event lookback so
// return baselines and ATR windows have enough observations.
const baselineBufferDays = 45

// Snapshot is the in-memory result of one pipeline run.
type Snapshot struct {
	RunID         string                        `json:"run_id"`
	AsOf          time.Time                     `json:"asof"`
	AsOfDate      string                        `json:"asof_date"`
	Symbols       []string                      `json:"symbols"`
	Events        []models.Event                `json:"events"`
	Signals       []models.CatalystSignal       `json:"signals"`
	Themes        []models.ThemeCluster         `json:"themes"`
	Opportunities []models.Opportunity          `json:"opportunities"`
	States        map[string]models.SymbolState `json:"states"`
}

// Summary renders a terse human-readable digest of the run.
func (s *Snapshot) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s asof=%s symbols=%d events=%d signals=%d themes=%d opportunities=%d\n",
		s.RunID, s.AsOfDate, len(s.Symbols), len(s.Events), len(s.Signals), len(s.Themes), len(s.Opportunities))
	for i, o := range s.Opportunities {
		fmt.Fprintf(&b, "  %2d. %-6s score=%.3f catalyst=%.3f technical=%.3f state=%s\n",
			i+1, o.Symbol, o.OpportunityScore, o.CatalystStrength, o.TechnicalReadiness, o.State)
	}
	return b.String()
}

// Options carries optional pipeline collaborators.
type Options struct {
	Metrics *metrics.Metrics
	Workers int // parallel reaction workers, default 8
}

// Pipeline orchestrates one intelligence cycle: ingestion, reaction
// evaluation, peer relations, scoring, ranking and lifecycle updates, with
// all outputs persisted through the storage collaborator.
type Pipeline struct {
	cfg     config.Config
	gateway ingest.Gateway
	ohlcv   marketdata.Provider
	store   storage.Store
	peers   relations.PeerMap
	metrics *metrics.Metrics
	workers int
}

// New wires a pipeline.
func New(cfg config.Config, gateway ingest.Gateway, ohlcv marketdata.Provider, store storage.Store, peers relations.PeerMap, opts Options) *Pipeline {
	workers := opts.Workers
	if workers <= 0 {
		workers = 8
	}
	return &Pipeline{
		cfg:     cfg,
		gateway: gateway,
		ohlcv:   ohlcv,
		store:   store,
		peers:   peers,
		metrics: opts.Metrics,
		workers: workers,
	}
}

// NormalizeSymbols uppercases, trims and deduplicates preserving first-seen
// order.
func NormalizeSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// Run executes one analysis cycle at asof. technical may be nil; run symbols
// missing from it are assumed neutral. The returned snapshot is fully
// persisted unless an error is returned, in which case nothing for this run
// was written.
func (p *Pipeline) Run(ctx context.Context, symbols []string, technical map[string]float64, asof time.Time) (*Snapshot, error) {
	snap, err := p.run(ctx, symbols, technical, asof)
	p.metrics.RunFinished(err)
	return snap, err
}

func (p *Pipeline) run(ctx context.Context, symbols []string, technical map[string]float64, asof time.Time) (*Snapshot, error) {
	runID := uuid.NewString()
	logger := log.With().Str("run_id", runID).Time("asof", asof).Logger()

	snap := &Snapshot{
		RunID:    runID,
		AsOf:     asof,
		AsOfDate: storage.DateKey(asof),
		Symbols:  NormalizeSymbols(symbols),
	}

	if len(snap.Symbols) == 0 {
		// Nothing to analyze: return persisted states untouched, write
		// nothing.
		states, err := p.store.LoadSymbolState(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		snap.States = states
		logger.Info().Msg("empty symbol list, returning empty snapshot")
		return snap, nil
	}

	eventStart := asof.Add(-time.Duration(p.cfg.Catalyst.LookbackHours * float64(time.Hour)))

	stepStart := time.Now()
	events, err := p.gateway.FetchEvents(ctx, snap.Symbols, eventStart, asof)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIngestion, err)
	}
	p.metrics.ObserveStep("ingest", time.Since(stepStart))
	snap.Events = events

	stepStart = time.Now()
	barsStart := eventStart.AddDate(0, 0, -baselineBufferDays)
	barsEnd := asof.AddDate(0, 0, 1) // forward buffer for next-session mapping
	table, err := p.ohlcv.FetchOHLCV(ctx, snap.Symbols, barsStart, barsEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMarketData, err)
	}
	p.metrics.ObserveStep("ohlcv", time.Since(stepStart))

	stepStart = time.Now()
	signals, err := p.evaluateReactions(ctx, events, table, asof)
	if err != nil {
		return nil, err
	}
	p.metrics.ObserveStep("react", time.Since(stepStart))

	stepStart = time.Now()
	engine := relations.NewEngine(p.peers, p.cfg.Theme, p.cfg.Catalyst.FalseCatalystReturnZ)
	signals = engine.Confirm(signals)
	themes := engine.Cluster(signals)
	p.metrics.ObserveStep("relations", time.Since(stepStart))
	snap.Signals = signals
	snap.Themes = themes

	stepStart = time.Now()
	scorer := scoring.NewScorer(p.cfg.Catalyst)
	breakdowns := scorer.ScoreSymbols(signals, themes, events)
	catalystScores := scoring.ScoreMap(breakdowns)
	p.metrics.ObserveStep("score", time.Since(stepStart))

	techScores := make(map[string]float64, len(snap.Symbols))
	for _, sym := range snap.Symbols {
		if v, ok := technical[sym]; ok {
			techScores[sym] = v
		} else {
			techScores[sym] = neutralTechnical
		}
	}

	// Symbol-state table: load-modify-write under the storage lock, with
	// every collection written before the lock is released.
	release, err := p.store.AcquireStateLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer release()

	prevStates, err := p.store.LoadSymbolState(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	stepStart = time.Now()
	states := p.updateStates(snap.Symbols, prevStates, signals, breakdowns, themes, asof)
	p.metrics.ObserveStep("lifecycle", time.Since(stepStart))
	snap.States = states

	ranker := opportunity.NewRanker(p.cfg.Opportunity)
	snap.Opportunities = ranker.Rank(techScores, catalystScores, states)

	if err := p.persist(ctx, snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	falseCount := 0
	for _, s := range signals {
		if s.IsFalseCatalyst {
			falseCount++
		}
	}
	p.metrics.AddCounts(len(events), len(signals), falseCount, len(themes), len(snap.Opportunities))

	logger.Info().
		Int("events", len(events)).
		Int("signals", len(signals)).
		Int("false_catalysts", falseCount).
		Int("themes", len(themes)).
		Int("opportunities", len(snap.Opportunities)).
		Msg("pipeline run complete")
	return snap, nil
}

// evaluateReactions fans reaction evaluation out per symbol. Symbols are
// independent, so only the final sort order matters. A cancelled context
// aborts the run: a truncated signal set must never reach scoring or storage.
func (p *Pipeline) evaluateReactions(ctx context.Context, events []models.Event, table marketdata.PriceTable, asof time.Time) ([]models.CatalystSignal, error) {
	bySymbol := make(map[string][]models.Event)
	for _, ev := range events {
		bySymbol[ev.Symbol] = append(bySymbol[ev.Symbol], ev)
	}

	evaluator := reaction.NewEvaluator(p.cfg.Catalyst)

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		signals []models.CatalystSignal
	)
	sem := make(chan struct{}, p.workers)
	for sym, symEvents := range bySymbol {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(sym string, symEvents []models.Event) {
			defer wg.Done()
			defer func() { <-sem }()
			bars := table.Bars(sym)
			local := make([]models.CatalystSignal, 0, len(symEvents))
			for _, ev := range symEvents {
				m := evaluator.Evaluate(ev, bars)
				local = append(local, evaluator.BuildSignal(ev, m, asof))
			}
			mu.Lock()
			signals = append(signals, local...)
			mu.Unlock()
		}(sym, symEvents)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reaction.SortSignals(signals)
	return signals, nil
}

// updateStates advances the lifecycle record of every run symbol; symbols
// known only from past runs pass through unchanged.
func (p *Pipeline) updateStates(runSymbols []string, prev map[string]models.SymbolState, signals []models.CatalystSignal, breakdowns map[string]scoring.Breakdown, themes []models.ThemeCluster, asof time.Time) map[string]models.SymbolState {
	machine := lifecycle.NewMachine(p.cfg.StateMachine)

	// The state machine consumes each symbol's highest-scoring signal.
	best := make(map[string]models.CatalystSignal)
	for _, sig := range signals {
		if b, ok := breakdowns[sig.Symbol]; ok && b.EventID == sig.EventID {
			best[sig.Symbol] = sig
		}
	}

	themed := make(map[string]bool)
	for _, t := range themes {
		for _, sym := range t.Symbols {
			themed[sym] = true
		}
	}

	out := make(map[string]models.SymbolState, len(prev)+len(runSymbols))
	for sym, st := range prev {
		out[sym] = st
	}

	for _, sym := range runSymbols {
		prevSt, known := out[sym]
		if !known {
			prevSt = models.NewSymbolState(sym, asof)
		}
		var sigPtr *models.CatalystSignal
		if s, ok := best[sym]; ok {
			sig := s
			sigPtr = &sig
		}
		next := machine.Transition(prevSt, sigPtr, themed[sym], asof)
		if next.State != prevSt.State {
			p.metrics.StateTransition(next.State.String())
		}
		out[sym] = next
	}
	return out
}

// persist writes all five collections for the run. Each individual write is
// atomic, but the sequence is not: a storage failure mid-way leaves earlier
// collections applied for the day. A rerun for the same asof date fully
// overwrites every collection, which is the recovery path.
func (p *Pipeline) persist(ctx context.Context, snap *Snapshot) error {
	if err := p.store.WriteEvents(ctx, snap.Events, snap.AsOf); err != nil {
		return err
	}
	if err := p.store.WriteSignals(ctx, snap.Signals, snap.AsOf); err != nil {
		return err
	}
	if err := p.store.WriteThemes(ctx, snap.Themes, snap.AsOf); err != nil {
		return err
	}
	if err := p.store.WriteOpportunities(ctx, snap.Opportunities, snap.AsOf); err != nil {
		return err
	}
	return p.store.WriteSymbolState(ctx, snap.States)
}
