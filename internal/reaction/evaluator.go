package reaction

import (
	"math"
	"sort"
	"time"

	"github.com/matteolongo/swing-screener-sub001/internal/config"
	"github.com/matteolongo/swing-screener-sub001/internal/marketdata"
	"github.com/matteolongo/swing-screener-sub001/internal/models"
)

// minBaselineObs is the minimum number of prior returns required before a
// return z-score is considered meaningful.
const minBaselineObs = 5

// Evaluator measures the price/volatility reaction of a symbol to an event.
// All methods are pure over their inputs; the evaluator holds only config.
type Evaluator struct {
	cfg config.CatalystConfig
}

// NewEvaluator creates a reaction evaluator.
func NewEvaluator(cfg config.CatalystConfig) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate measures the reaction of one event against the symbol's bar
// series. Missing or insufficient data never errors: it degrades to an
// invalid or zeroed result with explanatory reason codes.
func (e *Evaluator) Evaluate(event models.Event, bars []marketdata.Bar) models.ReactionMetrics {
	idx := eventBarIndex(bars, event.OccurredAt)
	if idx < 0 {
		return models.ReactionMetrics{
			Valid:   false,
			Reasons: []string{models.ReasonSymbolDataMissing},
		}
	}

	m := models.ReactionMetrics{Valid: true, EventBar: bars[idx].Date}

	// Simple return of the event bar against the prior close.
	returns := simpleReturns(bars)
	if idx == 0 {
		m.Reasons = append(m.Reasons, models.ReasonInsufficientHistory)
	} else {
		m.EventReturn = returns[idx-1]
		// Baseline excludes the event return itself.
		baseline := returns[:idx-1]
		if len(baseline) < minBaselineObs {
			m.Reasons = append(m.Reasons, models.ReasonInsufficientHistory)
		} else {
			mean, stdev := meanStdev(baseline)
			if stdev > 1e-12 {
				m.ReturnZ = (m.EventReturn - mean) / stdev
			}
		}
	}

	// ATR over the prior atr_window true ranges, shifted by one bar so the
	// event bar never contributes to its own baseline.
	tr := trueRanges(bars)
	lo := idx - e.cfg.ATRWindow
	if lo < 0 {
		lo = 0
	}
	prior := tr[lo:idx]
	if len(prior) > 0 {
		sum := 0.0
		for _, v := range prior {
			sum += v
		}
		m.ATR = sum / float64(len(prior))
	}
	if m.ATR > 1e-12 {
		m.ATRShock = tr[idx] / m.ATR
	} else {
		m.Reasons = append(m.Reasons, models.ReasonATRUnavailable)
	}

	return m
}

// BuildSignal turns an evaluated reaction into a catalyst signal, applying
// the false-catalyst confirmation rules.
func (e *Evaluator) BuildSignal(event models.Event, m models.ReactionMetrics, asof time.Time) models.CatalystSignal {
	sig := models.CatalystSignal{
		Symbol:   event.Symbol,
		EventID:  event.EventID,
		ReturnZ:  m.ReturnZ,
		ATRShock: m.ATRShock,
		Reasons:  append([]string(nil), m.Reasons...),
	}

	if hrs := asof.Sub(event.OccurredAt).Hours(); hrs > 0 {
		sig.RecencyHours = hrs
	}

	if e.cfg.RequirePriceConfirmation {
		if !m.Valid {
			sig.IsFalseCatalyst = true
			sig.Reasons = append(sig.Reasons, models.ReasonInvalidReaction)
		} else {
			if m.ReturnZ < e.cfg.FalseCatalystReturnZ {
				sig.IsFalseCatalyst = true
				sig.Reasons = append(sig.Reasons, models.ReasonWeakReturnZ)
			}
			if m.ATRShock < e.cfg.MinPriceReactionATR {
				sig.IsFalseCatalyst = true
				sig.Reasons = append(sig.Reasons, models.ReasonWeakATRShock)
			}
		}
	} else if !m.Valid {
		sig.IsFalseCatalyst = true
		sig.Reasons = append(sig.Reasons, models.ReasonInvalidReaction)
	}

	return sig
}

// BuildSignals evaluates every event against the shared price table and
// returns signals sorted by (recency asc, return_z asc) for deterministic
// downstream processing.
func (e *Evaluator) BuildSignals(events []models.Event, table marketdata.PriceTable, asof time.Time) []models.CatalystSignal {
	signals := make([]models.CatalystSignal, 0, len(events))
	for _, ev := range events {
		m := e.Evaluate(ev, table.Bars(ev.Symbol))
		signals = append(signals, e.BuildSignal(ev, m, asof))
	}
	SortSignals(signals)
	return signals
}

// SortSignals orders signals by (recency_hours asc, return_z asc), with the
// event ID as a final tiebreak for full determinism.
func SortSignals(signals []models.CatalystSignal) {
	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].RecencyHours != signals[j].RecencyHours {
			return signals[i].RecencyHours < signals[j].RecencyHours
		}
		if signals[i].ReturnZ != signals[j].ReturnZ {
			return signals[i].ReturnZ < signals[j].ReturnZ
		}
		return signals[i].EventID < signals[j].EventID
	})
}

// eventBarIndex locates the first bar at or after the event timestamp,
// comparing by calendar day so intraday events map to their session and
// non-trading-day events map forward to the next session. Returns -1 when no
// such bar exists.
func eventBarIndex(bars []marketdata.Bar, occurredAt time.Time) int {
	if len(bars) == 0 {
		return -1
	}
	eventDay := occurredAt.UTC().Truncate(24 * time.Hour)
	for i, b := range bars {
		if !b.Date.Before(eventDay) {
			return i
		}
	}
	return -1
}

// simpleReturns yields close-to-close returns; element i is the return of
// bar i+1.
func simpleReturns(bars []marketdata.Bar) []float64 {
	if len(bars) < 2 {
		return nil
	}
	out := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prev := bars[i-1].Close
		if prev <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, bars[i].Close/prev-1)
	}
	return out
}

// trueRanges yields the true-range series; element i belongs to bar i.
func trueRanges(bars []marketdata.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		prevClose := 0.0
		if i > 0 {
			prevClose = bars[i-1].Close
		}
		out[i] = b.TrueRange(prevClose)
	}
	return out
}

func meanStdev(xs []float64) (float64, float64) {
	n := float64(len(xs))
	if n == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean := sum / n
	if n < 2 {
		return mean, 0
	}
	ss := 0.0
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / (n - 1))
}
