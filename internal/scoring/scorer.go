package scoring

import (
	"math"

	"github.com/matteolongo/swing-screener-sub001/internal/config"
	"github.com/matteolongo/swing-screener-sub001/internal/models"
)

// Blend weights for the catalyst score. Fixed by the scoring model, not
// configuration.
const (
	weightReaction    = 0.30
	weightATR         = 0.20
	weightPeer        = 0.15
	weightRecency     = 0.15
	weightTheme       = 0.10
	weightCredibility = 0.10

	defaultCredibility = 0.6
)

// Breakdown is the per-symbol catalyst score with its contributing parts,
// kept for explainability.
type Breakdown struct {
	Symbol  string             `json:"symbol"`
	EventID string             `json:"event_id"`
	Score   float64            `json:"score"`
	Parts   map[string]float64 `json:"parts"`
}

// Scorer combines signal strength, peer confirmation, recency decay, theme
// membership and source credibility into a bounded score per symbol.
type Scorer struct {
	halfLifeHours float64
}

// NewScorer creates a scorer from catalyst config.
func NewScorer(cfg config.CatalystConfig) *Scorer {
	return &Scorer{halfLifeHours: cfg.RecencyHalfLifeHours}
}

// ScoreSignal computes the catalyst score for a single signal. A false
// catalyst always scores exactly zero.
func (s *Scorer) ScoreSignal(sig models.CatalystSignal, themeStrength, credibility float64) (float64, map[string]float64) {
	if sig.IsFalseCatalyst {
		return 0, map[string]float64{
			"reaction": 0, "atr": 0, "peer": 0, "recency": 0, "theme": 0, "credibility": 0,
		}
	}

	reaction := clamp01(math.Max(0, sig.ReturnZ) / 3.0)
	atrScore := clamp01(math.Max(0, sig.ATRShock) / 2.0)
	peerScore := clamp01(float64(sig.PeerConfirmationCount) / 3.0)
	recency := clamp01(math.Pow(0.5, sig.RecencyHours/s.halfLifeHours))
	theme := clamp01(themeStrength)
	cred := clamp01(credibility)

	parts := map[string]float64{
		"reaction":    reaction,
		"atr":         atrScore,
		"peer":        peerScore,
		"recency":     recency,
		"theme":       theme,
		"credibility": cred,
	}
	score := weightReaction*reaction + weightATR*atrScore + weightPeer*peerScore +
		weightRecency*recency + weightTheme*theme + weightCredibility*cred
	return clamp01(score), parts
}

// ScoreSymbols scores every signal and keeps the highest-scoring one per
// symbol. Events supply source credibility by event ID (0.6 when unknown);
// clusters supply the best theme strength containing the symbol.
func (s *Scorer) ScoreSymbols(signals []models.CatalystSignal, clusters []models.ThemeCluster, events []models.Event) map[string]Breakdown {
	creds := make(map[string]float64, len(events))
	for _, ev := range events {
		creds[ev.EventID] = ev.Credibility
	}

	themeBySymbol := make(map[string]float64)
	for _, c := range clusters {
		for _, sym := range c.Symbols {
			if c.ClusterStrength > themeBySymbol[sym] {
				themeBySymbol[sym] = c.ClusterStrength
			}
		}
	}

	best := make(map[string]Breakdown)
	for _, sig := range signals {
		cred, ok := creds[sig.EventID]
		if !ok {
			cred = defaultCredibility
		}
		score, parts := s.ScoreSignal(sig, themeBySymbol[sig.Symbol], cred)
		cur, seen := best[sig.Symbol]
		if !seen || score > cur.Score {
			best[sig.Symbol] = Breakdown{
				Symbol:  sig.Symbol,
				EventID: sig.EventID,
				Score:   score,
				Parts:   parts,
			}
		}
	}
	return best
}

// ScoreMap reduces breakdowns to a plain symbol-to-score map.
func ScoreMap(breakdowns map[string]Breakdown) map[string]float64 {
	out := make(map[string]float64, len(breakdowns))
	for sym, b := range breakdowns {
		out[sym] = b.Score
	}
	return out
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
