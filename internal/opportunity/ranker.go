package opportunity

import (
	"fmt"
	"sort"

	"github.com/matteolongo/swing-screener-sub001/internal/config"
	"github.com/matteolongo/swing-screener-sub001/internal/models"
)

// Ranker blends technical readiness with catalyst strength into ranked
// opportunities for one run.
type Ranker struct {
	cfg config.OpportunityConfig
}

// NewRanker creates a ranker. The config is assumed normalized (weights sum
// to 1).
func NewRanker(cfg config.OpportunityConfig) *Ranker {
	return &Ranker{cfg: cfg}
}

// Rank scores the union of symbols across the technical, catalyst and state
// maps, drops symbols below the minimum score, and returns at most
// max_daily_opportunities records in deterministic order.
func (r *Ranker) Rank(technical, catalyst map[string]float64, states map[string]models.SymbolState) []models.Opportunity {
	universe := make(map[string]bool, len(technical)+len(catalyst)+len(states))
	for sym := range technical {
		universe[sym] = true
	}
	for sym := range catalyst {
		universe[sym] = true
	}
	for sym := range states {
		universe[sym] = true
	}

	opps := make([]models.Opportunity, 0, len(universe))
	for sym := range universe {
		tech := clamp01(technical[sym])
		cat := clamp01(catalyst[sym])
		score := clamp01(r.cfg.TechnicalWeight*tech + r.cfg.CatalystWeight*cat)
		if score < r.cfg.MinOpportunityScore {
			continue
		}

		state := models.StateQuiet
		if st, ok := states[sym]; ok {
			state = st.State
		}

		opps = append(opps, models.Opportunity{
			Symbol:             sym,
			TechnicalReadiness: tech,
			CatalystStrength:   cat,
			OpportunityScore:   score,
			State:              state,
			Explanations: []string{
				fmt.Sprintf("technical_readiness=%.3f weight=%.2f", tech, r.cfg.TechnicalWeight),
				fmt.Sprintf("catalyst_strength=%.3f weight=%.2f", cat, r.cfg.CatalystWeight),
				fmt.Sprintf("lifecycle_state=%s", state),
			},
		})
	}

	sort.SliceStable(opps, func(i, j int) bool {
		a, b := opps[i], opps[j]
		if a.OpportunityScore != b.OpportunityScore {
			return a.OpportunityScore > b.OpportunityScore
		}
		if a.CatalystStrength != b.CatalystStrength {
			return a.CatalystStrength > b.CatalystStrength
		}
		if a.TechnicalReadiness != b.TechnicalReadiness {
			return a.TechnicalReadiness > b.TechnicalReadiness
		}
		return a.Symbol < b.Symbol
	})

	max := r.cfg.MaxDailyOpportunities
	if max < 1 {
		max = 1
	}
	if len(opps) > max {
		opps = opps[:max]
	}
	return opps
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
