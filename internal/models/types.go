package models

import (
	"encoding/json"
	"time"
)

// Event is a normalized market catalyst event produced by the ingestion
// gateway. Events are immutable once created; EventID is content-derived so
// the same story fetched twice deduplicates.
type Event struct {
	EventID     string            `json:"event_id"`
	Symbol      string            `json:"symbol"`
	Source      string            `json:"source"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Headline    string            `json:"headline"`
	EventType   string            `json:"event_type"`
	Credibility float64           `json:"credibility"` // 0.0-1.0 source credibility
	URL         string            `json:"url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ReactionMetrics captures the measured price/volatility reaction of a symbol
// to a single event.
type ReactionMetrics struct {
	Valid       bool      `json:"valid"`
	EventBar    time.Time `json:"event_bar"`
	EventReturn float64   `json:"event_return"`
	ReturnZ     float64   `json:"return_z"`
	ATR         float64   `json:"atr"`
	ATRShock    float64   `json:"atr_shock"`
	Reasons     []string  `json:"reasons,omitempty"`
}

// CatalystSignal is the evaluated reaction for one event. Created by the
// reaction evaluator with PeerConfirmationCount=0, then enriched (count filled
// in, reasons appended) by the relations stage. Enrichment returns a new
// value; signals are otherwise immutable.
type CatalystSignal struct {
	Symbol                string   `json:"symbol"`
	EventID               string   `json:"event_id"`
	ReturnZ               float64  `json:"return_z"`
	ATRShock              float64  `json:"atr_shock"`
	PeerConfirmationCount int      `json:"peer_confirmation_count"`
	RecencyHours          float64  `json:"recency_hours"`
	IsFalseCatalyst       bool     `json:"is_false_catalyst"`
	Reasons               []string `json:"reasons,omitempty"`
}

// ThemeCluster is a connected group of symbols whose catalysts mutually
// confirm one another. Recomputed each run, never persisted incrementally.
type ThemeCluster struct {
	ThemeID         string   `json:"theme_id"`
	Name            string   `json:"name"`
	Symbols         []string `json:"symbols"`         // sorted
	ClusterStrength float64  `json:"cluster_strength"` // 0.0-1.0
	DriverSignals   []string `json:"driver_signals"`  // sorted event IDs
}

// Contains reports whether the cluster includes the given symbol.
func (c ThemeCluster) Contains(symbol string) bool {
	for _, s := range c.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Opportunity is a ranked symbol-level output blending technical readiness
// and catalyst strength for the current run.
type Opportunity struct {
	Symbol             string         `json:"symbol"`
	TechnicalReadiness float64        `json:"technical_readiness"` // 0.0-1.0
	CatalystStrength   float64        `json:"catalyst_strength"`   // 0.0-1.0
	OpportunityScore   float64        `json:"opportunity_score"`   // 0.0-1.0
	State              LifecycleState `json:"state"`
	Explanations       []string       `json:"explanations,omitempty"`
}

// SymbolState is the per-symbol lifecycle record, the only entity with
// cross-run lifetime. Owned by the storage collaborator between runs.
type SymbolState struct {
	Symbol           string         `json:"symbol"`
	State            LifecycleState `json:"state"`
	LastTransitionAt time.Time      `json:"last_transition_at"`
	StateScore       float64        `json:"state_score"` // 0.0-1.0
	LastEventID      string         `json:"last_event_id,omitempty"`
}

// NewSymbolState returns a fresh QUIET record for a never-seen symbol.
func NewSymbolState(symbol string, asof time.Time) SymbolState {
	return SymbolState{
		Symbol:           symbol,
		State:            StateQuiet,
		LastTransitionAt: asof,
		StateScore:       0,
	}
}

// LifecycleState is a symbol's attention/momentum phase. The set is closed:
// unknown values decode to QUIET rather than minting new states.
type LifecycleState string

const (
	StateQuiet          LifecycleState = "QUIET"
	StateWatch          LifecycleState = "WATCH"
	StateCatalystActive LifecycleState = "CATALYST_ACTIVE"
	StateTrending       LifecycleState = "TRENDING"
	StateCoolingOff     LifecycleState = "COOLING_OFF"
)

// ParseLifecycleState maps a raw string onto the closed state set, falling
// back to QUIET for anything unrecognized.
func ParseLifecycleState(s string) LifecycleState {
	switch LifecycleState(s) {
	case StateQuiet, StateWatch, StateCatalystActive, StateTrending, StateCoolingOff:
		return LifecycleState(s)
	default:
		return StateQuiet
	}
}

// UnmarshalJSON decodes with the QUIET fallback so persisted tables written
// by older builds can never introduce an undefined state.
func (s *LifecycleState) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = ParseLifecycleState(raw)
	return nil
}

func (s LifecycleState) String() string { return string(s) }

// Reason codes attached to signals and reaction metrics. These are stable
// identifiers consumed by the reporting layer; changing one is a breaking
// change.
const (
	ReasonSymbolDataMissing   = "symbol_data_missing"
	ReasonInsufficientHistory = "insufficient_history"
	ReasonATRUnavailable      = "atr_unavailable"
	ReasonWeakReturnZ         = "return_z_below_threshold"
	ReasonWeakATRShock        = "atr_shock_below_threshold"
	ReasonInvalidReaction     = "invalid_reaction"
	ReasonPeerConfirmation    = "peer_confirmation" // rendered as peer_confirmation:<n>
)
