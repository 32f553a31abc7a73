package lifecycle

import (
	"time"

	"github.com/matteolongo/swing-screener-sub001/internal/config"
	"github.com/matteolongo/swing-screener-sub001/internal/models"
)

// Strength blend weights for a genuine signal.
const (
	strengthWeightReturnZ  = 0.5
	strengthWeightATRShock = 0.3
	strengthWeightPeers    = 0.2

	coolDownScoreFactor = 0.6
)

// Machine advances per-symbol lifecycle records. Transition is a pure
// function of (previous state, best signal or none, elapsed time, theme
// membership, policy); it never reads the wall clock.
type Machine struct {
	policy config.StateMachinePolicy
}

// NewMachine creates a state machine with the given policy.
func NewMachine(policy config.StateMachinePolicy) *Machine {
	return &Machine{policy: policy}
}

// SignalStrength is the activation measure of a genuine signal.
func SignalStrength(sig models.CatalystSignal) float64 {
	return strengthWeightReturnZ*clamp01(sig.ReturnZ/3.0) +
		strengthWeightATRShock*clamp01(sig.ATRShock/2.0) +
		strengthWeightPeers*clamp01(float64(sig.PeerConfirmationCount)/3.0)
}

// Transition computes the next state for one symbol. sig is the symbol's best
// signal for this run, nil when the run produced none. themed reports
// membership in an active theme cluster.
func (m *Machine) Transition(prev models.SymbolState, sig *models.CatalystSignal, themed bool, asof time.Time) models.SymbolState {
	elapsed := asof.Sub(prev.LastTransitionAt).Hours()

	next := prev
	sameState := func(score float64) models.SymbolState {
		// No transition: last_transition_at is preserved.
		n := prev
		if score > n.StateScore {
			n.StateScore = score
		}
		return n
	}
	transition := func(state models.LifecycleState, score float64) models.SymbolState {
		n := prev
		n.State = state
		n.StateScore = clamp01(score)
		n.LastTransitionAt = asof
		return n
	}

	if sig == nil {
		return m.decay(prev, elapsed, asof)
	}

	if sig.IsFalseCatalyst {
		if prev.State == models.StateCatalystActive || prev.State == models.StateTrending {
			next = transition(models.StateCoolingOff, prev.StateScore*coolDownScoreFactor)
		} else if prev.State == models.StateQuiet {
			next = sameState(0)
			next.StateScore = 0
		} else {
			next = transition(models.StateQuiet, 0)
		}
		next.LastEventID = sig.EventID
		return next
	}

	strength := SignalStrength(*sig)
	wasActive := prev.State == models.StateCatalystActive || prev.State == models.StateTrending
	fresh := sig.RecencyHours < m.policy.FreshSignalHours

	var target models.LifecycleState
	switch {
	case strength >= m.policy.ActivationThreshold && fresh:
		target = models.StateCatalystActive
	case (strength >= m.policy.TrendingThreshold && (themed || wasActive)) ||
		(wasActive && strength >= m.policy.WatchThreshold):
		target = models.StateTrending
	case strength >= m.policy.WatchThreshold:
		target = models.StateWatch
	case wasActive:
		target = models.StateCoolingOff
	default:
		target = models.StateWatch
	}

	if target == prev.State {
		next = sameState(strength)
	} else {
		next = transition(target, strength)
	}
	next.LastEventID = sig.EventID
	return next
}

// decay applies the pure time-based hysteresis rules for symbols without a
// new signal this run.
func (m *Machine) decay(prev models.SymbolState, elapsed float64, asof time.Time) models.SymbolState {
	expire := func(state models.LifecycleState, score float64) models.SymbolState {
		n := prev
		n.State = state
		n.StateScore = clamp01(score)
		n.LastTransitionAt = asof
		return n
	}

	switch prev.State {
	case models.StateWatch:
		if elapsed >= m.policy.WatchExpiryHours {
			return expire(models.StateQuiet, 0)
		}
	case models.StateCatalystActive:
		if elapsed >= m.policy.ActiveToTrendingHours {
			return expire(models.StateTrending, prev.StateScore)
		}
	case models.StateTrending:
		if elapsed >= m.policy.TrendingToCoolingHours {
			return expire(models.StateCoolingOff, prev.StateScore)
		}
	case models.StateCoolingOff:
		if elapsed >= m.policy.CoolingToQuietHours {
			return expire(models.StateQuiet, 0)
		}
	}
	return prev
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
