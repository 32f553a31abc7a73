package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// CatalystConfig controls reaction evaluation and signal construction.
type CatalystConfig struct {
	LookbackHours            float64 `yaml:"lookback_hours"`
	RecencyHalfLifeHours     float64 `yaml:"recency_half_life_hours"`
	FalseCatalystReturnZ     float64 `yaml:"false_catalyst_return_z"`
	MinPriceReactionATR      float64 `yaml:"min_price_reaction_atr"`
	RequirePriceConfirmation bool    `yaml:"require_price_confirmation"`
	ATRWindow                int     `yaml:"atr_window"`
}

// ThemeConfig controls peer confirmation and theme clustering.
type ThemeConfig struct {
	Enabled             bool   `yaml:"enabled"`
	MinClusterSize      int    `yaml:"min_cluster_size"`
	MinPeerConfirmation int    `yaml:"min_peer_confirmation"`
	NamePrefix          string `yaml:"name_prefix"`
}

// OpportunityConfig controls the opportunity ranker.
type OpportunityConfig struct {
	TechnicalWeight       float64 `yaml:"technical_weight"`
	CatalystWeight        float64 `yaml:"catalyst_weight"`
	MaxDailyOpportunities int     `yaml:"max_daily_opportunities"`
	MinOpportunityScore   float64 `yaml:"min_opportunity_score"`
}

// StateMachinePolicy controls lifecycle transitions. Hour fields are
// hysteresis windows; threshold fields gate signal strength.
type StateMachinePolicy struct {
	WatchExpiryHours       float64 `yaml:"watch_expiry_hours"`
	ActiveToTrendingHours  float64 `yaml:"active_to_trending_hours"`
	TrendingToCoolingHours float64 `yaml:"trending_to_cooling_hours"`
	CoolingToQuietHours    float64 `yaml:"cooling_to_quiet_hours"`
	ActivationThreshold    float64 `yaml:"activation_threshold"`
	TrendingThreshold      float64 `yaml:"trending_threshold"`
	WatchThreshold         float64 `yaml:"watch_threshold"`
	FreshSignalHours       float64 `yaml:"fresh_signal_hours"`
}

// PostgresConfig configures the optional postgres store. Empty DSN selects
// the file store.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// RedisConfig configures the optional OHLCV cache. Empty addr disables it.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// Config is the top-level configuration for one pipeline deployment.
type Config struct {
	Catalyst     CatalystConfig     `yaml:"catalyst"`
	Theme        ThemeConfig        `yaml:"theme"`
	Opportunity  OpportunityConfig  `yaml:"opportunity"`
	StateMachine StateMachinePolicy `yaml:"state_machine"`
	PeerMapPath  string             `yaml:"peer_map_path"`
	DataDir      string             `yaml:"data_dir"`
	Postgres     PostgresConfig     `yaml:"postgres"`
	Redis        RedisConfig        `yaml:"redis"`
}

// Default returns the documented fallback configuration.
func Default() Config {
	return Config{
		Catalyst: CatalystConfig{
			LookbackHours:            72,
			RecencyHalfLifeHours:     36,
			FalseCatalystReturnZ:     1.5,
			MinPriceReactionATR:      0.8,
			RequirePriceConfirmation: true,
			ATRWindow:                14,
		},
		Theme: ThemeConfig{
			Enabled:             true,
			MinClusterSize:      3,
			MinPeerConfirmation: 2,
			NamePrefix:          "theme",
		},
		Opportunity: OpportunityConfig{
			TechnicalWeight:       0.55,
			CatalystWeight:        0.45,
			MaxDailyOpportunities: 8,
			MinOpportunityScore:   0.55,
		},
		StateMachine: StateMachinePolicy{
			WatchExpiryHours:       48,
			ActiveToTrendingHours:  72,
			TrendingToCoolingHours: 96,
			CoolingToQuietHours:    48,
			ActivationThreshold:    0.7,
			TrendingThreshold:      0.5,
			WatchThreshold:         0.3,
			FreshSignalHours:       48,
		},
		DataDir: "data",
	}
}

// Load reads a yaml config file over the defaults and normalizes it. A
// missing file is not an error: the defaults are returned as-is.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", path).Msg("config file not found, using defaults")
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Normalize clamps every option back to its documented default when the
// supplied value is out of range. Invalid input never raises; each fallback
// is logged once at warn.
func (c *Config) Normalize() {
	d := Default()

	fallbackF := func(field string, v *float64, bad bool, def float64) {
		if bad {
			log.Warn().Str("option", field).Float64("invalid", *v).Float64("fallback", def).
				Msg("config value out of range, reverting to default")
			*v = def
		}
	}
	fallbackI := func(field string, v *int, bad bool, def int) {
		if bad {
			log.Warn().Str("option", field).Int("invalid", *v).Int("fallback", def).
				Msg("config value out of range, reverting to default")
			*v = def
		}
	}

	ca := &c.Catalyst
	fallbackF("catalyst.lookback_hours", &ca.LookbackHours, ca.LookbackHours <= 0, d.Catalyst.LookbackHours)
	fallbackF("catalyst.recency_half_life_hours", &ca.RecencyHalfLifeHours, ca.RecencyHalfLifeHours <= 0, d.Catalyst.RecencyHalfLifeHours)
	fallbackF("catalyst.false_catalyst_return_z", &ca.FalseCatalystReturnZ, ca.FalseCatalystReturnZ <= 0, d.Catalyst.FalseCatalystReturnZ)
	fallbackF("catalyst.min_price_reaction_atr", &ca.MinPriceReactionATR, ca.MinPriceReactionATR <= 0, d.Catalyst.MinPriceReactionATR)
	fallbackI("catalyst.atr_window", &ca.ATRWindow, ca.ATRWindow < 2, d.Catalyst.ATRWindow)

	th := &c.Theme
	fallbackI("theme.min_cluster_size", &th.MinClusterSize, th.MinClusterSize < 2, d.Theme.MinClusterSize)
	fallbackI("theme.min_peer_confirmation", &th.MinPeerConfirmation, th.MinPeerConfirmation < 0, d.Theme.MinPeerConfirmation)
	if th.NamePrefix == "" {
		th.NamePrefix = d.Theme.NamePrefix
	}

	op := &c.Opportunity
	// Weights renormalize to sum 1 when both are non-negative and not both
	// zero; otherwise both reset to defaults.
	if op.TechnicalWeight < 0 || op.CatalystWeight < 0 || op.TechnicalWeight+op.CatalystWeight == 0 {
		log.Warn().Float64("technical", op.TechnicalWeight).Float64("catalyst", op.CatalystWeight).
			Msg("opportunity weights invalid, reverting to defaults")
		op.TechnicalWeight = d.Opportunity.TechnicalWeight
		op.CatalystWeight = d.Opportunity.CatalystWeight
	} else {
		sum := op.TechnicalWeight + op.CatalystWeight
		op.TechnicalWeight /= sum
		op.CatalystWeight /= sum
	}
	fallbackI("opportunity.max_daily_opportunities", &op.MaxDailyOpportunities, op.MaxDailyOpportunities < 1, d.Opportunity.MaxDailyOpportunities)
	fallbackF("opportunity.min_opportunity_score", &op.MinOpportunityScore, op.MinOpportunityScore < 0 || op.MinOpportunityScore > 1, d.Opportunity.MinOpportunityScore)

	sm := &c.StateMachine
	fallbackF("state_machine.watch_expiry_hours", &sm.WatchExpiryHours, sm.WatchExpiryHours <= 0, d.StateMachine.WatchExpiryHours)
	fallbackF("state_machine.active_to_trending_hours", &sm.ActiveToTrendingHours, sm.ActiveToTrendingHours <= 0, d.StateMachine.ActiveToTrendingHours)
	fallbackF("state_machine.trending_to_cooling_hours", &sm.TrendingToCoolingHours, sm.TrendingToCoolingHours <= 0, d.StateMachine.TrendingToCoolingHours)
	fallbackF("state_machine.cooling_to_quiet_hours", &sm.CoolingToQuietHours, sm.CoolingToQuietHours <= 0, d.StateMachine.CoolingToQuietHours)
	fallbackF("state_machine.activation_threshold", &sm.ActivationThreshold, sm.ActivationThreshold <= 0 || sm.ActivationThreshold > 1, d.StateMachine.ActivationThreshold)
	fallbackF("state_machine.trending_threshold", &sm.TrendingThreshold, sm.TrendingThreshold <= 0 || sm.TrendingThreshold > 1, d.StateMachine.TrendingThreshold)
	fallbackF("state_machine.watch_threshold", &sm.WatchThreshold, sm.WatchThreshold <= 0 || sm.WatchThreshold > 1, d.StateMachine.WatchThreshold)
	fallbackF("state_machine.fresh_signal_hours", &sm.FreshSignalHours, sm.FreshSignalHours <= 0, d.StateMachine.FreshSignalHours)

	if c.Postgres.TimeoutSeconds <= 0 {
		c.Postgres.TimeoutSeconds = 10
	}
	if c.Redis.TTLSeconds <= 0 {
		c.Redis.TTLSeconds = 900
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
}
