package ingest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/matteolongo/swing-screener-sub001/internal/models"
)

// earningsCredibility is fixed: scheduled calendar entries come from the
// companies themselves.
const earningsCredibility = 0.9

// CalendarProvider expands a curated earnings calendar file
// (symbol -> list of RFC3339 timestamps) into earnings events. A missing
// file yields no events.
type CalendarProvider struct {
	Path string
}

// NewCalendarProvider creates a provider for the given yaml calendar file.
func NewCalendarProvider(path string) *CalendarProvider {
	return &CalendarProvider{Path: path}
}

// Name implements NamedGateway.
func (p *CalendarProvider) Name() string { return "earnings_calendar" }

// FetchEvents implements Gateway.
func (p *CalendarProvider) FetchEvents(ctx context.Context, symbols []string, start, end time.Time) ([]models.Event, error) {
	if len(symbols) == 0 || p.Path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(p.Path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", p.Path).Msg("earnings calendar not found")
			return nil, nil
		}
		return nil, fmt.Errorf("read earnings calendar: %w", err)
	}

	raw := map[string][]string{}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse earnings calendar %s: %w", p.Path, err)
	}

	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[strings.ToUpper(s)] = true
	}

	var out []models.Event
	for sym, stamps := range raw {
		u := strings.ToUpper(sym)
		if !wanted[u] {
			continue
		}
		for _, stamp := range stamps {
			ts, err := time.Parse(time.RFC3339, stamp)
			if err != nil {
				// Malformed timestamps degrade to a skipped entry, not a
				// failed fetch.
				log.Warn().Str("symbol", u).Str("timestamp", stamp).Msg("skipping malformed calendar entry")
				continue
			}
			if ts.Before(start) || ts.After(end) {
				continue
			}
			headline := fmt.Sprintf("%s earnings report", u)
			out = append(out, models.Event{
				EventID:     EventID(u, p.Name(), headline, ts),
				Symbol:      u,
				Source:      p.Name(),
				OccurredAt:  ts,
				Headline:    headline,
				EventType:   "earnings",
				Credibility: earningsCredibility,
			})
		}
	}
	return out, nil
}
