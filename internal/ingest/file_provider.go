package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/matteolongo/swing-screener-sub001/internal/models"
)

// FileProvider reads normalized event records from `events-*.json` files in
// a directory. Each file holds a JSON array of events. Records missing an
// event ID get a content-derived one; credibility is clamped to [0,1].
type FileProvider struct {
	Dir string
}

// NewFileProvider creates a provider rooted at dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{Dir: dir}
}

// Name implements NamedGateway.
func (p *FileProvider) Name() string { return "file" }

// FetchEvents implements Gateway, filtering by symbol set and time window.
func (p *FileProvider) FetchEvents(ctx context.Context, symbols []string, start, end time.Time) ([]models.Event, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	paths, err := filepath.Glob(filepath.Join(p.Dir, "events-*.json"))
	if err != nil {
		return nil, fmt.Errorf("glob event files: %w", err)
	}
	sort.Strings(paths)

	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[strings.ToUpper(s)] = true
	}

	var out []models.Event
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var events []models.Event
		if err := json.Unmarshal(b, &events); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		for _, ev := range events {
			ev.Symbol = strings.ToUpper(ev.Symbol)
			if !wanted[ev.Symbol] {
				continue
			}
			if ev.OccurredAt.Before(start) || ev.OccurredAt.After(end) {
				continue
			}
			if ev.EventID == "" {
				ev.EventID = EventID(ev.Symbol, ev.Source, ev.Headline, ev.OccurredAt)
			}
			if ev.Credibility < 0 {
				ev.Credibility = 0
			}
			if ev.Credibility > 1 {
				ev.Credibility = 1
			}
			out = append(out, ev)
		}
	}
	log.Debug().Int("events", len(out)).Int("files", len(paths)).Msg("file provider fetch")
	return out, nil
}
