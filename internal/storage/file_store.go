package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/matteolongo/swing-screener-sub001/internal/models"
)

const (
	lockRetryInterval = 100 * time.Millisecond

	// lockStaleAfter bounds how long a lock file left by a crashed process
	// can block later runs. Runs hold the lock for well under a minute.
	lockStaleAfter = 10 * time.Minute
)

// FileStore persists collections as JSON files under a data directory:
//
//	<dir>/daily/<YYYY-MM-DD>/{events,signals,themes,opportunities}.json
//	<dir>/symbol_states.json
//
// Every write goes through a temp file and rename so a cancelled run never
// leaves a half-written collection. The symbol-state table is guarded by an
// advisory lock file.
type FileStore struct {
	dir string
}

// NewFileStore creates a file store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) dailyPath(asof time.Time, name string) string {
	return filepath.Join(s.dir, "daily", DateKey(asof), name+".json")
}

// writeJSONAtomic writes v as indented JSON via temp file + rename.
func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// WriteEvents implements Store.
func (s *FileStore) WriteEvents(ctx context.Context, events []models.Event, asof time.Time) error {
	return writeJSONAtomic(s.dailyPath(asof, "events"), emptyNotNull(events))
}

// WriteSignals implements Store.
func (s *FileStore) WriteSignals(ctx context.Context, signals []models.CatalystSignal, asof time.Time) error {
	return writeJSONAtomic(s.dailyPath(asof, "signals"), emptyNotNull(signals))
}

// WriteThemes implements Store.
func (s *FileStore) WriteThemes(ctx context.Context, themes []models.ThemeCluster, asof time.Time) error {
	return writeJSONAtomic(s.dailyPath(asof, "themes"), emptyNotNull(themes))
}

// WriteOpportunities implements Store.
func (s *FileStore) WriteOpportunities(ctx context.Context, opps []models.Opportunity, asof time.Time) error {
	return writeJSONAtomic(s.dailyPath(asof, "opportunities"), emptyNotNull(opps))
}

// emptyNotNull keeps empty collections as [] rather than null on disk.
func emptyNotNull[T any](xs []T) []T {
	if xs == nil {
		return []T{}
	}
	return xs
}

func (s *FileStore) statePath() string { return filepath.Join(s.dir, "symbol_states.json") }

// LoadSymbolState implements Store. A missing table is an empty map.
func (s *FileStore) LoadSymbolState(ctx context.Context) (map[string]models.SymbolState, error) {
	b, err := os.ReadFile(s.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]models.SymbolState{}, nil
		}
		return nil, fmt.Errorf("load symbol state: %w", err)
	}
	var list []models.SymbolState
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, fmt.Errorf("parse symbol state: %w", err)
	}
	out := make(map[string]models.SymbolState, len(list))
	for _, st := range list {
		out[st.Symbol] = st
	}
	return out, nil
}

// WriteSymbolState implements Store. The table is written sorted by symbol
// for reproducible diffs.
func (s *FileStore) WriteSymbolState(ctx context.Context, states map[string]models.SymbolState) error {
	list := make([]models.SymbolState, 0, len(states))
	for _, st := range states {
		list = append(list, st)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Symbol < list[j].Symbol })
	return writeJSONAtomic(s.statePath(), list)
}

// AcquireStateLock implements Store using an advisory lock file. Waiting
// runs poll until the holder releases or the context expires; a lock file
// untouched for longer than lockStaleAfter is treated as abandoned by a
// crashed process and broken.
func (s *FileStore) AcquireStateLock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, err
	}
	lockPath := filepath.Join(s.dir, "symbol_states.lock")
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "pid=%d\n", os.Getpid())
			f.Close()
			return func() {
				if err := os.Remove(lockPath); err != nil {
					log.Warn().Err(err).Str("path", lockPath).Msg("failed to release state lock")
				}
			}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("acquire state lock: %w", err)
		}
		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > lockStaleAfter {
			log.Warn().Str("path", lockPath).Time("mtime", info.ModTime()).
				Msg("breaking stale state lock")
			if rmErr := os.Remove(lockPath); rmErr != nil && !os.IsNotExist(rmErr) {
				return nil, fmt.Errorf("break stale state lock: %w", rmErr)
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire state lock: %w", ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}
}
