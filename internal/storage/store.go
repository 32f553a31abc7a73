package storage

import (
	"context"
	"time"

	"github.com/matteolongo/swing-screener-sub001/internal/models"
)

// Store persists the five pipeline outputs. Daily collections are named by
// asof date (YYYY-MM-DD) and fully overwritten per run; the symbol-state
// table is a single table overwritten atomically on each write.
type Store interface {
	WriteEvents(ctx context.Context, events []models.Event, asof time.Time) error
	WriteSignals(ctx context.Context, signals []models.CatalystSignal, asof time.Time) error
	WriteThemes(ctx context.Context, themes []models.ThemeCluster, asof time.Time) error
	WriteOpportunities(ctx context.Context, opps []models.Opportunity, asof time.Time) error

	LoadSymbolState(ctx context.Context) (map[string]models.SymbolState, error)
	WriteSymbolState(ctx context.Context, states map[string]models.SymbolState) error

	// AcquireStateLock serializes the load-modify-write of the symbol-state
	// table across concurrent runs. The returned release function must be
	// called exactly once.
	AcquireStateLock(ctx context.Context) (release func(), err error)
}

// DateKey formats the asof timestamp as the collection name.
func DateKey(asof time.Time) string {
	return asof.UTC().Format("2006-01-02")
}
