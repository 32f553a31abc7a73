package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/matteolongo/swing-screener-sub001/internal/models"
)

// stateLockKey is the advisory lock namespace for the symbol-state table.
const stateLockKey = 0x53594d53 // "SYMS"

const schema = `
CREATE TABLE IF NOT EXISTS daily_collections (
	asof_date  date  NOT NULL,
	collection text  NOT NULL,
	payload    jsonb NOT NULL,
	written_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (asof_date, collection)
);

CREATE TABLE IF NOT EXISTS symbol_states (
	symbol             text PRIMARY KEY,
	state              text NOT NULL,
	last_transition_at timestamptz NOT NULL,
	state_score        double precision NOT NULL,
	last_event_id      text
);`

// PostgresStore persists collections as jsonb rows and symbol states as a
// plain table, both replaced transactionally per run.
type PostgresStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgresStore opens a postgres-backed store and ensures the schema.
func NewPostgresStore(dsn string, timeout time.Duration) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresStore{db: db, timeout: timeout}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// writeCollection fully replaces one daily collection inside a transaction.
func (s *PostgresStore) writeCollection(ctx context.Context, asof time.Time, name string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO daily_collections (asof_date, collection, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (asof_date, collection)
		DO UPDATE SET payload = EXCLUDED.payload, written_at = now()`,
		DateKey(asof), name, payload)
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// WriteEvents implements Store.
func (s *PostgresStore) WriteEvents(ctx context.Context, events []models.Event, asof time.Time) error {
	return s.writeCollection(ctx, asof, "events", emptyNotNull(events))
}

// WriteSignals implements Store.
func (s *PostgresStore) WriteSignals(ctx context.Context, signals []models.CatalystSignal, asof time.Time) error {
	return s.writeCollection(ctx, asof, "signals", emptyNotNull(signals))
}

// WriteThemes implements Store.
func (s *PostgresStore) WriteThemes(ctx context.Context, themes []models.ThemeCluster, asof time.Time) error {
	return s.writeCollection(ctx, asof, "themes", emptyNotNull(themes))
}

// WriteOpportunities implements Store.
func (s *PostgresStore) WriteOpportunities(ctx context.Context, opps []models.Opportunity, asof time.Time) error {
	return s.writeCollection(ctx, asof, "opportunities", emptyNotNull(opps))
}

// LoadSymbolState implements Store.
func (s *PostgresStore) LoadSymbolState(ctx context.Context) (map[string]models.SymbolState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryxContext(ctx, `
		SELECT symbol, state, last_transition_at, state_score, COALESCE(last_event_id, '')
		FROM symbol_states`)
	if err != nil {
		return nil, fmt.Errorf("load symbol state: %w", err)
	}
	defer rows.Close()

	out := map[string]models.SymbolState{}
	for rows.Next() {
		var st models.SymbolState
		var raw string
		if err := rows.Scan(&st.Symbol, &raw, &st.LastTransitionAt, &st.StateScore, &st.LastEventID); err != nil {
			return nil, fmt.Errorf("scan symbol state: %w", err)
		}
		st.State = models.ParseLifecycleState(raw)
		out[st.Symbol] = st
	}
	return out, rows.Err()
}

// WriteSymbolState implements Store: the table is replaced in one
// transaction, inserted in symbol order.
func (s *PostgresStore) WriteSymbolState(ctx context.Context, states map[string]models.SymbolState) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	symbols := make([]string, 0, len(states))
	for sym := range states {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin symbol state tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM symbol_states`); err != nil {
		return fmt.Errorf("clear symbol states: %w", err)
	}
	for _, sym := range symbols {
		st := states[sym]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO symbol_states (symbol, state, last_transition_at, state_score, last_event_id)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''))`,
			st.Symbol, st.State.String(), st.LastTransitionAt, st.StateScore, st.LastEventID); err != nil {
			return fmt.Errorf("insert symbol state %s: %w", sym, err)
		}
	}
	return tx.Commit()
}

// AcquireStateLock implements Store via a session-scoped postgres advisory
// lock held on a dedicated connection.
func (s *PostgresStore) AcquireStateLock(ctx context.Context) (func(), error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire state lock: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, stateLockKey); err != nil {
		conn.Close()
		return nil, fmt.Errorf("acquire state lock: %w", err)
	}
	return func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, stateLockKey)
		conn.Close()
	}, nil
}
