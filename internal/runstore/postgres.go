package runstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gourab8389/migrata-new/internal/schemadiff"
)

// PostgresStore implements Store backed by a pgx pool. Runs and diffs are
// stored as jsonb documents with the lookup keys broken out as columns.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore connects and ensures schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("runstore dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return NewPostgresStoreWithPool(ctx, pool)
}

// NewPostgresStoreWithPool reuses an existing pool.
func NewPostgresStoreWithPool(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	const ddl = `
CREATE TABLE IF NOT EXISTS migration_runs (
  id text PRIMARY KEY,
  schedule_id text NOT NULL,
  status text NOT NULL,
  started_at timestamptz NOT NULL,
  doc jsonb NOT NULL
);
CREATE INDEX IF NOT EXISTS migration_runs_schedule_idx ON migration_runs (schedule_id, started_at DESC);
CREATE TABLE IF NOT EXISTS schema_diffs (
  schedule_id text PRIMARY KEY,
  doc jsonb NOT NULL
);
`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, err
	}
	return &PostgresStore{db: pool}, nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, run Run) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO migration_runs (id, schedule_id, status, started_at, doc)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, doc=EXCLUDED.doc`,
		run.ID, run.ScheduleID, run.Status, run.StartedAt, doc)
	return err
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (Run, error) {
	var doc []byte
	err := s.db.QueryRow(ctx, `SELECT doc FROM migration_runs WHERE id=$1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, err
	}
	var run Run
	if err := json.Unmarshal(doc, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

func (s *PostgresStore) LatestRun(ctx context.Context, scheduleID string) (Run, error) {
	var doc []byte
	err := s.db.QueryRow(ctx, `
SELECT doc FROM migration_runs WHERE schedule_id=$1 ORDER BY started_at DESC LIMIT 1`,
		scheduleID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, err
	}
	var run Run
	if err := json.Unmarshal(doc, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

func (s *PostgresStore) SaveDiff(ctx context.Context, res schemadiff.Result) error {
	doc, err := json.Marshal(res)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO schema_diffs (schedule_id, doc) VALUES ($1,$2)
ON CONFLICT (schedule_id) DO UPDATE SET doc=EXCLUDED.doc`,
		res.ScheduleID, doc)
	return err
}

func (s *PostgresStore) GetDiff(ctx context.Context, scheduleID string) (schemadiff.Result, error) {
	var doc []byte
	err := s.db.QueryRow(ctx, `SELECT doc FROM schema_diffs WHERE schedule_id=$1`, scheduleID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return schemadiff.Result{}, ErrNotFound
	}
	if err != nil {
		return schemadiff.Result{}, err
	}
	var res schemadiff.Result
	if err := json.Unmarshal(doc, &res); err != nil {
		return schemadiff.Result{}, err
	}
	return res, nil
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
