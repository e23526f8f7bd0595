package staging

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/gourab8389/migrata-new/internal/org"
)

// PostgresStore implements Store backed by Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to Postgres and ensures schema exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("staging dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, wrapError(CodeStagingUnavailable, true, err)
	}
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return NewPostgresStoreWithDB(db)
}

// NewPostgresStoreWithDB reuses an existing *sql.DB.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if err := ensureTables(db); err != nil {
		return nil, wrapError(CodeStagingUnavailable, true, err)
	}
	return &PostgresStore{db: db}, nil
}

func ensureTables(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS staged_records (
  object_name text NOT NULL,
  source_org text NOT NULL,
  source_id text NOT NULL,
  unique_key text NOT NULL,
  content_hash text NOT NULL,
  fields jsonb NOT NULL,
  staged_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (object_name, source_org, source_id)
);
CREATE TABLE IF NOT EXISTS staging_sync (
  object_name text NOT NULL,
  source_org text NOT NULL,
  last_sync timestamptz NOT NULL,
  PRIMARY KEY (object_name, source_org)
);
`
	_, err := db.Exec(ddl)
	return err
}

func (s *PostgresStore) Put(ctx context.Context, records []StagedRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError(CodeStagingUnavailable, true, err)
	}
	defer tx.Rollback()

	const upsert = `
INSERT INTO staged_records (object_name, source_org, source_id, unique_key, content_hash, fields, staged_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (object_name, source_org, source_id)
DO UPDATE SET unique_key=EXCLUDED.unique_key, content_hash=EXCLUDED.content_hash,
              fields=EXCLUDED.fields, staged_at=EXCLUDED.staged_at`
	for _, rec := range records {
		payload, err := json.Marshal(rec.Fields)
		if err != nil {
			return wrapError(CodeStagingConflict, false, err)
		}
		stagedAt := rec.StagedAt
		if stagedAt.IsZero() {
			stagedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, upsert,
			rec.Object, rec.SourceOrg, rec.SourceID, rec.UniqueKey, rec.ContentHash, payload, stagedAt); err != nil {
			return wrapError(CodeStagingUnavailable, true, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapError(CodeStagingUnavailable, true, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, object, sourceOrg string) ([]StagedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT source_id, unique_key, content_hash, fields, staged_at
FROM staged_records WHERE object_name=$1 AND source_org=$2 ORDER BY staged_at, source_id`,
		object, sourceOrg)
	if err != nil {
		return nil, wrapError(CodeStagingUnavailable, true, err)
	}
	defer rows.Close()

	var out []StagedRecord
	for rows.Next() {
		rec := StagedRecord{Object: object, SourceOrg: sourceOrg}
		var payload []byte
		if err := rows.Scan(&rec.SourceID, &rec.UniqueKey, &rec.ContentHash, &payload, &rec.StagedAt); err != nil {
			return nil, wrapError(CodeStagingUnavailable, true, err)
		}
		fields := org.Record{}
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, wrapError(CodeStagingConflict, false, err)
		}
		rec.Fields = fields
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(CodeStagingUnavailable, true, err)
	}
	return out, nil
}

func (s *PostgresStore) Clear(ctx context.Context, object, sourceOrg string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM staged_records WHERE object_name=$1 AND source_org=$2`, object, sourceOrg); err != nil {
		return wrapError(CodeStagingUnavailable, true, err)
	}
	return nil
}

func (s *PostgresStore) SetLastSync(ctx context.Context, object, sourceOrg string, ts time.Time) error {
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO staging_sync (object_name, source_org, last_sync) VALUES ($1,$2,$3)
ON CONFLICT (object_name, source_org) DO UPDATE SET last_sync=EXCLUDED.last_sync`,
		object, sourceOrg, ts); err != nil {
		return wrapError(CodeStagingUnavailable, true, err)
	}
	return nil
}

func (s *PostgresStore) LastSync(ctx context.Context, object, sourceOrg string) (time.Time, error) {
	var ts time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sync FROM staging_sync WHERE object_name=$1 AND source_org=$2`,
		object, sourceOrg).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, wrapError(CodeStagingUnavailable, true, err)
	}
	return ts, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

var _ Store = (*PostgresStore)(nil)
