package syncstate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Scope addresses the state of one configuration inside a project.
type Scope struct {
	ProjectID       string
	ComponentID     string
	ConfigurationID string
}

func (s Scope) key() string {
	return s.ComponentID + "/" + s.ConfigurationID
}

// Stored is a snapshot together with its optimistic-lock version.
type Stored struct {
	Snapshot Snapshot
	Version  int64
}

// ErrVersionMismatch is returned by Save when another writer won the race.
var ErrVersionMismatch = errors.New("state version mismatch")

// Repository persists run output snapshots between runs.
type Repository interface {
	// Load returns the stored snapshot, or an empty one at version 0.
	Load(ctx context.Context, scope Scope) (*Stored, error)
	// Save replaces the snapshot stored at expectedVersion. Version 0 means
	// no state may exist yet. A lost race returns ErrVersionMismatch.
	Save(ctx context.Context, scope Scope, snap Snapshot, expectedVersion int64) (int64, error)
	Close() error
}

// MemoryRepository keeps snapshots in process, for tests and local runs.
type MemoryRepository struct {
	mu   sync.Mutex
	data map[string]memoryEntry
}

type memoryEntry struct {
	raw     []byte
	version int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{data: make(map[string]memoryEntry)}
}

func (r *MemoryRepository) Load(ctx context.Context, scope Scope) (*Stored, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	entry, ok := r.data[memoryKey(scope)]
	r.mu.Unlock()
	if !ok {
		return &Stored{Snapshot: Snapshot{Tables: []TableState{}, Files: []FileState{}}}, nil
	}
	snap, err := Deserialize(entry.raw)
	if err != nil {
		return nil, err
	}
	return &Stored{Snapshot: snap, Version: entry.version}, nil
}

func (r *MemoryRepository) Save(ctx context.Context, scope Scope, snap Snapshot, expectedVersion int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	raw, err := Serialize(snap)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memoryKey(scope)
	current := r.data[key]
	if current.version != expectedVersion {
		return 0, fmt.Errorf("%w: expected %d got %d", ErrVersionMismatch, expectedVersion, current.version)
	}
	next := current.version + 1
	r.data[key] = memoryEntry{raw: raw, version: next}
	return next, nil
}

func (r *MemoryRepository) Close() error { return nil }

func memoryKey(scope Scope) string {
	return scope.ProjectID + "|" + scope.key()
}

// PostgresRepository stores snapshots as jsonb rows with a version column.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects to dsn and ensures the state table exists.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	if dsn == "" {
		return nil, errors.New("state database dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect state database: %w", err)
	}
	repo, err := NewPostgresRepositoryWithPool(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// NewPostgresRepositoryWithPool reuses an existing pool.
func NewPostgresRepositoryWithPool(ctx context.Context, pool *pgxpool.Pool) (*PostgresRepository, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if err := ensureStateTable(ctx, pool); err != nil {
		return nil, err
	}
	return &PostgresRepository{pool: pool}, nil
}

func ensureStateTable(ctx context.Context, pool *pgxpool.Pool) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sync_state (
  project_id text NOT NULL,
  key text NOT NULL,
  value jsonb NOT NULL,
  version bigint NOT NULL DEFAULT 0,
  updated_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (project_id, key)
);
`
	_, err := pool.Exec(ctx, ddl)
	return err
}

func (r *PostgresRepository) Load(ctx context.Context, scope Scope) (*Stored, error) {
	var raw []byte
	var version int64
	err := r.pool.QueryRow(ctx, `SELECT value, version FROM sync_state WHERE project_id=$1 AND key=$2`,
		scope.ProjectID, scope.key()).Scan(&raw, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &Stored{Snapshot: Snapshot{Tables: []TableState{}, Files: []FileState{}}}, nil
		}
		return nil, fmt.Errorf("load state %s: %w", scope.key(), err)
	}
	snap, err := Deserialize(raw)
	if err != nil {
		return nil, err
	}
	return &Stored{Snapshot: snap, Version: version}, nil
}

func (r *PostgresRepository) Save(ctx context.Context, scope Scope, snap Snapshot, expectedVersion int64) (int64, error) {
	raw, err := Serialize(snap)
	if err != nil {
		return 0, err
	}

	if expectedVersion == 0 {
		tag, err := r.pool.Exec(ctx, `INSERT INTO sync_state (project_id, key, value, version) VALUES ($1,$2,$3,1)
ON CONFLICT (project_id, key) DO NOTHING`, scope.ProjectID, scope.key(), raw)
		if err != nil {
			return 0, fmt.Errorf("save state %s: %w", scope.key(), err)
		}
		if tag.RowsAffected() == 0 {
			return 0, fmt.Errorf("%w: expected no state for %s", ErrVersionMismatch, scope.key())
		}
		return 1, nil
	}

	next := expectedVersion + 1
	tag, err := r.pool.Exec(ctx, `UPDATE sync_state SET value=$1, version=$2, updated_at=now()
WHERE project_id=$3 AND key=$4 AND version=$5`, raw, next, scope.ProjectID, scope.key(), expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("save state %s: %w", scope.key(), err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("%w: expected version %d for %s", ErrVersionMismatch, expectedVersion, scope.key())
	}
	return next, nil
}

func (r *PostgresRepository) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}
