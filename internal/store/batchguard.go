package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// BatchGuard implements spec §4.5: get_or_create_processing_batch(kind) must
// return exactly one new batch id under concurrent callers, with every other
// caller observing the same id. SQLite serializes writes at the connection
// level, but the "check, then maybe insert" logic here is itself a race
// unless it is wrapped in its own critical section — so BatchGuard adds a
// single in-process mutex around a transaction that re-checks for a
// reusable batch before creating one. The mutex is not keyed by kind: calls
// for different kinds also wait on each other. This mirrors the teacher's reliance on
// transactional UPSERTs, generalized to a read-then-conditionally-write
// sequence UPSERT alone can't express.
type BatchGuard struct {
	store *Store
	mu    sync.Mutex
}

// NewBatchGuard wraps a Store with the serialized get-or-create path.
func NewBatchGuard(s *Store) *BatchGuard {
	return &BatchGuard{store: s}
}

// GetOrCreateProcessingBatch returns the id of a reusable batch of the given
// kind, creating one if none exists. "Reusable" = a batch of this kind in a
// non-terminal processing status with no exported documents (schema-level:
// no batch ever carries documents past StatusExported while itself being
// StatusExported, so checking status alone suffices).
func (g *BatchGuard) GetOrCreateProcessingBatch(ctx context.Context, kind string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx, err := g.store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning batch guard transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `
		SELECT id FROM batches
		WHERE kind = ? AND status IN (
			'pending_processing','pending_verification','pending_grouping',
			'pending_ordering','pending_export'
		)
		ORDER BY id ASC
		LIMIT 1
	`, kind)

	var existing int64
	err = row.Scan(&existing)
	switch err {
	case nil:
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("committing batch guard read: %w", err)
		}
		return existing, nil
	case sql.ErrNoRows:
		// fall through to create
	default:
		return 0, fmt.Errorf("checking for reusable batch: %w", err)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO batches (kind, status, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		kind, StatusPendingProcessing, now, now)
	if err != nil {
		return 0, fmt.Errorf("creating processing batch: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading new processing batch id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing batch guard creation: %w", err)
	}
	return id, nil
}

// StartupSweep removes empty batches in a processing substatus, recovering
// from a crash/restart per spec §4.5.
func (g *BatchGuard) StartupSweep(ctx context.Context) (int64, error) {
	return g.store.DeleteEmptyProcessingBatches(ctx)
}
