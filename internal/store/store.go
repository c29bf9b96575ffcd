/**
 * Embedded state store for docprocd.
 *
 * Substitutes the worker's PostgreSQL client with modernc.org/sqlite per
 * SPEC_FULL.md §11: an embedded, CGo-free store. The teacher's UPSERT /
 * COALESCE / NULLIF idiom and sql.Null* scanning discipline carry over
 * directly — SQLite speaks the same ON CONFLICT dialect.
 */

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Batch kinds and statuses are opaque identity-compared strings per spec §6.
const (
	KindSingleDocumentBatch = "single_document_batch"
	KindGroupedBatch        = "grouped_batch"

	StatusPendingProcessing  = "pending_processing"
	StatusPendingVerification = "pending_verification"
	StatusPendingGrouping    = "pending_grouping"
	StatusPendingOrdering    = "pending_ordering"
	StatusPendingExport      = "pending_export"
	StatusExported           = "exported"
	StatusFailed             = "failed"
)

// processingStatuses are substatuses a batch may be reused from / swept while
// empty. Exported and failed are terminal with respect to the Batch Guard.
var processingStatuses = map[string]bool{
	StatusPendingProcessing:   true,
	StatusPendingVerification: true,
	StatusPendingGrouping:     true,
	StatusPendingOrdering:     true,
	StatusPendingExport:       true,
}

// Batch mirrors the spec §3 Batch entity.
type Batch struct {
	ID        int64
	Kind      string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SingleDocument mirrors the spec §3 SingleDocument entity.
type SingleDocument struct {
	ID                int64
	BatchID           int64
	SourceHash        string
	OCRText           sql.NullString
	OCRSignature      sql.NullString
	Rotation          int
	AICategory        sql.NullString
	AIFilename        sql.NullString
	FinalCategory     sql.NullString
	FinalFilename     sql.NullString
	State             string
	SearchablePDFPath sql.NullString
	ErrorMessage      sql.NullString
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Document states, matching spec §4.2's per-document state machine.
const (
	StateNew      = "new"
	StateOCRDone  = "ocr_done"
	StateAIDone   = "ai_done"
	StateVerified = "verified"
	StateGrouped  = "grouped"
	StateOrdered  = "ordered"
	StateExported = "exported"
	StateFailed   = "failed"
)

// GroupedDocument mirrors the spec §3 GroupedDocument entity.
type GroupedDocument struct {
	ID            int64
	BatchID       int64
	Name          string
	FinalCategory sql.NullString
	State         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Page mirrors the spec §3 Page entity.
type Page struct {
	ID           int64
	DocumentID   int64
	ArtifactHash string
	PageIndex    int
	Position     int
	Category     sql.NullString
	Rotation     int
	OCRText      sql.NullString
	OCRSignature sql.NullString
	CreatedAt    time.Time
}

// OCRSignature mirrors spec §3: (size, mtime, sha1-of-first-64KiB).
type OCRSignature struct {
	FileSize   int64
	Mtime      int64
	SHA1Prefix string
}

// Equal reports whether two signatures describe the same file state.
func (s OCRSignature) Equal(other OCRSignature) bool {
	return s.FileSize == other.FileSize && s.Mtime == other.Mtime && s.SHA1Prefix == other.SHA1Prefix
}

// Store is the embedded SQLite-backed state store. All mutation paths run
// through transactions; the Batch Guard additionally serializes creation via
// an in-process mutex (see batchguard.go) because SQLite itself only
// serializes at the single-writer-connection level, not at the
// read-then-write-application-logic level the guard needs.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	// SQLite allows only one writer at a time; pin the pool to a single
	// connection so database/sql's pooling never hands two goroutines
	// concurrent write connections and hits SQLITE_BUSY unnecessarily.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging state database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SanitizeConfidence rounds to 4 decimal places and clamps to [0,1], carried
// from the teacher's Postgres-precision workaround — SQLite's REAL column has
// the same floating-point representation hazards.
func SanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

// CreateBatch inserts a new batch row and returns it. Callers needing the
// Batch Guard invariant must go through GetOrCreateProcessingBatch instead.
func (s *Store) CreateBatch(ctx context.Context, kind, status string) (*Batch, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO batches (kind, status, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		kind, status, now, now)
	if err != nil {
		return nil, fmt.Errorf("creating batch: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading new batch id: %w", err)
	}
	return &Batch{ID: id, Kind: kind, Status: status, CreatedAt: now, UpdatedAt: now}, nil
}

// GetBatch fetches a batch by id.
func (s *Store) GetBatch(ctx context.Context, id int64) (*Batch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, status, created_at, updated_at FROM batches WHERE id = ?`, id)
	b := &Batch{}
	if err := row.Scan(&b.ID, &b.Kind, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("batch %d not found", id)
		}
		return nil, fmt.Errorf("reading batch %d: %w", id, err)
	}
	return b, nil
}

// UpdateBatchStatus transitions a batch to a new status. The store only
// persists: it does not check the transition against the status lattice,
// and callers pick the target status directly.
func (s *Store) UpdateBatchStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating batch %d status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result for batch %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("batch %d not found", id)
	}
	return nil
}

// ListBatchesByStatus returns every batch currently in status, oldest first.
// Used by the export assembler's one-shot scan to find batches awaiting
// export without needing a dedicated queue.
func (s *Store) ListBatchesByStatus(ctx context.Context, status string) ([]*Batch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, status, created_at, updated_at FROM batches WHERE status = ? ORDER BY created_at ASC`,
		status)
	if err != nil {
		return nil, fmt.Errorf("listing batches by status %s: %w", status, err)
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		b := &Batch{}
		if err := rows.Scan(&b.ID, &b.Kind, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning batch row: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// UpsertSingleDocument inserts or updates a single_document row keyed by
// (batch_id, source_hash), mirroring the teacher's ON CONFLICT DO UPDATE
// idiom for idempotent per-artifact writes.
func (s *Store) UpsertSingleDocument(ctx context.Context, doc *SingleDocument) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO single_documents (
			batch_id, source_hash, ocr_text, ocr_signature, rotation,
			ai_category, ai_filename, final_category, final_filename,
			state, searchable_pdf_path, error_message, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(batch_id, source_hash) DO UPDATE SET
			ocr_text            = COALESCE(NULLIF(excluded.ocr_text, ''), single_documents.ocr_text),
			ocr_signature        = COALESCE(NULLIF(excluded.ocr_signature, ''), single_documents.ocr_signature),
			rotation             = excluded.rotation,
			ai_category          = COALESCE(NULLIF(excluded.ai_category, ''), single_documents.ai_category),
			ai_filename          = COALESCE(NULLIF(excluded.ai_filename, ''), single_documents.ai_filename),
			final_category       = COALESCE(NULLIF(excluded.final_category, ''), single_documents.final_category),
			final_filename       = COALESCE(NULLIF(excluded.final_filename, ''), single_documents.final_filename),
			state                = excluded.state,
			searchable_pdf_path  = COALESCE(NULLIF(excluded.searchable_pdf_path, ''), single_documents.searchable_pdf_path),
			error_message        = excluded.error_message,
			updated_at           = excluded.updated_at
	`,
		doc.BatchID, doc.SourceHash, doc.OCRText, doc.OCRSignature, doc.Rotation,
		doc.AICategory, doc.AIFilename, doc.FinalCategory, doc.FinalFilename,
		doc.State, doc.SearchablePDFPath, doc.ErrorMessage, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("upserting single document: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		return id, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM single_documents WHERE batch_id = ? AND source_hash = ?`, doc.BatchID, doc.SourceHash)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("reading upserted single document id: %w", err)
	}
	return id, nil
}

// GetSingleDocument fetches a single_documents row by id.
func (s *Store) GetSingleDocument(ctx context.Context, id int64) (*SingleDocument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, batch_id, source_hash, ocr_text, ocr_signature, rotation,
		       ai_category, ai_filename, final_category, final_filename,
		       state, searchable_pdf_path, error_message, created_at, updated_at
		FROM single_documents WHERE id = ?`, id)
	d := &SingleDocument{}
	if err := row.Scan(&d.ID, &d.BatchID, &d.SourceHash, &d.OCRText, &d.OCRSignature, &d.Rotation,
		&d.AICategory, &d.AIFilename, &d.FinalCategory, &d.FinalFilename,
		&d.State, &d.SearchablePDFPath, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("single document %d not found", id)
		}
		return nil, fmt.Errorf("reading single document %d: %w", id, err)
	}
	return d, nil
}

// ListSingleDocumentsByBatch lists all single_documents for a batch.
func (s *Store) ListSingleDocumentsByBatch(ctx context.Context, batchID int64) ([]*SingleDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, source_hash, ocr_text, ocr_signature, rotation,
		       ai_category, ai_filename, final_category, final_filename,
		       state, searchable_pdf_path, error_message, created_at, updated_at
		FROM single_documents WHERE batch_id = ? ORDER BY id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("listing single documents for batch %d: %w", batchID, err)
	}
	defer rows.Close()

	var out []*SingleDocument
	for rows.Next() {
		d := &SingleDocument{}
		if err := rows.Scan(&d.ID, &d.BatchID, &d.SourceHash, &d.OCRText, &d.OCRSignature, &d.Rotation,
			&d.AICategory, &d.AIFilename, &d.FinalCategory, &d.FinalFilename,
			&d.State, &d.SearchablePDFPath, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning single document row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetOCRSignature looks up a cached signature by its scoped document key
// (e.g. "single:<id>" or "page:<id>"); returns (nil, nil) on miss.
func (s *Store) GetOCRSignature(ctx context.Context, documentKey string) (*OCRSignature, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT file_size, mtime, sha1_prefix FROM ocr_signatures WHERE document_key = ?`, documentKey)
	sig := &OCRSignature{}
	if err := row.Scan(&sig.FileSize, &sig.Mtime, &sig.SHA1Prefix); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("reading OCR signature for %s: %w", documentKey, err)
	}
	return sig, nil
}

// PutOCRSignature stores the current signature for a document key, overwriting
// any prior value (signature invalidation is implicit: a changed file
// produces a different signature value on the next compare).
func (s *Store) PutOCRSignature(ctx context.Context, documentKey string, sig OCRSignature) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ocr_signatures (document_key, file_size, mtime, sha1_prefix, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(document_key) DO UPDATE SET
			file_size = excluded.file_size, mtime = excluded.mtime,
			sha1_prefix = excluded.sha1_prefix, updated_at = excluded.updated_at
	`, documentKey, sig.FileSize, sig.Mtime, sig.SHA1Prefix, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storing OCR signature for %s: %w", documentKey, err)
	}
	return nil
}

// GetRotationOverride returns the persisted angle for (artifactHash,
// pageIndex), or (-1, false) if none exists.
func (s *Store) GetRotationOverride(ctx context.Context, artifactHash string, pageIndex int) (int, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT angle FROM intake_rotations WHERE artifact_hash = ? AND page_index = ?`, artifactHash, pageIndex)
	var angle int
	if err := row.Scan(&angle); err != nil {
		if err == sql.ErrNoRows {
			return -1, false, nil
		}
		return -1, false, fmt.Errorf("reading rotation override: %w", err)
	}
	return angle, true, nil
}

// PutRotationOverride persists the authoritative rotation angle for a page.
func (s *Store) PutRotationOverride(ctx context.Context, artifactHash string, pageIndex, angle int) error {
	if angle != 0 && angle != 90 && angle != 180 && angle != 270 {
		return fmt.Errorf("invalid rotation angle %d, must be one of 0/90/180/270", angle)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO intake_rotations (artifact_hash, page_index, angle, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(artifact_hash, page_index) DO UPDATE SET
			angle = excluded.angle, updated_at = excluded.updated_at
	`, artifactHash, pageIndex, angle, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storing rotation override: %w", err)
	}
	return nil
}

// AppendInteractionLog appends a structured event. It degrades gracefully:
// a failure here is logged by the caller but never aborts the triggering
// operation, matching spec §4.5 ("may be absent in minimal deployments").
func (s *Store) AppendInteractionLog(ctx context.Context, batchID *int64, eventType string, payload map[string]interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling interaction log payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO interaction_log (batch_id, event_type, payload, created_at) VALUES (?, ?, ?, ?)`,
		batchID, eventType, string(payloadJSON), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("appending interaction log: %w", err)
	}
	return nil
}

// CreateGroupedDocument inserts a new grouped document (batch scan carve-out).
func (s *Store) CreateGroupedDocument(ctx context.Context, batchID int64, name string) (*GroupedDocument, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (batch_id, name, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		batchID, name, StateNew, now, now)
	if err != nil {
		return nil, fmt.Errorf("creating grouped document: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading new grouped document id: %w", err)
	}
	return &GroupedDocument{ID: id, BatchID: batchID, Name: name, State: StateNew, CreatedAt: now, UpdatedAt: now}, nil
}

// AddPage appends a page to a grouped document at the given position.
func (s *Store) AddPage(ctx context.Context, documentID int64, artifactHash string, pageIndex, position int) (*Page, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO document_pages (document_id, artifact_hash, page_index, position, rotation, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		documentID, artifactHash, pageIndex, position, now)
	if err != nil {
		return nil, fmt.Errorf("adding page: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading new page id: %w", err)
	}
	return &Page{ID: id, DocumentID: documentID, ArtifactHash: artifactHash, PageIndex: pageIndex, Position: position, CreatedAt: now}, nil
}

// ListPages lists the ordered pages of a grouped document.
func (s *Store) ListPages(ctx context.Context, documentID int64) ([]*Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, artifact_hash, page_index, position, category, rotation, ocr_text, ocr_signature, created_at
		FROM document_pages WHERE document_id = ? ORDER BY position`, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing pages for document %d: %w", documentID, err)
	}
	defer rows.Close()

	var out []*Page
	for rows.Next() {
		p := &Page{}
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.ArtifactHash, &p.PageIndex, &p.Position,
			&p.Category, &p.Rotation, &p.OCRText, &p.OCRSignature, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning page row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListGroupedDocumentsByBatch lists grouped documents for a batch.
func (s *Store) ListGroupedDocumentsByBatch(ctx context.Context, batchID int64) ([]*GroupedDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, name, final_category, state, created_at, updated_at
		FROM documents WHERE batch_id = ? ORDER BY id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("listing grouped documents for batch %d: %w", batchID, err)
	}
	defer rows.Close()

	var out []*GroupedDocument
	for rows.Next() {
		d := &GroupedDocument{}
		if err := rows.Scan(&d.ID, &d.BatchID, &d.Name, &d.FinalCategory, &d.State, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning grouped document row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteEmptyProcessingBatches removes batches with zero associated documents
// that sit in a processing substatus. Used by the startup orphan sweep
// (§4.7) through BatchGuard.StartupSweep.
func (s *Store) DeleteEmptyProcessingBatches(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM batches
		WHERE status IN ('pending_processing','pending_verification','pending_grouping','pending_ordering','pending_export')
		  AND id NOT IN (SELECT batch_id FROM single_documents)
		  AND id NOT IN (SELECT batch_id FROM documents)
	`)
	if err != nil {
		return 0, fmt.Errorf("sweeping empty processing batches: %w", err)
	}
	return res.RowsAffected()
}

// DB exposes the underlying *sql.DB for callers that need a transaction
// spanning multiple store operations. The Batch Guard, in the same package,
// uses the unexported field directly instead.
func (s *Store) DB() *sql.DB {
	return s.db
}
