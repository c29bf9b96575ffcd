package store

// schema is applied at every Open; each statement is idempotent. SQLite's relaxed typing lets
// the teacher's Postgres column types (TEXT/INTEGER/TIMESTAMP) carry over
// almost unchanged; only the UPSERT dialect and pragmas differ.
const schema = `
PRAGMA journal_mode = WAL;
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS batches (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_batches_kind_status ON batches(kind, status);

CREATE TABLE IF NOT EXISTS single_documents (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id            INTEGER NOT NULL REFERENCES batches(id),
	source_hash         TEXT NOT NULL,
	ocr_text            TEXT,
	ocr_signature       TEXT,
	rotation            INTEGER NOT NULL DEFAULT 0,
	ai_category         TEXT,
	ai_filename         TEXT,
	final_category      TEXT,
	final_filename      TEXT,
	state               TEXT NOT NULL DEFAULT 'new',
	searchable_pdf_path TEXT,
	error_message       TEXT,
	created_at          TIMESTAMP NOT NULL,
	updated_at          TIMESTAMP NOT NULL,
	UNIQUE(batch_id, source_hash)
);

CREATE TABLE IF NOT EXISTS documents (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id       INTEGER NOT NULL REFERENCES batches(id),
	name           TEXT NOT NULL,
	final_category TEXT,
	state          TEXT NOT NULL DEFAULT 'new',
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS document_pages (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id   INTEGER NOT NULL REFERENCES documents(id),
	artifact_hash TEXT NOT NULL,
	page_index    INTEGER NOT NULL,
	position      INTEGER NOT NULL,
	category      TEXT,
	rotation      INTEGER NOT NULL DEFAULT 0,
	ocr_text      TEXT,
	ocr_signature TEXT,
	created_at    TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_document_pages_document ON document_pages(document_id, position);

CREATE TABLE IF NOT EXISTS intake_rotations (
	artifact_hash TEXT NOT NULL,
	page_index    INTEGER NOT NULL,
	angle         INTEGER NOT NULL,
	updated_at    TIMESTAMP NOT NULL,
	PRIMARY KEY (artifact_hash, page_index)
);

CREATE TABLE IF NOT EXISTS ocr_signatures (
	document_key TEXT PRIMARY KEY,
	file_size    INTEGER NOT NULL,
	mtime        INTEGER NOT NULL,
	sha1_prefix  TEXT NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS interaction_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id   INTEGER,
	event_type TEXT NOT NULL,
	payload    TEXT,
	created_at TIMESTAMP NOT NULL
);
`
