package pgstore

// The catalog table carries no unique constraint on (series_code,
// accession_number): legacy imports may hold duplicates, which the integrity
// auditor reports. Writers adding rows take a per-series advisory lock
// instead.
const schema = `
CREATE TABLE IF NOT EXISTS book_copies (
	id UUID PRIMARY KEY,
	accession_number TEXT NOT NULL,
	series_code TEXT,
	title TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	publisher TEXT NOT NULL DEFAULT '',
	year INT NOT NULL DEFAULT 0,
	pages INT NOT NULL DEFAULT 0,
	total_quantity INT NOT NULL CHECK (total_quantity >= 1),
	available INT NOT NULL CHECK (available >= 0),
	issued INT NOT NULL CHECK (issued >= 0),
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT book_copies_balanced CHECK (available + issued = total_quantity)
);

CREATE INDEX IF NOT EXISTS book_copies_accession_idx ON book_copies (accession_number, series_code);

CREATE TABLE IF NOT EXISTS issue_records (
	id UUID PRIMARY KEY,
	copy_id UUID NOT NULL REFERENCES book_copies (id),
	book_accession TEXT NOT NULL,
	series_code TEXT NOT NULL DEFAULT '',
	borrower_type TEXT NOT NULL,
	borrower_id TEXT NOT NULL,
	issue_date TIMESTAMPTZ NOT NULL,
	due_date TIMESTAMPTZ NOT NULL,
	return_date TIMESTAMPTZ,
	fine_accrued NUMERIC(12, 2)
);

CREATE INDEX IF NOT EXISTS issue_records_open_idx ON issue_records (copy_id) WHERE return_date IS NULL;

CREATE TABLE IF NOT EXISTS accession_counters (
	series_code TEXT PRIMARY KEY,
	value BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS journal (
	id BIGSERIAL PRIMARY KEY,
	aggregate_id UUID NOT NULL,
	aggregate_type TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_data JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
