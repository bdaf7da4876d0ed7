package postgres

// schema is applied on open. Every statement is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id BIGSERIAL PRIMARY KEY,
	title TEXT,
	source TEXT NOT NULL,
	raw_text TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	visibility TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chunks (
	id BIGSERIAL PRIMARY KEY,
	document_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	text TEXT NOT NULL,
	source TEXT NOT NULL,
	visibility TEXT NOT NULL,
	embedding_state TEXT NOT NULL DEFAULT 'pending'
		CHECK (embedding_state IN ('pending', 'indexed')),
	last_embedded_at TIMESTAMPTZ,
	UNIQUE (document_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source);
CREATE INDEX IF NOT EXISTS idx_chunks_visibility ON chunks(visibility);
CREATE INDEX IF NOT EXISTS idx_chunks_pending ON chunks(id) WHERE embedding_state = 'pending';
`
