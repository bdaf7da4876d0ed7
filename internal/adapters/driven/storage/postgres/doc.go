// Package postgres implements the relational store on PostgreSQL through
// a pgx connection pool.
//
// The schema mirrors the SQLite store: documents, and chunks with a
// cascading foreign key, a (document_id, chunk_index) unique constraint and
// an embedding_state check. Tables are created on first open.
package postgres
