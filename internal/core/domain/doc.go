// Package domain holds the knowledge base's data types and the rules that
// need no I/O: visibility labels and scopes, the document and chunk
// records, vector entries and hits, list and search requests, settings,
// and the sentinel errors every layer wraps.
//
// It imports only the standard library.
package domain
