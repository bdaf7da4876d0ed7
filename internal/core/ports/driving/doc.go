// Package driving declares the operations the CLI and MCP adapters call:
// ingest, retrieval, re-index, settings and the background scheduler.
// internal/core/services implements them.
package driving
