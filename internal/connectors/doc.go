// Package connectors holds the document sources that feed the ingest
// pipeline. The filesystem connector watches a local directory tree.
package connectors
