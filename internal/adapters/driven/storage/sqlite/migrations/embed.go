// Package migrations holds the numbered schema files applied by the
// SQLite store at open.
package migrations

import "embed"

// FS is every NNN_name.up.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
