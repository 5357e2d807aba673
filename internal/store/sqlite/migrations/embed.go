package migrations

import "embed"

// FS contains embedded SQLite migrations for the learning and cache store.
//
//go:embed *.sql
var FS embed.FS
