// Package migrations embeds the SQL schema migrations applied by cmd/migrate
// and by integration tests.
package migrations

import "embed"

// FS holds the numbered up/down migration files.
//
//go:embed *.sql
var FS embed.FS
