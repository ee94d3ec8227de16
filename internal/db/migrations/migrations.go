// Package migrations embeds the goose SQL migration set applied by
// internal/db/postgres and internal/testutil at startup/test setup time.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
