// Package migrations holds the goose SQL migrations shared by the migrator and integration tests.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
