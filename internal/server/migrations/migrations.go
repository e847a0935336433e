// Package migrations embeds the goose SQL migrations for the store of record.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
