// Package migrations embeds the Local Store schema as goose SQL migrations.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
