// Package migrations embeds the Postgres schema for the record store.
package migrations

import "embed"

// FS holds the numbered up/down SQL files read by cmd/migrate.
//
//go:embed *.sql
var FS embed.FS
