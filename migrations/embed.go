// Package migrations embeds the gateway's SQL schema migrations.
//
// Files follow YYYYMMDD_HHMMSS_name.up.sql / .down.sql and are applied by
// database.Migrate in version order.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
