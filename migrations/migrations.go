// Package migrations embeds the SQL schema so binaries can migrate without
// shipping the files alongside.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
