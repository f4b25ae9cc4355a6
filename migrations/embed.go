// Package migrations embeds the schema so the binaries can migrate the
// database without SQL files on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
