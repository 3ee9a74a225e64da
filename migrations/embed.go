// Package migrations embeds the MeshLab SQL schema into the binary.
package migrations

import "embed"

// FS holds every "*.up.sql" migration, applied in filename order.
//
//go:embed *.sql
var FS embed.FS
