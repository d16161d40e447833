// Package db embeds the SQL migrations so binaries run without the source tree.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
