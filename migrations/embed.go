// Package migrations embeds the station's SQL schema files into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/beacon/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
