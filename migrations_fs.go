package claimbot

import (
	"embed"
	"io/fs"
)

// migrationsFS contains the claimbot SQL migration tree, including the
// sqlite alternatives under data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the embedded migration tree rooted at the module.
func GetMigrationsFS() fs.FS {
	return migrationsFS
}
