// Package migrations exposes the embedded SQL migrations per dialect and
// registers them with a persistence client.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	claimbot "github.com/goliatone/go-claimbot"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	rootPath     = "data/sql/migrations"
	defaultLabel = "go-claimbot"
)

// Source is the migration set of one dialect. Versions lists the migration
// names without the .up.sql suffix, in order.
type Source struct {
	Dialect  string
	Path     string
	FS       fs.FS
	Versions []string
}

type RegisterFunc func(ctx context.Context, dialect string, label string, fsys fs.FS) error

type registration struct {
	label    string
	dialects []string
	root     fs.FS
}

type Option func(*registration)

// WithDialects limits registration to the given dialects.
func WithDialects(dialects ...string) Option {
	return func(r *registration) {
		selected := make([]string, 0, len(dialects))
		for _, dialect := range dialects {
			dialect = normalizeDialect(dialect)
			if dialect != "" && !slices.Contains(selected, dialect) {
				selected = append(selected, dialect)
			}
		}
		if len(selected) > 0 {
			r.dialects = selected
		}
	}
}

func WithLabel(label string) Option {
	return func(r *registration) {
		if label = strings.TrimSpace(label); label != "" {
			r.label = label
		}
	}
}

// WithRoot reads migrations from root instead of the embedded tree.
func WithRoot(root fs.FS) Option {
	return func(r *registration) {
		if root != nil {
			r.root = root
		}
	}
}

// Sources returns the postgres and sqlite migration sets found under
// data/sql/migrations in root. Every version needs an up and a down file,
// and both dialects must ship the same versions.
func Sources(root fs.FS) ([]Source, error) {
	if root == nil {
		root = claimbot.GetMigrationsFS()
	}
	postgresFS, err := fs.Sub(root, rootPath)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", rootPath, err)
	}
	sqliteFS, err := fs.Sub(postgresFS, DialectSQLite)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite tree: %w", err)
	}

	sources := []Source{
		{Dialect: DialectPostgres, Path: rootPath, FS: postgresFS},
		{Dialect: DialectSQLite, Path: rootPath + "/" + DialectSQLite, FS: sqliteFS},
	}
	for i := range sources {
		versions, err := versions(sources[i].FS)
		if err != nil {
			return nil, fmt.Errorf("migrations: %s: %w", sources[i].Dialect, err)
		}
		sources[i].Versions = versions
	}
	if !slices.Equal(sources[0].Versions, sources[1].Versions) {
		return nil, fmt.Errorf("migrations: postgres versions %v do not match sqlite versions %v",
			sources[0].Versions, sources[1].Versions)
	}
	return sources, nil
}

// Register hands the migration set of every selected dialect to fn and
// returns the sources it registered.
func Register(ctx context.Context, fn RegisterFunc, opts ...Option) ([]Source, error) {
	if fn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	reg := registration{
		label:    defaultLabel,
		dialects: []string{DialectPostgres, DialectSQLite},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}
	for _, dialect := range reg.dialects {
		if dialect != DialectPostgres && dialect != DialectSQLite {
			return nil, fmt.Errorf("migrations: unsupported dialect %q", dialect)
		}
	}

	sources, err := Sources(reg.root)
	if err != nil {
		return nil, err
	}
	registered := make([]Source, 0, len(reg.dialects))
	for _, source := range sources {
		if !slices.Contains(reg.dialects, source.Dialect) {
			continue
		}
		if err := fn(ctx, source.Dialect, reg.label, source.FS); err != nil {
			return registered, fmt.Errorf("migrations: register %s from %s: %w", source.Dialect, source.Path, err)
		}
		registered = append(registered, source)
	}
	return registered, nil
}

func versions(fsys fs.FS) ([]string, error) {
	ups, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, err
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("no *.up.sql files")
	}
	out := make([]string, 0, len(ups))
	for _, up := range ups {
		version := strings.TrimSuffix(up, ".up.sql")
		if _, err := fs.Stat(fsys, version+".down.sql"); err != nil {
			return nil, fmt.Errorf("%s has no down migration", version)
		}
		out = append(out, version)
	}
	slices.Sort(out)
	return out, nil
}

func normalizeDialect(dialect string) string {
	dialect = strings.ToLower(strings.TrimSpace(dialect))
	if dialect == "sqlite3" {
		return DialectSQLite
	}
	return dialect
}
