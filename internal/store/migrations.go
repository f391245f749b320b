package store

import (
	"context"
	"embed"
	"io/fs"

	"gatekeepr.org/internal/migrate"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFiles embed.FS

//go:embed seeds/*.sql
var seedFiles embed.FS

// Migrations returns the schema files of the active dialect.
func (s *Store) Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations/"+s.d.name)
	if err != nil {
		panic(err)
	}
	return sub
}

// Seeds returns the portable seed files.
func Seeds() fs.FS {
	sub, err := fs.Sub(seedFiles, "seeds")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migrator builds a migrate.Manager bound to this store's dialect.
func (s *Store) Migrator(opts ...migrate.Option) *migrate.Manager {
	opts = append([]migrate.Option{migrate.WithRebind(s.d.rebind)}, opts...)
	return migrate.NewManager(s.db, s.Migrations(), Seeds(), opts...)
}

// Bootstrap applies pending migrations and seeds.
func (s *Store) Bootstrap(ctx context.Context) error {
	m := s.Migrator()
	if err := m.Up(ctx); err != nil {
		return err
	}
	return m.Seed(ctx)
}
