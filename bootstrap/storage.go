package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	"github.com/goliatone/go-claimbot/core"
	claimbotmigrations "github.com/goliatone/go-claimbot/migrations"
	memorystore "github.com/goliatone/go-claimbot/store/memory"
	sqlstore "github.com/goliatone/go-claimbot/store/sql"
)

// Storage groups the durable stores. Outbox is read by the relay.
type Storage struct {
	Users      core.UserDirectory
	Journeys   core.JourneyDirectory
	UnitOfWork core.UnitOfWork
	Outbox     core.OutboxReader
	close      func() error
}

func (s *Storage) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

type persistenceConfig struct {
	driver string
	server string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool                { return c.debug }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "claimbot" }

// OpenStorage connects the configured driver and applies migrations when
// enabled. The memory driver keeps everything in process.
func OpenStorage(ctx context.Context, cfg core.StorageConfig) (*Storage, error) {
	switch cfg.Driver {
	case core.StorageMemory, "":
		store := memorystore.NewStore()
		return &Storage{
			Users:      store,
			Journeys:   store,
			UnitOfWork: store,
			Outbox:     store.Outbox,
		}, nil
	case core.StoragePostgres:
		return openSQL(ctx, cfg, "postgres", claimbotmigrations.DialectPostgres, pgdialect.New())
	case core.StorageSQLite:
		return openSQL(ctx, cfg, "sqlite3", claimbotmigrations.DialectSQLite, sqlitedialect.New())
	default:
		return nil, core.ConfigurationError("unsupported storage driver", map[string]any{"driver": cfg.Driver})
	}
}

func openSQL(ctx context.Context, cfg core.StorageConfig, driverName string, dialectName string, dialect schema.Dialect) (*Storage, error) {
	sqlDB, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, core.StoreUnavailableError("open database", err)
	}
	if driverName == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(persistenceConfig{driver: driverName, server: cfg.DSN, debug: cfg.Debug}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, core.StoreUnavailableError("create persistence client", err)
	}
	if cfg.Migrate {
		if err := migrate(ctx, client, dialectName); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		_ = client.Close()
		return nil, core.ConfigurationError("build repositories", map[string]any{"error": err.Error()})
	}
	return &Storage{
		Users:      factory,
		Journeys:   factory,
		UnitOfWork: factory,
		Outbox:     factory.OutboxStore(),
		close:      client.Close,
	}, nil
}

func migrate(ctx context.Context, client *persistence.Client, dialectName string) error {
	_, err := claimbotmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != dialectName {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, claimbotmigrations.WithDialects(dialectName))
	if err != nil {
		return core.ConfigurationError("register migrations", map[string]any{"error": err.Error()})
	}
	if err := client.Migrate(ctx); err != nil {
		return core.StoreUnavailableError(fmt.Sprintf("apply %s migrations", dialectName), err)
	}
	return nil
}
