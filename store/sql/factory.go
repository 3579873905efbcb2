package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-claimbot/core"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// RepositoryFactory owns the bun-backed stores and runs units of work over
// them. Every write made through the Tx passed to Do shares one database
// transaction.
type RepositoryFactory struct {
	db *bun.DB

	userStore    *UserStore
	journeyStore *JourneyStore
	outboxStore  *OutboxStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.userStore != nil && f.journeyStore != nil && f.outboxStore != nil {
		return nil
	}
	return f.initStores()
}

// SetClock replaces the time source used for created_at, updated_at and
// published_at stamps.
func (f *RepositoryFactory) SetClock(now func() time.Time) {
	if f == nil || now == nil {
		return
	}
	clock := func() time.Time { return now().UTC() }
	if f.userStore != nil {
		f.userStore.now = clock
	}
	if f.journeyStore != nil {
		f.journeyStore.now = clock
	}
	if f.outboxStore != nil {
		f.outboxStore.now = clock
	}
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) UserStore() *UserStore {
	if f == nil {
		return nil
	}
	return f.userStore
}

func (f *RepositoryFactory) JourneyStore() *JourneyStore {
	if f == nil {
		return nil
	}
	return f.journeyStore
}

func (f *RepositoryFactory) OutboxStore() *OutboxStore {
	if f == nil {
		return nil
	}
	return f.outboxStore
}

func (f *RepositoryFactory) FindByPhone(ctx context.Context, phone string) (core.User, error) {
	return f.UserStore().FindByPhone(ctx, phone)
}

func (f *RepositoryFactory) ListByPhone(ctx context.Context, phone string, limit int) ([]core.Journey, error) {
	return f.JourneyStore().ListByPhone(ctx, phone, limit)
}

// Do runs fn inside one database transaction. Any error returned by fn, or
// a panic, rolls back every write including appended outbox events.
func (f *RepositoryFactory) Do(ctx context.Context, fn func(ctx context.Context, tx core.Tx) error) error {
	if f == nil || f.db == nil || f.userStore == nil {
		return fmt.Errorf("sqlstore: repository factory is not configured")
	}
	if fn == nil {
		return fmt.Errorf("sqlstore: unit of work requires a function")
	}
	return f.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &unitTx{factory: f, tx: tx})
	})
}

func (f *RepositoryFactory) initStores() error {
	userStore, err := NewUserStore(f.db)
	if err != nil {
		return err
	}
	f.userStore = userStore
	journeyStore, err := NewJourneyStore(f.db)
	if err != nil {
		return err
	}
	f.journeyStore = journeyStore
	outboxStore, err := NewOutboxStore(f.db)
	if err != nil {
		return err
	}
	f.outboxStore = outboxStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
