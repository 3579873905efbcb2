package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"

	"github.com/goliatone/go-claimbot/core"
	claimbotmigrations "github.com/goliatone/go-claimbot/migrations"
	sqlstore "github.com/goliatone/go-claimbot/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "claimbot-tests"
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	for _, table := range []string{"users", "journeys", "outbox_events"} {
		var tableName string
		if err := client.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(context.Background(), &tableName); err != nil {
			t.Fatalf("query sqlite master for %s: %v", table, err)
		}
		if tableName != table {
			t.Fatalf("expected %s table, got %q", table, tableName)
		}
	}
}

func TestRepositoryFactory_CommitWritesUserAndEvent(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	factory := newFactory(t, client)
	ctx := context.Background()

	err := factory.Do(ctx, func(ctx context.Context, tx core.Tx) error {
		user, err := tx.Users().Register(ctx, "+447700900001", time.Now())
		if err != nil {
			return err
		}
		_, err = tx.Outbox().Append(ctx, core.EventDraft{
			AggregateID:   user.ID,
			AggregateType: core.AggregateUser,
			EventType:     core.EventUserRegistered,
			Payload:       map[string]any{"phone": user.Phone},
		})
		return err
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}

	user, err := factory.FindByPhone(ctx, "+447700900001")
	if err != nil {
		t.Fatalf("find by phone: %v", err)
	}
	if user.TermsAcceptedAt == nil || user.Verified() {
		t.Fatalf("expected registered unverified user, got %+v", user)
	}
	pending, err := factory.OutboxStore().ListUnpublished(ctx, 10)
	if err != nil {
		t.Fatalf("list unpublished: %v", err)
	}
	if len(pending) != 1 || pending[0].AggregateID != user.ID {
		t.Fatalf("expected one pending event for the user, got %+v", pending)
	}
	if pending[0].Payload["phone"] != "+447700900001" {
		t.Fatalf("expected payload to round trip, got %+v", pending[0].Payload)
	}
}

func TestRepositoryFactory_RollbackDiscardsUserAndEvent(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	factory := newFactory(t, client)
	ctx := context.Background()
	boom := errors.New("boom")

	err := factory.Do(ctx, func(ctx context.Context, tx core.Tx) error {
		user, err := tx.Users().Register(ctx, "+447700900001", time.Now())
		if err != nil {
			return err
		}
		if _, err := tx.Outbox().Append(ctx, core.EventDraft{
			AggregateID:   user.ID,
			AggregateType: core.AggregateUser,
			EventType:     core.EventUserRegistered,
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := factory.FindByPhone(ctx, "+447700900001"); !errors.Is(err, core.ErrUserNotFound) {
		t.Fatalf("expected rolled back user, got %v", err)
	}
	pending, err := factory.OutboxStore().ListUnpublished(ctx, 10)
	if err != nil {
		t.Fatalf("list unpublished: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no outbox rows after rollback, got %d", len(pending))
	}
}

func TestRepositoryFactory_InvalidEventRollsBackWrite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	factory := newFactory(t, client)
	ctx := context.Background()

	err := factory.Do(ctx, func(ctx context.Context, tx core.Tx) error {
		if _, err := tx.Users().Register(ctx, "+447700900002", time.Now()); err != nil {
			return err
		}
		_, err := tx.Outbox().Append(ctx, core.EventDraft{
			AggregateID:   "x",
			AggregateType: "invoice",
			EventType:     "invoice.created",
		})
		return err
	})
	if !errors.Is(err, core.ErrInvalidAggregateType) {
		t.Fatalf("expected invalid aggregate type, got %v", err)
	}
	if _, err := factory.FindByPhone(ctx, "+447700900002"); !errors.Is(err, core.ErrUserNotFound) {
		t.Fatalf("expected user write rolled back, got %v", err)
	}
}

func TestRepositoryFactory_RegisterTwiceKeepsOneUser(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	factory := newFactory(t, client)
	ctx := context.Background()

	var ids []string
	for range 2 {
		err := factory.Do(ctx, func(ctx context.Context, tx core.Tx) error {
			user, err := tx.Users().Register(ctx, "+447700900003", time.Now())
			ids = append(ids, user.ID)
			return err
		})
		if err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if ids[0] != ids[1] {
		t.Fatalf("expected the same user id, got %v", ids)
	}

	err := factory.Do(ctx, func(ctx context.Context, tx core.Tx) error {
		_, err := tx.Users().MarkVerified(ctx, "+447700900003", time.Now())
		return err
	})
	if err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	user, _ := factory.FindByPhone(ctx, "+447700900003")
	if !user.Verified() {
		t.Fatalf("expected verified user, got %+v", user)
	}
}

func TestRepositoryFactory_JourneyLifecycle(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	factory := newFactory(t, client)
	ctx := context.Background()

	var journeyID string
	err := factory.Do(ctx, func(ctx context.Context, tx core.Tx) error {
		user, err := tx.Users().Register(ctx, "+447700900004", time.Now())
		if err != nil {
			return err
		}
		journey, err := tx.Journeys().Create(ctx, core.Journey{
			UserID:        user.ID,
			Phone:         user.Phone,
			TravelDate:    "2026-02-27",
			Origin:        "Leeds",
			Destination:   "York",
			DepartureTime: "08:15",
			RouteID:       "r-1",
		})
		if err != nil {
			return err
		}
		journeyID = journey.ID
		if _, err := tx.Journeys().AttachTicket(ctx, journey.ID, "https://media.example/ticket.jpg"); err != nil {
			return err
		}
		_, err = tx.Journeys().Submit(ctx, journey.ID)
		return err
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}

	journeys, err := factory.ListByPhone(ctx, "+447700900004", 5)
	if err != nil {
		t.Fatalf("list by phone: %v", err)
	}
	if len(journeys) != 1 || journeys[0].ID != journeyID {
		t.Fatalf("expected one journey, got %+v", journeys)
	}
	if journeys[0].Status != core.JourneyStatusSubmitted || journeys[0].TicketURL == "" {
		t.Fatalf("expected submitted journey with ticket, got %+v", journeys[0])
	}

	err = factory.Do(ctx, func(ctx context.Context, tx core.Tx) error {
		_, err := tx.Journeys().Submit(ctx, "00000000-0000-0000-0000-000000000000")
		return err
	})
	if !errors.Is(err, core.ErrJourneyNotFound) {
		t.Fatalf("expected journey not found, got %v", err)
	}
}

func TestOutboxStore_ListAndMarkPublished(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	factory := newFactory(t, client)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	factory.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})

	store := factory.OutboxStore()
	first, err := store.Append(ctx, core.EventDraft{AggregateID: "u1", AggregateType: core.AggregateUser, EventType: core.EventUserRegistered})
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	second, err := store.Append(ctx, core.EventDraft{AggregateID: "j1", AggregateType: core.AggregateJourney, EventType: core.EventJourneyCreated})
	if err != nil {
		t.Fatalf("append second: %v", err)
	}

	pending, err := store.ListUnpublished(ctx, 10)
	if err != nil {
		t.Fatalf("list unpublished: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != first.ID || pending[1].ID != second.ID {
		t.Fatalf("expected oldest first, got %+v", pending)
	}

	if err := store.MarkPublished(ctx, first.ID); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	if err := store.MarkPublished(ctx, first.ID); err != nil {
		t.Fatalf("second mark published should be a no-op: %v", err)
	}
	if err := store.MarkPublished(ctx, "00000000-0000-0000-0000-000000000000"); err == nil {
		t.Fatalf("expected error for unknown event id")
	}

	pending, _ = store.ListUnpublished(ctx, 10)
	if len(pending) != 1 || pending[0].ID != second.ID {
		t.Fatalf("expected only second pending, got %+v", pending)
	}
}

func newFactory(t *testing.T, client *persistence.Client) *sqlstore.RepositoryFactory {
	t.Helper()
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	return factory
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:claimbot-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = claimbotmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != claimbotmigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, claimbotmigrations.WithDialects(claimbotmigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}
