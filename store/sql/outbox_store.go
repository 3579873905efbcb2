package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-claimbot/core"
	"github.com/goliatone/go-claimbot/outbox"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// OutboxStore persists domain events in outbox_events. Rows are written in
// the same transaction as the business change that produced them and are
// never deleted; publishing only stamps published_at.
type OutboxStore struct {
	db   *bun.DB
	repo repository.Repository[*outboxEventRecord]
	now  func() time.Time
}

func NewOutboxStore(db *bun.DB) (*OutboxStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*outboxEventRecord](db, outboxEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid outbox repository wiring: %w", err)
		}
	}
	return &OutboxStore{db: db, repo: repo, now: utcNow}, nil
}

// Append writes one event outside any caller transaction.
func (s *OutboxStore) Append(ctx context.Context, draft core.EventDraft) (core.OutboxEvent, error) {
	if s == nil || s.repo == nil {
		return core.OutboxEvent{}, fmt.Errorf("sqlstore: outbox store is not configured")
	}
	event, err := outbox.NewEvent(draft, s.now())
	if err != nil {
		return core.OutboxEvent{}, err
	}
	created, err := s.repo.Create(ctx, newOutboxEventRecord(event))
	if err != nil {
		return core.OutboxEvent{}, err
	}
	return created.toDomain(), nil
}

// AppendTx writes one event inside tx so it commits or rolls back with the
// business change.
func (s *OutboxStore) AppendTx(ctx context.Context, tx bun.Tx, draft core.EventDraft) (core.OutboxEvent, error) {
	if s == nil || s.repo == nil {
		return core.OutboxEvent{}, fmt.Errorf("sqlstore: outbox store is not configured")
	}
	event, err := outbox.NewEvent(draft, s.now())
	if err != nil {
		return core.OutboxEvent{}, err
	}
	created, err := s.repo.CreateTx(ctx, tx, newOutboxEventRecord(event))
	if err != nil {
		return core.OutboxEvent{}, err
	}
	return created.toDomain(), nil
}

func (s *OutboxStore) ListUnpublished(ctx context.Context, limit int) ([]core.OutboxEvent, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: outbox store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.published_at IS NULL")
		}),
		repository.OrderBy("created_at ASC"),
		repository.OrderBy("id ASC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	events := make([]core.OutboxEvent, 0, len(records))
	for _, record := range records {
		events = append(events, record.toDomain())
	}
	return events, nil
}

// MarkPublished stamps published_at once. Marking an already published event
// keeps the original timestamp and returns nil.
func (s *OutboxStore) MarkPublished(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: outbox store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: outbox event id is required")
	}
	res, err := s.db.NewUpdate().
		Model((*outboxEventRecord)(nil)).
		Set("published_at = ?", s.now()).
		Where("id = ?", id).
		Where("published_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, rowsErr := res.RowsAffected(); rowsErr == nil && affected > 0 {
		return nil
	}
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return fmt.Errorf("sqlstore: outbox event %q not found: %w", id, err)
	}
	return nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}
