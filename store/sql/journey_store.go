package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-claimbot/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type JourneyStore struct {
	db   *bun.DB
	repo repository.Repository[*journeyRecord]
	now  func() time.Time
}

func NewJourneyStore(db *bun.DB) (*JourneyStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*journeyRecord](db, journeyHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid journey repository wiring: %w", err)
		}
	}
	return &JourneyStore{db: db, repo: repo, now: utcNow}, nil
}

// ListByPhone returns the sender's journeys newest first.
func (s *JourneyStore) ListByPhone(ctx context.Context, phone string, limit int) ([]core.Journey, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: journey store is not configured")
	}
	if limit <= 0 {
		limit = 5
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("phone", "=", strings.TrimSpace(phone)),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Journey, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *JourneyStore) CreateTx(ctx context.Context, tx bun.Tx, journey core.Journey) (core.Journey, error) {
	journey.Phone = strings.TrimSpace(journey.Phone)
	if journey.Phone == "" {
		return core.Journey{}, fmt.Errorf("sqlstore: journey phone is required")
	}
	if strings.TrimSpace(journey.ID) == "" {
		journey.ID = uuid.NewString()
	}
	if journey.Status == "" {
		journey.Status = core.JourneyStatusConfirmed
	}
	created, err := s.repo.CreateTx(ctx, tx, newJourneyRecord(journey, s.now()))
	if err != nil {
		return core.Journey{}, err
	}
	return created.toDomain(), nil
}

func (s *JourneyStore) AttachTicketTx(ctx context.Context, tx bun.Tx, journeyID string, ticketURL string) (core.Journey, error) {
	return s.updateTx(ctx, tx, journeyID, func(record *journeyRecord) {
		record.TicketURL = strings.TrimSpace(ticketURL)
	})
}

func (s *JourneyStore) SubmitTx(ctx context.Context, tx bun.Tx, journeyID string) (core.Journey, error) {
	return s.updateTx(ctx, tx, journeyID, func(record *journeyRecord) {
		record.Status = string(core.JourneyStatusSubmitted)
	})
}

func (s *JourneyStore) updateTx(
	ctx context.Context,
	tx bun.Tx,
	journeyID string,
	mutate func(record *journeyRecord),
) (core.Journey, error) {
	record := &journeyRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(journeyID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Journey{}, core.ErrJourneyNotFound
		}
		return core.Journey{}, err
	}
	mutate(record)
	record.UpdatedAt = s.now()
	_, err = tx.NewUpdate().
		Model((*journeyRecord)(nil)).
		Set("ticket_url = ?", record.TicketURL).
		Set("status = ?", record.Status).
		Set("updated_at = ?", record.UpdatedAt).
		Where("id = ?", record.ID).
		Exec(ctx)
	if err != nil {
		return core.Journey{}, err
	}
	return record.toDomain(), nil
}
