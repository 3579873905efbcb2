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

type UserStore struct {
	db   *bun.DB
	repo repository.Repository[*userRecord]
	now  func() time.Time
}

func NewUserStore(db *bun.DB) (*UserStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*userRecord](db, userHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid user repository wiring: %w", err)
		}
	}
	return &UserStore{db: db, repo: repo, now: utcNow}, nil
}

func (s *UserStore) FindByPhone(ctx context.Context, phone string) (core.User, error) {
	if s == nil || s.repo == nil {
		return core.User{}, fmt.Errorf("sqlstore: user store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("phone", "=", strings.TrimSpace(phone)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.User{}, err
	}
	if len(records) == 0 {
		return core.User{}, core.ErrUserNotFound
	}
	return records[0].toDomain(), nil
}

// RegisterTx creates the user for phone, or refreshes its terms acceptance
// when the phone is already registered.
func (s *UserStore) RegisterTx(ctx context.Context, tx bun.Tx, phone string, acceptedAt time.Time) (core.User, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return core.User{}, fmt.Errorf("sqlstore: phone is required")
	}
	now := s.now()
	accepted := acceptedAt.UTC()

	record, err := s.findTx(ctx, tx, phone)
	if errors.Is(err, core.ErrUserNotFound) {
		created, createErr := s.repo.CreateTx(ctx, tx, &userRecord{
			ID:              uuid.NewString(),
			Phone:           phone,
			TermsAcceptedAt: &accepted,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		if createErr != nil {
			return core.User{}, createErr
		}
		return created.toDomain(), nil
	}
	if err != nil {
		return core.User{}, err
	}

	_, err = tx.NewUpdate().
		Model((*userRecord)(nil)).
		Set("terms_accepted_at = ?", accepted).
		Set("updated_at = ?", now).
		Where("id = ?", record.ID).
		Exec(ctx)
	if err != nil {
		return core.User{}, err
	}
	record.TermsAcceptedAt = &accepted
	record.UpdatedAt = now
	return record.toDomain(), nil
}

func (s *UserStore) MarkVerifiedTx(ctx context.Context, tx bun.Tx, phone string, verifiedAt time.Time) (core.User, error) {
	record, err := s.findTx(ctx, tx, strings.TrimSpace(phone))
	if err != nil {
		return core.User{}, err
	}
	now := s.now()
	verified := verifiedAt.UTC()
	_, err = tx.NewUpdate().
		Model((*userRecord)(nil)).
		Set("verified_at = ?", verified).
		Set("updated_at = ?", now).
		Where("id = ?", record.ID).
		Exec(ctx)
	if err != nil {
		return core.User{}, err
	}
	record.VerifiedAt = &verified
	record.UpdatedAt = now
	return record.toDomain(), nil
}

func (s *UserStore) findTx(ctx context.Context, tx bun.Tx, phone string) (*userRecord, error) {
	record := &userRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.phone = ?", phone).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrUserNotFound
		}
		return nil, err
	}
	return record, nil
}
