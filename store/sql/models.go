package sqlstore

import (
	"time"

	"github.com/goliatone/go-claimbot/core"
	"github.com/uptrace/bun"
)

type userRecord struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID              string     `bun:"id,pk"`
	Phone           string     `bun:"phone,notnull"`
	TermsAcceptedAt *time.Time `bun:"terms_accepted_at,nullzero"`
	VerifiedAt      *time.Time `bun:"verified_at,nullzero"`
	CreatedAt       time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type journeyRecord struct {
	bun.BaseModel `bun:"table:journeys,alias:j"`

	ID            string    `bun:"id,pk"`
	UserID        *string   `bun:"user_id"`
	Phone         string    `bun:"phone,notnull"`
	TravelDate    string    `bun:"travel_date,notnull"`
	Origin        string    `bun:"origin,notnull"`
	Destination   string    `bun:"destination,notnull"`
	DepartureTime string    `bun:"departure_time,notnull"`
	RouteID       string    `bun:"route_id,notnull"`
	TicketURL     string    `bun:"ticket_url,notnull"`
	Status        string    `bun:"status,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type outboxEventRecord struct {
	bun.BaseModel `bun:"table:outbox_events,alias:oe"`

	ID            string         `bun:"id,pk"`
	AggregateID   string         `bun:"aggregate_id,notnull"`
	AggregateType string         `bun:"aggregate_type,notnull"`
	EventType     string         `bun:"event_type,notnull"`
	Payload       map[string]any `bun:"payload,type:jsonb,notnull"`
	PublishedAt   *time.Time     `bun:"published_at,nullzero"`
	CreatedAt     time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (r *userRecord) toDomain() core.User {
	if r == nil {
		return core.User{}
	}
	return core.User{
		ID:              r.ID,
		Phone:           r.Phone,
		TermsAcceptedAt: cloneTime(r.TermsAcceptedAt),
		VerifiedAt:      cloneTime(r.VerifiedAt),
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

func newJourneyRecord(journey core.Journey, now time.Time) *journeyRecord {
	record := &journeyRecord{
		ID:            journey.ID,
		Phone:         journey.Phone,
		TravelDate:    journey.TravelDate,
		Origin:        journey.Origin,
		Destination:   journey.Destination,
		DepartureTime: journey.DepartureTime,
		RouteID:       journey.RouteID,
		TicketURL:     journey.TicketURL,
		Status:        string(journey.Status),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if journey.UserID != "" {
		userID := journey.UserID
		record.UserID = &userID
	}
	return record
}

func (r *journeyRecord) toDomain() core.Journey {
	if r == nil {
		return core.Journey{}
	}
	journey := core.Journey{
		ID:            r.ID,
		Phone:         r.Phone,
		TravelDate:    r.TravelDate,
		Origin:        r.Origin,
		Destination:   r.Destination,
		DepartureTime: r.DepartureTime,
		RouteID:       r.RouteID,
		TicketURL:     r.TicketURL,
		Status:        core.JourneyStatus(r.Status),
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.UserID != nil {
		journey.UserID = *r.UserID
	}
	return journey
}

func newOutboxEventRecord(event core.OutboxEvent) *outboxEventRecord {
	return &outboxEventRecord{
		ID:            event.ID,
		AggregateID:   event.AggregateID,
		AggregateType: string(event.AggregateType),
		EventType:     event.EventType,
		Payload:       copyAnyMap(event.Payload),
		PublishedAt:   cloneTime(event.PublishedAt),
		CreatedAt:     event.CreatedAt.UTC(),
	}
}

func (r *outboxEventRecord) toDomain() core.OutboxEvent {
	if r == nil {
		return core.OutboxEvent{}
	}
	return core.OutboxEvent{
		ID:            r.ID,
		AggregateID:   r.AggregateID,
		AggregateType: core.AggregateType(r.AggregateType),
		EventType:     r.EventType,
		Payload:       copyAnyMap(r.Payload),
		PublishedAt:   cloneTime(r.PublishedAt),
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

func cloneTime(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}

func copyAnyMap(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}
