package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// keyedRecord is implemented by every claimbot record. Methods are safe on
// a nil receiver.
type keyedRecord interface {
	recordID() string
	setRecordID(id string)
	identifierValue() string
}

func modelHandlers[T keyedRecord](newRecord func() T, identifier string) repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord: newRecord,
		GetID: func(record T) uuid.UUID {
			return parseUUID(record.recordID())
		},
		SetID: func(record T, id uuid.UUID) {
			record.setRecordID(id.String())
		},
		GetIdentifier: func() string {
			return identifier
		},
		GetIdentifierValue: func(record T) string {
			return strings.TrimSpace(record.identifierValue())
		},
	}
}

// Users are looked up by phone; journeys and events by id.
func userHandlers() repository.ModelHandlers[*userRecord] {
	return modelHandlers(func() *userRecord { return &userRecord{} }, "phone")
}

func journeyHandlers() repository.ModelHandlers[*journeyRecord] {
	return modelHandlers(func() *journeyRecord { return &journeyRecord{} }, "id")
}

func outboxEventHandlers() repository.ModelHandlers[*outboxEventRecord] {
	return modelHandlers(func() *outboxEventRecord { return &outboxEventRecord{} }, "id")
}

func (r *userRecord) recordID() string {
	if r == nil {
		return ""
	}
	return r.ID
}

func (r *userRecord) setRecordID(id string) {
	if r != nil {
		r.ID = id
	}
}

func (r *userRecord) identifierValue() string {
	if r == nil {
		return ""
	}
	return r.Phone
}

func (r *journeyRecord) recordID() string {
	if r == nil {
		return ""
	}
	return r.ID
}

func (r *journeyRecord) setRecordID(id string) {
	if r != nil {
		r.ID = id
	}
}

func (r *journeyRecord) identifierValue() string { return r.recordID() }

func (r *outboxEventRecord) recordID() string {
	if r == nil {
		return ""
	}
	return r.ID
}

func (r *outboxEventRecord) setRecordID(id string) {
	if r != nil {
		r.ID = id
	}
}

func (r *outboxEventRecord) identifierValue() string { return r.recordID() }

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
