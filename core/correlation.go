package core

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

const HeaderCorrelationID = "X-Correlation-ID"

type correlationKey struct{}

func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, correlationKey{}, strings.TrimSpace(correlationID))
}

func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(correlationKey{}).(string)
	return value
}

// EnsureCorrelationID returns ctx carrying a correlation id, generating one
// when the context has none.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if existing := CorrelationIDFromContext(ctx); existing != "" {
		return ctx, existing
	}
	correlationID := uuid.NewString()
	return ContextWithCorrelationID(ctx, correlationID), correlationID
}
