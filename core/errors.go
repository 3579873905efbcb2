package core

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorAuthentication    = "CLAIMBOT_AUTHENTICATION_FAILED"
	ErrorValidation        = "CLAIMBOT_VALIDATION_FAILED"
	ErrorRateLimited       = "CLAIMBOT_RATE_LIMITED"
	ErrorDependencyTimeout = "CLAIMBOT_DEPENDENCY_TIMEOUT"
	ErrorDependencyFailed  = "CLAIMBOT_DEPENDENCY_FAILED"
	ErrorStoreUnavailable  = "CLAIMBOT_STORE_UNAVAILABLE"
	ErrorConfiguration     = "CLAIMBOT_CONFIGURATION_INVALID"
	ErrorUnhandled         = "CLAIMBOT_UNHANDLED"
)

const MetadataKeyRetryAfter = "retry_after_seconds"

func newError(message string, category goerrors.Category, code int, textCode string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func wrapError(source error, category goerrors.Category, message string, code int, textCode string, metadata map[string]any) *goerrors.Error {
	if source == nil {
		return newError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func AuthenticationError(message string, cause error) error {
	return wrapError(cause, goerrors.CategoryAuth, message, http.StatusUnauthorized, ErrorAuthentication, nil)
}

func ValidationError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryBadInput, http.StatusBadRequest, ErrorValidation, metadata)
}

func RateLimitError(senderID string, retryAfter time.Duration) error {
	seconds := int64(retryAfter.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return newError("rate limit exceeded", goerrors.CategoryRateLimit, http.StatusTooManyRequests, ErrorRateLimited, map[string]any{
		"sender":              senderID,
		MetadataKeyRetryAfter: seconds,
	})
}

func StoreUnavailableError(message string, cause error) error {
	return wrapError(cause, goerrors.CategoryOperation, message, http.StatusServiceUnavailable, ErrorStoreUnavailable, nil)
}

func DependencyError(message string, cause error, metadata map[string]any) error {
	textCode := ErrorDependencyFailed
	if IsTimeout(cause) {
		textCode = ErrorDependencyTimeout
	}
	return wrapError(cause, goerrors.CategoryExternal, message, http.StatusBadGateway, textCode, metadata)
}

func ConfigurationError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryInternal, http.StatusInternalServerError, ErrorConfiguration, metadata)
}

func UnhandledError(message string, cause error) error {
	return wrapError(cause, goerrors.CategoryInternal, message, http.StatusInternalServerError, ErrorUnhandled, nil)
}

// IsTimeout reports whether err came from an exceeded deadline.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.TextCode == ErrorDependencyTimeout {
		return true
	}
	return false
}

// MapError converts any error into the go-errors envelope used by the
// webhook surface. Unknown errors become internal failures.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return ensureEnvelope(rich)
	}
	if IsTimeout(err) {
		return ensureEnvelope(wrapError(err, goerrors.CategoryExternal, "dependency timed out", http.StatusBadGateway, ErrorDependencyTimeout, nil))
	}
	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureEnvelope(mapped)
}

// HTTPStatus returns the response status for err.
func HTTPStatus(err error) int {
	mapped := MapError(err)
	if mapped == nil {
		return http.StatusOK
	}
	return mapped.Code
}

// HasTextCode reports whether err carries the given text code.
func HasTextCode(err error, textCode string) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == textCode
}

// RetryAfterSeconds extracts the retry hint from a rate-limit error.
func RetryAfterSeconds(err error) (int64, bool) {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Metadata == nil {
		return 0, false
	}
	switch value := rich.Metadata[MetadataKeyRetryAfter].(type) {
	case int64:
		return value, true
	case int:
		return int64(value), true
	case float64:
		return int64(value), true
	}
	return 0, false
}

func ensureEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = categoryHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorValidation
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorAuthentication
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryOperation:
		return ErrorStoreUnavailable
	case goerrors.CategoryExternal:
		return ErrorDependencyFailed
	default:
		return ErrorUnhandled
	}
}

func categoryHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryOperation:
		return http.StatusServiceUnavailable
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
