package transport

import (
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-claimbot/core"
)

// transportError builds the rich error returned by the adapter. cause may
// be nil.
func transportError(cause error, category goerrors.Category, code int, message string, metadata map[string]any) error {
	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, category, message)
	} else {
		err = goerrors.New(message, category)
	}
	err = err.WithCode(code).WithTextCode(textCodeFor(category))
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// textCodeFor maps transport categories onto claimbot codes. Anything the
// collaborator rejected counts as a dependency failure.
func textCodeFor(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryInternal:
		return core.ErrorUnhandled
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.ErrorValidation
	default:
		return core.ErrorDependencyFailed
	}
}
