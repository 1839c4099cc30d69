package tinker

import "github.com/North-Shore-AI/tinker-go/internal/wire"

// Error is the single error type every public tinker function returns,
// carrying the error taxonomy (validation, api_status, api_connection,
// api_timeout, request_failed).
type Error = wire.Error

// ErrorType enumerates the kinds of error the SDK reports.
type ErrorType = wire.Type

// ErrorCategory is the server- or user-attributed origin of a failure.
type ErrorCategory = wire.Category

const (
	ErrorTypeValidation    = wire.TypeValidation
	ErrorTypeAPIStatus     = wire.TypeAPIStatus
	ErrorTypeAPIConnection = wire.TypeAPIConnection
	ErrorTypeAPITimeout    = wire.TypeAPITimeout
	ErrorTypeRequestFailed = wire.TypeRequestFailed
)

const (
	ErrorCategoryUser    = wire.CategoryUser
	ErrorCategoryServer  = wire.CategoryServer
	ErrorCategoryUnknown = wire.CategoryUnknown
)

// IsRetryable reports whether err would be retried by the internal
// retry executor. It is
// exported so a caller implementing their own retry wrapper around a
// Future.Await call can make the same call.
func IsRetryable(err error) bool {
	return wire.IsRetryable(err)
}
