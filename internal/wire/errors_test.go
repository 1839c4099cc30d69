package wire

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryableStatus(t *testing.T) {
	cases := map[int]bool{
		200: false,
		400: false,
		404: false,
		408: true,
		409: true,
		429: true,
		499: false,
		500: true,
		503: true,
		599: true,
		600: false,
	}
	for status, want := range cases {
		assert.Equalf(t, want, IsRetryableStatus(status), "status %d", status)
	}
}

func TestIsRetryable_APIStatus(t *testing.T) {
	err := NewAPIStatusError(503, []byte(`{"msg":"down"}`))
	assert.True(t, IsRetryable(err))

	err = NewAPIStatusError(400, []byte(`{"msg":"bad"}`))
	assert.False(t, IsRetryable(err))
}

func TestIsRetryable_Connection(t *testing.T) {
	err := NewAPIConnectionError(errors.New("dial tcp: connection refused"))
	assert.True(t, IsRetryable(err))
}

func TestIsRetryable_RequestFailedByCategory(t *testing.T) {
	serverErr := NewRequestFailedError("oops", CategoryServer, nil)
	assert.True(t, IsRetryable(serverErr))

	userErr := NewRequestFailedError("bad input", CategoryUser, nil)
	assert.False(t, IsRetryable(userErr))

	unknownErr := NewRequestFailedError("???", CategoryUnknown, nil)
	assert.True(t, IsRetryable(unknownErr))
}

func TestIsRetryable_Validation(t *testing.T) {
	err := NewValidationError("missing field %s", "model_id")
	assert.False(t, IsRetryable(err))
}

func TestIsRetryable_GenericTimeout(t *testing.T) {
	var err error = &net.DNSError{IsTimeout: true}
	assert.True(t, IsRetryable(err))
}

func TestIsRetryable_Nil(t *testing.T) {
	assert.False(t, IsRetryable(nil))
}

func TestError_MessageFallback(t *testing.T) {
	e := &Error{Type: TypeAPIStatus, Status: 503}
	assert.Equal(t, "Service Unavailable", e.Error())

	e2 := &Error{Type: TypeValidation}
	assert.Equal(t, "validation", e2.Error())
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	e := NewAPIConnectionError(inner)
	require.ErrorIs(t, e, inner)
}

func TestError_Is(t *testing.T) {
	target := &Error{Type: TypeAPIStatus, Status: 503}
	err := NewAPIStatusError(503, nil)
	assert.True(t, errors.Is(err, target))

	other := &Error{Type: TypeAPIStatus, Status: 500}
	assert.False(t, errors.Is(err, other))
}

func TestNewCallbackError(t *testing.T) {
	inner := errors.New("loss fn panicked")
	err := NewCallbackError(inner, "stack trace here")
	assert.Equal(t, TypeRequestFailed, err.Type)
	assert.Equal(t, CategoryUser, err.Category)
	assert.Equal(t, "stack trace here", err.Data["stacktrace"])
	assert.False(t, IsRetryable(err))
}
