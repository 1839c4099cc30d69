package sampling

import (
	"testing"
	"time"

	"github.com/North-Shore-AI/tinker-go/internal/wire"
	"github.com/stretchr/testify/assert"
)

func TestRetryAfterFromStatusError_UsesAdvisoryValue(t *testing.T) {
	werr := wire.NewAPIStatusError(429, []byte(`{"retry_after_ms":250}`))
	assert.Equal(t, 250*time.Millisecond, retryAfterFromStatusError(werr))
}

func TestRetryAfterFromStatusError_DefaultsWhenAbsent(t *testing.T) {
	werr := wire.NewAPIStatusError(429, []byte(`{"message":"slow down"}`))
	assert.Equal(t, defaultRateLimitBackoff, retryAfterFromStatusError(werr))
}

func TestRetryAfterFromStatusError_DefaultsOnUnparseableBody(t *testing.T) {
	werr := wire.NewAPIStatusError(429, []byte(`not json`))
	assert.Equal(t, defaultRateLimitBackoff, retryAfterFromStatusError(werr))
}
