package sampling

import (
	"errors"
	"time"

	"github.com/North-Shore-AI/tinker-go/internal/wire"
	"github.com/tidwall/gjson"
)

// defaultRateLimitBackoff is used when a 429 response carries no
// advisory retry_after_ms.
const defaultRateLimitBackoff = time.Second

func asWireError(err error) (*wire.Error, bool) {
	var werr *wire.Error
	if errors.As(err, &werr) {
		return werr, true
	}
	return nil, false
}

// retryAfterFromStatusError best-effort peeks at a "retry_after_ms"
// field in the raw response body captured on a 429 *wire.Error,
// falling back to defaultRateLimitBackoff when absent or unparseable.
// Using gjson here avoids committing to a full struct decode of a
// response shape the server may vary across error paths.
func retryAfterFromStatusError(werr *wire.Error) time.Duration {
	body, _ := werr.Data["body"].(string)
	if body == "" {
		return defaultRateLimitBackoff
	}
	result := gjson.Get(body, "retry_after_ms")
	if !result.Exists() {
		return defaultRateLimitBackoff
	}
	ms := result.Int()
	if ms <= 0 {
		return defaultRateLimitBackoff
	}
	return time.Duration(ms) * time.Millisecond
}
