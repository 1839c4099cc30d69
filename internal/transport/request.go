package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/North-Shore-AI/tinker-go/internal/wire"
)

// maxErrorBodyCapture bounds how many bytes of a non-2xx response body
// are read into the resulting error.
const maxErrorBodyCapture = 8192

// JSON performs a single HTTP attempt against base+path (no retries —
// that is internal/retry's job) encoding body as the JSON request
// payload, decoding a 2xx JSON response into out, and translating
// anything else into a *wire.Error. out may be nil for endpoints whose
// response is only an HTTP status.
func JSON(ctx context.Context, doer Doer, method, base, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return wire.NewValidationError("encode request body: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	fullURL, err := url.JoinPath(base, path)
	if err != nil {
		return wire.NewValidationError("join url %q + %q: %v", base, path, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return wire.NewValidationError("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	StampRequestID(ctx, req)

	resp, err := doer.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return wire.NewAPITimeoutError(fmt.Sprintf("request to %s canceled: %v", fullURL, ctxErr))
		}
		return wire.NewAPIConnectionError(err)
	}
	defer DrainAndClose(resp.Body, maxErrorBodyCapture)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyCapture))
		return wire.NewAPIStatusError(resp.StatusCode, slurp)
	}

	if out == nil {
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return wire.NewRequestFailedError(
			fmt.Sprintf("decode response from %s: %v", fullURL, err),
			wire.CategoryServer,
			nil,
		)
	}
	return nil
}

// BuildPath joins path segments with "/", trimming any accidental
// doubled slashes — a thin helper used by call sites that build
// endpoint paths like "training_runs/"+runID+"/forward".
func BuildPath(segments ...string) string {
	trimmed := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			trimmed = append(trimmed, s)
		}
	}
	return strings.Join(trimmed, "/")
}
