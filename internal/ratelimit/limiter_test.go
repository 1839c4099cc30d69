package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForBackoff_NoBackoffReturnsImmediately(t *testing.T) {
	l := New()
	start := time.Now()
	err := l.WaitForBackoff(context.Background(), "https://api.example.com", "key-1")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 20*time.Millisecond)
}

func TestSetBackoff_ThenWaitBlocksUntilDeadline(t *testing.T) {
	l := New()
	l.SetBackoff("https://api.example.com", "key-1", 30*time.Millisecond)
	start := time.Now()
	err := l.WaitForBackoff(context.Background(), "https://api.example.com", "key-1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestSetBackoff_LongerDeadlineWins(t *testing.T) {
	l := New()
	l.SetBackoff("https://api.example.com", "key-1", 10*time.Millisecond)
	l.SetBackoff("https://api.example.com", "key-1", 60*time.Millisecond)
	start := time.Now()
	require.NoError(t, l.WaitForBackoff(context.Background(), "https://api.example.com", "key-1"))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestSetBackoff_ShorterDeadlineDoesNotShortenExisting(t *testing.T) {
	l := New()
	l.SetBackoff("https://api.example.com", "key-1", 60*time.Millisecond)
	l.SetBackoff("https://api.example.com", "key-1", 5*time.Millisecond)
	start := time.Now()
	require.NoError(t, l.WaitForBackoff(context.Background(), "https://api.example.com", "key-1"))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestClearBackoff(t *testing.T) {
	l := New()
	l.SetBackoff("https://api.example.com", "key-1", time.Hour)
	l.ClearBackoff("https://api.example.com", "key-1")
	start := time.Now()
	require.NoError(t, l.WaitForBackoff(context.Background(), "https://api.example.com", "key-1"))
	assert.Less(t, time.Since(start), 20*time.Millisecond)
}

// TestMultiTenantIsolation: two distinct (base_url, api_key)
// destinations never share a backoff deadline.
func TestMultiTenantIsolation(t *testing.T) {
	l := New()
	l.SetBackoff("https://api.example.com", "key-1", time.Hour)
	start := time.Now()
	require.NoError(t, l.WaitForBackoff(context.Background(), "https://api.example.com", "key-2"))
	assert.Less(t, time.Since(start), 20*time.Millisecond)

	start = time.Now()
	require.NoError(t, l.WaitForBackoff(context.Background(), "https://other.example.com", "key-1"))
	assert.Less(t, time.Since(start), 20*time.Millisecond)
}

func TestWaitForBackoff_ContextCanceled(t *testing.T) {
	l := New()
	l.SetBackoff("https://api.example.com", "key-1", time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.WaitForBackoff(ctx, "https://api.example.com", "key-1")
	require.Error(t, err)
}
