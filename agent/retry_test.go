package agent

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: i/o deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestRetryable(t *testing.T) {
	for _, msg := range []string{
		"429 Too Many Requests",
		"rate limit exceeded",
		"rate_limit_error",
		"overloaded_error: Overloaded",
		"503 Service Unavailable",
		"529 upstream overloaded",
		"request timeout",
		"temporary failure in name resolution",
		"connection refused",
	} {
		assert.True(t, retryable(errors.New(msg)), msg)
	}

	for _, msg := range []string{
		"invalid api key",
		"404 not found",
		"model does not exist",
		"context length exceeded",
		"prompt is 4500 tokens, maximum is 4096",
		"batch of 15000 rows rejected",
	} {
		assert.False(t, retryable(errors.New(msg)), msg)
	}

	assert.True(t, retryable(errors.New("upstream returned status 500")),
		"status codes still match as whole tokens")

	assert.True(t, retryable(fmt.Errorf("generate: %w", timeoutErr{})),
		"wrapped network timeouts stay retryable")
}

func TestJitter(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := jitter(base)
		assert.GreaterOrEqual(t, d, base/2)
		assert.LessOrEqual(t, d, base)
	}
}
