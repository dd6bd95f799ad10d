package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/threadweave/threadweave/core"
	"github.com/threadweave/threadweave/model"
)

// callModel issues the provider call with bounded exponential backoff for
// transient errors. Non-retryable failures and cancellations surface
// immediately; exhaustion wraps the last error.
func (a *Agent) callModel(ctx context.Context, req model.Request) (model.Response, error) {
	var lastErr error
	delay := a.opts.RetryBase
	for attempt := 0; attempt < a.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			a.opts.Logger.Warn("agent.provider.retry", "thread", string(a.id),
				"attempt", attempt+1, "delay_ms", delay.Milliseconds(), "error", lastErr.Error())
			select {
			case <-ctx.Done():
				return model.Response{}, ctx.Err()
			case <-time.After(jitter(delay)):
			}
			delay *= 2
		}

		resp, err := a.generateOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			return model.Response{}, err
		}
	}
	return model.Response{}, fmt.Errorf("provider call failed after %d attempts: %w", a.opts.MaxAttempts, lastErr)
}

// generateOnce performs a single provider call, forwarding streamed partial
// chunks as transient stream_delta events and returning the final response.
func (a *Agent) generateOnce(ctx context.Context, req model.Request) (model.Response, error) {
	respCh, errCh := a.model.Generate(ctx, req)

	var final *model.Response
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return model.Response{}, ctx.Err()
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				if _, err := a.log.Append(ctx, core.NewStreamDeltaEvent(a.id, resp.Content)); err != nil {
					a.opts.Logger.Debug("agent.stream.broadcast_failed", "error", err.Error())
				}
				continue
			}
			r := resp
			final = &r
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return model.Response{}, err
			}
		}
	}
	if final == nil {
		return model.Response{}, errors.New("provider returned no final response")
	}
	return *final, nil
}

// retryableStatus matches transient HTTP status codes as whole tokens, so a
// number embedded in unrelated text ("4500 tokens") never classifies.
var retryableStatus = regexp.MustCompile(`\b(429|500|502|503|529)\b`)

// retryable classifies transient infrastructure errors: network timeouts,
// rate limits, and overloaded upstreams.
func retryable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	if retryableStatus.MatchString(msg) {
		return true
	}
	for _, marker := range []string{
		"rate limit", "rate_limit",
		"overloaded", "timeout", "temporar", "connection reset", "connection refused", "unavailable",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// jitter spreads retries over [d/2, d) to avoid thundering herds.
func jitter(d time.Duration) time.Duration {
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
