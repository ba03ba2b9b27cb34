package ai

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/man0l/real-estate-analyzer/utils"
)

// ErrQuotaExhausted marks a provider-reported exhaustion of a recurring
// usage allowance. It is never retried locally: the caller aborts the run
// instead of burning the retry budget.
var ErrQuotaExhausted = errors.New("ai: provider quota exhausted")

// ErrEmptyResponse marks a total parse failure: the provider answered but
// produced no usable text.
var ErrEmptyResponse = errors.New("ai: empty model response")

// transientSignatures identify momentary failures worth retrying, matched
// case-insensitively against the error message.
var transientSignatures = []string{
	"rate limit",
	"rate_limit",
	"429",
	"too many requests",
	"overloaded",
	"503",
	"service unavailable",
	"timeout",
	"deadline exceeded",
	"connection",
	"temporarily",
}

// quotaSignatures identify daily/free-tier exhaustion. Checked before the
// transient set because quota messages often also mention rate limits.
var quotaSignatures = []string{
	"insufficient_quota",
	"exceeded your current quota",
	"quota exceeded",
	"daily limit",
	"free tier",
	"billing",
}

// Client wraps a Provider with exponential backoff, quota detection and a
// one-shot fallback provider.
type Client struct {
	primary  Provider
	fallback Provider
	logger   *utils.Logger

	MaxAttempts  int
	BaseDelay    time.Duration
	MaxTotalWait time.Duration

	sleep  func(time.Duration)
	jitter func() time.Duration
}

// NewClient creates a Client around primary. fallback may be nil.
func NewClient(primary, fallback Provider, logger *utils.Logger) *Client {
	return &Client{
		primary:  primary,
		fallback: fallback,
		logger:   logger,

		MaxAttempts:  3,
		BaseDelay:    time.Second,
		MaxTotalWait: 2 * time.Minute,

		sleep:  time.Sleep,
		jitter: func() time.Duration { return time.Duration(rand.Int63n(int64(time.Second))) },
	}
}

// Complete runs the completion with retries. Transient failures back off
// exponentially with jitter up to MaxAttempts and MaxTotalWait; quota
// exhaustion surfaces immediately as ErrQuotaExhausted; after the retry
// budget is spent a configured fallback provider gets exactly one attempt
// before the original error is re-raised.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	delay := c.BaseDelay
	var totalWait time.Duration
	var lastErr error

	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		text, err := c.primary.Complete(ctx, req)
		if err == nil {
			if strings.TrimSpace(text) == "" {
				return "", fmt.Errorf("%s: %w", c.primary.Name(), ErrEmptyResponse)
			}
			return text, nil
		}

		if isQuotaExhausted(err) {
			c.logger.Error("[ai] %s quota exhausted on attempt %d: %v", c.primary.Name(), attempt, err)
			return "", fmt.Errorf("%w: %s", ErrQuotaExhausted, err)
		}

		lastErr = err
		if !isTransient(err) {
			c.logger.Error("[ai] %s failed permanently on attempt %d: %v", c.primary.Name(), attempt, err)
			break
		}
		if attempt == c.MaxAttempts {
			c.logger.Warn("[ai] %s failed on final attempt %d/%d: %v",
				c.primary.Name(), attempt, c.MaxAttempts, err)
			break
		}

		wait := delay + c.jitter()
		if totalWait+wait > c.MaxTotalWait {
			c.logger.Warn("[ai] %s retry budget exhausted after %v of waiting", c.primary.Name(), totalWait)
			break
		}
		c.logger.Warn("[ai] %s failed (attempt %d/%d): %v — retrying in %v",
			c.primary.Name(), attempt, c.MaxAttempts, err, wait)
		c.sleep(wait)
		totalWait += wait
		delay *= 2
	}

	if c.fallback != nil && isTransient(lastErr) {
		c.logger.Warn("[ai] falling back from %s to %s after %v",
			c.primary.Name(), c.fallback.Name(), delay)
		c.sleep(delay)

		text, err := c.fallback.Complete(ctx, req)
		if err == nil {
			if strings.TrimSpace(text) != "" {
				c.logger.Info("[ai] fallback %s succeeded", c.fallback.Name())
				return text, nil
			}
			c.logger.Error("[ai] fallback %s returned an empty response", c.fallback.Name())
			return "", fmt.Errorf("%s: %w", c.fallback.Name(), ErrEmptyResponse)
		}
		c.logger.Error("[ai] fallback %s failed: %v", c.fallback.Name(), err)
	}

	return "", fmt.Errorf("ai: %s: %w", c.primary.Name(), lastErr)
}

func isQuotaExhausted(err error) bool {
	return matchesSignature(err, quotaSignatures)
}

func isTransient(err error) bool {
	return matchesSignature(err, transientSignatures)
}

func matchesSignature(err error, signatures []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range signatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
