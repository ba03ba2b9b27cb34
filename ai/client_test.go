package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/man0l/real-estate-analyzer/utils"
)

// stubProvider returns canned outcomes in order, then repeats the last one.
type stubProvider struct {
	name     string
	outcomes []outcome
	calls    int
}

type outcome struct {
	text string
	err  error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Complete(context.Context, Request) (string, error) {
	idx := s.calls
	if idx >= len(s.outcomes) {
		idx = len(s.outcomes) - 1
	}
	s.calls++
	o := s.outcomes[idx]
	return o.text, o.err
}

// newTestClient disables jitter and records every sleep instead of waiting.
func newTestClient(primary, fallback Provider, sleeps *[]time.Duration) *Client {
	c := NewClient(primary, fallback, utils.NewLogger(false))
	c.sleep = func(d time.Duration) { *sleeps = append(*sleeps, d) }
	c.jitter = func() time.Duration { return 0 }
	return c
}

func TestBackoffMonotonic(t *testing.T) {
	primary := &stubProvider{
		name:     "primary",
		outcomes: []outcome{{err: errors.New("429 too many requests")}},
	}
	var sleeps []time.Duration
	c := newTestClient(primary, nil, &sleeps)
	c.MaxAttempts = 4

	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}

	if primary.calls != 4 {
		t.Errorf("calls = %d; want 4", primary.calls)
	}
	if len(sleeps) != 3 {
		t.Fatalf("sleeps = %v; want 3 backoff waits", sleeps)
	}
	for i := 1; i < len(sleeps); i++ {
		if sleeps[i] < sleeps[i-1] {
			t.Errorf("backoff not monotonic: %v", sleeps)
		}
	}
}

func TestQuotaExhaustionNeverRetried(t *testing.T) {
	primary := &stubProvider{
		name:     "primary",
		outcomes: []outcome{{err: errors.New("429: You exceeded your current quota, please check your billing")}},
	}
	fallback := &stubProvider{name: "fallback", outcomes: []outcome{{text: "ok"}}}
	var sleeps []time.Duration
	c := newTestClient(primary, fallback, &sleeps)

	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("err = %v; want ErrQuotaExhausted", err)
	}
	if primary.calls != 1 {
		t.Errorf("calls = %d; want exactly 1 (no retries)", primary.calls)
	}
	if fallback.calls != 0 {
		t.Errorf("fallback consulted on quota exhaustion")
	}
	if len(sleeps) != 0 {
		t.Errorf("sleeps = %v; want none", sleeps)
	}
}

func TestTransientThenSuccess(t *testing.T) {
	primary := &stubProvider{
		name: "primary",
		outcomes: []outcome{
			{err: errors.New("model overloaded, try again")},
			{text: "HAS_ACT16: true"},
		},
	}
	var sleeps []time.Duration
	c := newTestClient(primary, nil, &sleeps)

	text, err := c.Complete(context.Background(), Request{Prompt: "x"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "HAS_ACT16: true" {
		t.Errorf("text = %q", text)
	}
	if primary.calls != 2 {
		t.Errorf("calls = %d; want 2", primary.calls)
	}
}

func TestFallbackAfterTransientFailure(t *testing.T) {
	primary := &stubProvider{
		name:     "primary",
		outcomes: []outcome{{err: errors.New("503 service unavailable")}},
	}
	fallback := &stubProvider{name: "fallback", outcomes: []outcome{{text: "ok"}}}
	var sleeps []time.Duration
	c := newTestClient(primary, fallback, &sleeps)
	c.MaxAttempts = 2

	text, err := c.Complete(context.Background(), Request{Prompt: "x"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "ok" {
		t.Errorf("text = %q; want fallback response", text)
	}
	if primary.calls != 2 || fallback.calls != 1 {
		t.Errorf("primary calls = %d, fallback calls = %d; want 2 and 1",
			primary.calls, fallback.calls)
	}
}

func TestFallbackFailureReRaisesOriginalError(t *testing.T) {
	primary := &stubProvider{
		name:     "primary",
		outcomes: []outcome{{err: errors.New("rate limit reached")}},
	}
	fallback := &stubProvider{
		name:     "fallback",
		outcomes: []outcome{{err: errors.New("connection refused")}},
	}
	var sleeps []time.Duration
	c := newTestClient(primary, fallback, &sleeps)
	c.MaxAttempts = 1

	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if want := "rate limit reached"; !strings.Contains(err.Error(), want) {
		t.Errorf("err = %v; want original %q re-raised", err, want)
	}
	if fallback.calls != 1 {
		t.Errorf("fallback calls = %d; want 1", fallback.calls)
	}
}

func TestFallbackEmptyResponseSignaled(t *testing.T) {
	primary := &stubProvider{
		name:     "primary",
		outcomes: []outcome{{err: errors.New("503 service unavailable")}},
	}
	fallback := &stubProvider{name: "fallback", outcomes: []outcome{{text: "  \n "}}}
	var sleeps []time.Duration
	c := newTestClient(primary, fallback, &sleeps)
	c.MaxAttempts = 1

	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("err = %v; want ErrEmptyResponse for blank fallback output", err)
	}
	if fallback.calls != 1 {
		t.Errorf("fallback calls = %d; want 1", fallback.calls)
	}
}

func TestEmptyResponseSignaled(t *testing.T) {
	primary := &stubProvider{name: "primary", outcomes: []outcome{{text: "  \n "}}}
	var sleeps []time.Duration
	c := newTestClient(primary, nil, &sleeps)

	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("err = %v; want ErrEmptyResponse", err)
	}
}
