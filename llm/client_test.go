// ABOUTME: Tests for the resilient client: retry eligibility, backoff selection, fallback-once, fail-fast paths.
// ABOUTME: Uses a scripted fake provider and a no-op sleeper so tests run without real delays.
package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

// scriptedProvider returns queued errors per model until the queue drains,
// then succeeds.
type scriptedProvider struct {
	failures map[string][]error
	calls    []string // models hit, in order
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) take(model string) error {
	p.calls = append(p.calls, model)
	queue := p.failures[model]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	p.failures[model] = queue[1:]
	return err
}

func (p *scriptedProvider) GenerateText(ctx context.Context, model string, req TextRequest) (*TextResponse, error) {
	if err := p.take(model); err != nil {
		return nil, err
	}
	return &TextResponse{Text: "ok"}, nil
}

func (p *scriptedProvider) GenerateImage(ctx context.Context, model string, req ImageRequest) (*ImageResponse, error) {
	if err := p.take(model); err != nil {
		return nil, err
	}
	return &ImageResponse{Data: []byte{0x89}}, nil
}

func callErr(kind Kind) error {
	return &CallError{Kind: kind, Op: OpTextGeneration, Model: "primary", Message: "scripted"}
}

func newTestClient(p Provider, opts ...Option) (*Client, *MemoryRecorder, *[]time.Duration) {
	rec := NewMemoryRecorder()
	var slept []time.Duration
	base := []Option{
		WithDefaultModel(OpTextGeneration, "primary"),
		WithRecorder(rec),
		withSleep(func(_ context.Context, d time.Duration) { slept = append(slept, d) }),
	}
	return NewClient(p, append(base, opts...)...), rec, &slept
}

func TestRetryableFailureThenSuccess(t *testing.T) {
	p := &scriptedProvider{failures: map[string][]error{
		"primary": {callErr(KindTimedOut), callErr(KindModelUnavailable)},
	}}
	c, rec, slept := newTestClient(p)

	resp, err := c.GenerateText(context.Background(), TextRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if resp.Model != "primary" {
		t.Errorf("expected primary to serve, got %q", resp.Model)
	}
	if len(p.calls) != 3 {
		t.Errorf("expected 3 attempts, got %d", len(p.calls))
	}
	if want := []time.Duration{800 * time.Millisecond, 1600 * time.Millisecond}; len(*slept) != 2 || (*slept)[0] != want[0] || (*slept)[1] != want[1] {
		t.Errorf("expected standard schedule %v, got %v", want, *slept)
	}
	counts := rec.CountByKind()
	if counts[""] != 1 || counts[KindTimedOut] != 1 || counts[KindModelUnavailable] != 1 {
		t.Errorf("unexpected metric counts: %v", counts)
	}
}

func TestStandardRetriesExhausted(t *testing.T) {
	p := &scriptedProvider{failures: map[string][]error{
		"primary": {callErr(KindTimedOut), callErr(KindTimedOut), callErr(KindTimedOut)},
	}}
	c, _, _ := newTestClient(p)

	_, err := c.GenerateText(context.Background(), TextRequest{Prompt: "hi"})
	var ce *CallError
	if !errors.As(err, &ce) || ce.Kind != KindTimedOut {
		t.Fatalf("expected TimedOut after exhaustion, got %v", err)
	}
	if len(p.calls) != 3 {
		t.Errorf("expected 3 attempts (default budget), got %d", len(p.calls))
	}
}

func TestRateLimitUsesLongSchedule(t *testing.T) {
	p := &scriptedProvider{failures: map[string][]error{
		"primary": {callErr(KindRateLimited), callErr(KindRateLimited)},
	}}
	c, _, slept := newTestClient(p)

	if _, err := c.GenerateText(context.Background(), TextRequest{Prompt: "hi"}); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if want := []time.Duration{10 * time.Second, 30 * time.Second}; len(*slept) != 2 || (*slept)[0] != want[0] || (*slept)[1] != want[1] {
		t.Errorf("expected rate-limit schedule prefix %v, got %v", want, *slept)
	}
}

func TestNonRetryableFailsImmediately(t *testing.T) {
	for _, kind := range []Kind{KindContentFiltered, KindInvalidRequest} {
		p := &scriptedProvider{failures: map[string][]error{
			"primary": {callErr(kind)},
		}}
		c, _, slept := newTestClient(p, WithFallbackModel(OpTextGeneration, "fallback"))

		_, err := c.GenerateText(context.Background(), TextRequest{Prompt: "hi"})
		var ce *CallError
		if !errors.As(err, &ce) || ce.Kind != kind {
			t.Fatalf("kind %s: expected classified error, got %v", kind, err)
		}
		if len(p.calls) != 1 {
			t.Errorf("kind %s: expected a single attempt, got %d", kind, len(p.calls))
		}
		if len(*slept) != 0 {
			t.Errorf("kind %s: expected no backoff sleeps", kind)
		}
	}
}

func TestFallbackModelTriedOncePerRequest(t *testing.T) {
	p := &scriptedProvider{failures: map[string][]error{
		"primary":  {callErr(KindModelUnavailable), callErr(KindModelUnavailable), callErr(KindModelUnavailable)},
		"fallback": {callErr(KindModelUnavailable)},
	}}
	c, _, _ := newTestClient(p, WithFallbackModel(OpTextGeneration, "fallback"))

	_, err := c.GenerateText(context.Background(), TextRequest{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected failure")
	}

	fallbackHits := 0
	for _, m := range p.calls {
		if m == "fallback" {
			fallbackHits++
		}
	}
	if fallbackHits != 1 {
		t.Errorf("expected exactly 1 fallback attempt, got %d (calls: %v)", fallbackHits, p.calls)
	}
}

func TestFallbackSuccessServesRequest(t *testing.T) {
	p := &scriptedProvider{failures: map[string][]error{
		"primary": {callErr(KindRateLimited)},
	}}
	c, _, slept := newTestClient(p, WithFallbackModel(OpTextGeneration, "fallback"))

	resp, err := c.GenerateText(context.Background(), TextRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("expected fallback success, got %v", err)
	}
	if resp.Model != "fallback" {
		t.Errorf("expected fallback to serve, got %q", resp.Model)
	}
	if len(*slept) != 0 {
		t.Errorf("fallback success must not consume backoff, slept %v", *slept)
	}
}

func TestOpenCircuitFailsFastWithoutProviderCall(t *testing.T) {
	p := &scriptedProvider{failures: map[string][]error{}}
	reg := NewBreakerRegistry(DefaultBreakerConfig())
	c, _, _ := newTestClient(p, WithBreakers(reg))

	br := reg.Get(OpTextGeneration, "primary")
	for i := 0; i < 5; i++ {
		br.RecordFailure()
	}

	_, err := c.GenerateText(context.Background(), TextRequest{Prompt: "hi"})
	var ce *CallError
	if !errors.As(err, &ce) || ce.Kind != KindCircuitOpen {
		t.Fatalf("expected CircuitOpen, got %v", err)
	}
	if len(p.calls) != 0 {
		t.Errorf("open circuit must not contact the provider, got %d calls", len(p.calls))
	}
}

func TestAttemptsUpdateBreaker(t *testing.T) {
	p := &scriptedProvider{failures: map[string][]error{
		"primary": {callErr(KindTimedOut)},
	}}
	reg := NewBreakerRegistry(DefaultBreakerConfig())
	c, _, _ := newTestClient(p, WithBreakers(reg))

	if _, err := c.GenerateText(context.Background(), TextRequest{Prompt: "hi"}); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	// One failure then one success: the success resets the counter.
	snap := reg.Get(OpTextGeneration, "primary").Snapshot()
	if snap.State != BreakerClosed || snap.ConsecutiveFailures != 0 {
		t.Errorf("expected closed breaker with reset counter, got %+v", snap)
	}
}

// panickyProvider panics for a fixed number of calls, then succeeds.
type panickyProvider struct {
	panicsLeft int
	calls      int
}

func (p *panickyProvider) Name() string { return "panicky" }

func (p *panickyProvider) GenerateText(ctx context.Context, model string, req TextRequest) (*TextResponse, error) {
	p.calls++
	if p.panicsLeft > 0 {
		p.panicsLeft--
		panic("provider blew up")
	}
	return &TextResponse{Text: "ok"}, nil
}

func (p *panickyProvider) GenerateImage(ctx context.Context, model string, req ImageRequest) (*ImageResponse, error) {
	p.calls++
	return &ImageResponse{Data: []byte{0x89}}, nil
}

func TestProviderPanicSettlesHalfOpenProbe(t *testing.T) {
	reg := NewBreakerRegistry(DefaultBreakerConfig())
	now := time.Now()
	reg.SetClock(func() time.Time { return now })

	br := reg.Get(OpTextGeneration, "primary")
	for i := 0; i < 5; i++ {
		br.RecordFailure()
	}
	now = now.Add(31 * time.Second)

	p := &panickyProvider{panicsLeft: 1}
	c, _, _ := newTestClient(p, WithBreakers(reg))

	// The half-open probe panics through the client.
	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected the provider panic to propagate")
			}
		}()
		c.GenerateText(context.Background(), TextRequest{Prompt: "hi"})
	}()

	if snap := br.Snapshot(); snap.State != BreakerOpen {
		t.Fatalf("panicking probe must reopen the breaker, got %+v", snap)
	}

	// After another cooldown the probe slot must be free again.
	now = now.Add(31 * time.Second)
	if _, err := c.GenerateText(context.Background(), TextRequest{Prompt: "hi"}); err != nil {
		t.Fatalf("expected the next probe to be admitted and succeed, got %v", err)
	}
	if p.calls != 2 {
		t.Errorf("expected 2 provider calls, got %d", p.calls)
	}
}

func TestImageOperationUsesOwnDefaults(t *testing.T) {
	p := &scriptedProvider{failures: map[string][]error{}}
	c, _, _ := newTestClient(p, WithDefaultModel(OpImageGeneration, "image-model"))

	if _, err := c.GenerateImage(context.Background(), ImageRequest{Prompt: "a fox"}); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(p.calls) != 1 || p.calls[0] != "image-model" {
		t.Errorf("expected image default model, got %v", p.calls)
	}
}
