// ABOUTME: Resilient client wrapping the generative service: classification-aware retry, circuit breaking, model fallback.
// ABOUTME: Every real attempt updates the breaker for the model it hit and records call metrics.
package llm

import (
	"context"
	"log"
	"time"
)

// Operation identifies a logical generative operation. Each operation type
// tracks its own circuit breakers and may configure its own fallback model.
type Operation string

const (
	OpTextGeneration  Operation = "text-generation"
	OpImageGeneration Operation = "image-generation"
)

// TextRequest is a request for freeform or structured text generation.
type TextRequest struct {
	System      string
	Prompt      string
	Model       string // empty = client default for text
	Temperature *float64
	MaxTokens   int
}

// TextResponse carries generated text and the model that actually served it.
type TextResponse struct {
	Text  string
	Model string
}

// ImageRequest is a request for a single generated image.
type ImageRequest struct {
	Prompt string
	Model  string // empty = client default for images
	Size   string // e.g. "1024x1024"
}

// ImageResponse carries raw image bytes and the serving model.
type ImageResponse struct {
	Data  []byte
	Model string
}

// Provider is the underlying generative service. Implementations translate
// the two logical operations onto a concrete API and return raw errors;
// classification happens in the client.
type Provider interface {
	Name() string
	GenerateText(ctx context.Context, model string, req TextRequest) (*TextResponse, error)
	GenerateImage(ctx context.Context, model string, req ImageRequest) (*ImageResponse, error)
}

// Client wraps a Provider with retry, circuit breaking, model fallback, and
// call metrics. It is safe for concurrent use.
type Client struct {
	provider  Provider
	breakers  *BreakerRegistry
	policy    RetryPolicy
	recorder  Recorder
	timeout   time.Duration
	defaults  map[Operation]string
	fallbacks map[Operation]string
	sleep     func(context.Context, time.Duration)
}

// Option configures a Client.
type Option func(*Client)

// WithBreakers injects a breaker registry. Production shares one registry per
// process; tests inject a fresh one.
func WithBreakers(reg *BreakerRegistry) Option {
	return func(c *Client) { c.breakers = reg }
}

// WithRetryPolicy overrides the default backoff schedules.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) { c.policy = policy }
}

// WithRecorder sets the call metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(c *Client) { c.recorder = rec }
}

// WithCallTimeout sets the per-attempt timeout. Exceeding it classifies as
// TimedOut and follows the standard retry path.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithDefaultModel sets the model used when a request leaves Model empty.
func WithDefaultModel(op Operation, model string) Option {
	return func(c *Client) { c.defaults[op] = model }
}

// WithFallbackModel configures a fallback model for the operation. On a
// retryable failure the same logical request is tried once against the
// fallback before the primary's retry budget is spent.
func WithFallbackModel(op Operation, model string) Option {
	return func(c *Client) { c.fallbacks[op] = model }
}

// withSleep overrides the backoff sleeper so tests run without real delays.
func withSleep(fn func(context.Context, time.Duration)) Option {
	return func(c *Client) { c.sleep = fn }
}

// NewClient creates a resilient client around the given provider.
func NewClient(provider Provider, opts ...Option) *Client {
	c := &Client{
		provider:  provider,
		breakers:  NewBreakerRegistry(DefaultBreakerConfig()),
		policy:    DefaultRetryPolicy(),
		recorder:  NopRecorder{},
		timeout:   120 * time.Second,
		defaults:  make(map[Operation]string),
		fallbacks: make(map[Operation]string),
		sleep:     sleepWithContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Breakers exposes the breaker registry for status reporting.
func (c *Client) Breakers() *BreakerRegistry {
	return c.breakers
}

// GenerateText runs a text generation request through the resilience layer.
func (c *Client) GenerateText(ctx context.Context, req TextRequest) (*TextResponse, error) {
	model := req.Model
	if model == "" {
		model = c.defaults[OpTextGeneration]
	}
	res, served, err := c.execute(ctx, OpTextGeneration, model, func(ctx context.Context, m string) (any, error) {
		return c.provider.GenerateText(ctx, m, req)
	})
	if err != nil {
		return nil, err
	}
	resp := res.(*TextResponse)
	resp.Model = served
	return resp, nil
}

// GenerateImage runs an image generation request through the resilience layer.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResponse, error) {
	model := req.Model
	if model == "" {
		model = c.defaults[OpImageGeneration]
	}
	res, served, err := c.execute(ctx, OpImageGeneration, model, func(ctx context.Context, m string) (any, error) {
		return c.provider.GenerateImage(ctx, m, req)
	})
	if err != nil {
		return nil, err
	}
	resp := res.(*ImageResponse)
	resp.Model = served
	return resp, nil
}

// execute drives one logical request: breaker-gated attempts against the
// primary model with classification-aware backoff, plus at most one fallback
// attempt for the whole request.
func (c *Client) execute(
	ctx context.Context,
	op Operation,
	model string,
	invoke func(context.Context, string) (any, error),
) (any, string, error) {
	fallbackModel := c.fallbacks[op]
	fallbackTried := false
	counters := &retryCounters{}

	var lastErr *CallError

	for {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, "", lastErr
			}
			return nil, "", Classify(ctx.Err(), op, model)
		default:
		}

		res, cerr := c.attempt(ctx, op, model, invoke)
		if cerr == nil {
			return res, model, nil
		}
		lastErr = cerr

		if !cerr.IsRetryable() {
			return nil, "", cerr
		}

		// One fallback attempt per logical request, tried before spending
		// more of the primary's budget. The fallback model has its own
		// breaker; its outcome never touches the primary's circuit.
		if fallbackModel != "" && fallbackModel != model && !fallbackTried {
			fallbackTried = true
			log.Printf("component=llm action=fallback op=%s primary=%s fallback=%s kind=%s", op, model, fallbackModel, cerr.Kind)
			res, ferr := c.attempt(ctx, op, fallbackModel, invoke)
			if ferr == nil {
				return res, fallbackModel, nil
			}
			log.Printf("component=llm action=fallback_failed op=%s fallback=%s kind=%s", op, fallbackModel, ferr.Kind)
		}

		delay, ok := c.policy.next(cerr.Kind, counters)
		if !ok {
			return nil, "", cerr
		}
		log.Printf("component=llm action=retry op=%s model=%s kind=%s delay=%s", op, model, cerr.Kind, delay)
		c.sleep(ctx, delay)
	}
}

// attempt makes exactly one real call against the given model: breaker gate,
// per-attempt timeout, classification, breaker update, metrics.
func (c *Client) attempt(
	ctx context.Context,
	op Operation,
	model string,
	invoke func(context.Context, string) (any, error),
) (any, *CallError) {
	br := c.breakers.Get(op, model)
	if !br.Allow() {
		cerr := &CallError{Kind: KindCircuitOpen, Op: op, Model: model, Message: "circuit breaker is open"}
		c.recorder.Record(CallMetric{Operation: op, Model: model, Kind: KindCircuitOpen})
		return nil, cerr
	}

	cctx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	settled := false
	defer func() {
		// A provider panic counts as a failure; without this a half-open
		// probe slot stays occupied forever.
		if !settled {
			br.RecordFailure()
			c.recorder.Record(CallMetric{Operation: op, Model: model, Duration: time.Since(start), Kind: KindUnknown})
		}
	}()
	res, err := invoke(cctx, model)
	settled = true
	dur := time.Since(start)

	if err != nil {
		cerr := Classify(err, op, model)
		br.RecordFailure()
		c.recorder.Record(CallMetric{Operation: op, Model: model, Duration: dur, Kind: cerr.Kind})
		return nil, cerr
	}

	br.RecordSuccess()
	c.recorder.Record(CallMetric{Operation: op, Model: model, Duration: dur})
	return res, nil
}
