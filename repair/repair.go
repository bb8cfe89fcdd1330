// ABOUTME: Tiered recovery of structured JSON from malformed generative-model output.
// ABOUTME: Three pure tiers (direct, cleaned, bracket-extracted) plus a bounded model-assisted repair tier.
package repair

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/2389-research/storyboard/llm"
)

// maxModelRepairs bounds tier 4. Two shots is enough: a model that cannot
// fix its own output twice is not going to fix it on the third try.
const maxModelRepairs = 2

// UnrepairableError is returned after every tier fails. It carries the
// original text and the last repair attempt for offline analysis.
type UnrepairableError struct {
	Raw         string
	LastAttempt string
	Cause       error
}

func (e *UnrepairableError) Error() string {
	return fmt.Sprintf("structured output unrepairable after all tiers: %v", e.Cause)
}

func (e *UnrepairableError) Unwrap() error {
	return e.Cause
}

// TextGenerator is the slice of the resilient client that tier 4 needs.
type TextGenerator interface {
	GenerateText(ctx context.Context, req llm.TextRequest) (*llm.TextResponse, error)
}

// Repairer extracts typed objects from free-form model output.
type Repairer struct {
	gen   TextGenerator // nil disables tier 4
	model string        // model for repair calls; empty = client default
}

// New creates a Repairer. gen may be nil, in which case only the pure
// tiers run.
func New(gen TextGenerator) *Repairer {
	return &Repairer{gen: gen}
}

// WithModel sets the model used for tier-4 repair calls.
func (r *Repairer) WithModel(model string) *Repairer {
	r.model = model
	return r
}

// Parse extracts a value of v's type from raw. shape is a human-readable
// description of the expected structure, passed to the model on tier 4.
// Tiers run in order and the first success wins.
func (r *Repairer) Parse(ctx context.Context, raw, shape string, v any) error {
	attempt := raw
	var lastErr error

	for round := 0; ; round++ {
		tier, err := parsePure(attempt, v)
		if err == nil {
			if round > 0 || tier > 1 {
				log.Printf("component=repair action=recovered tier=%d model_rounds=%d", tier, round)
			}
			return nil
		}
		lastErr = err
		log.Printf("component=repair action=tiers_failed model_rounds=%d err=%v", round, err)

		if r.gen == nil || round >= maxModelRepairs {
			return &UnrepairableError{Raw: raw, LastAttempt: attempt, Cause: lastErr}
		}

		repaired, rerr := r.modelRepair(ctx, attempt, shape)
		if rerr != nil {
			return &UnrepairableError{Raw: raw, LastAttempt: attempt, Cause: rerr}
		}
		attempt = repaired
	}
}

// parsePure runs tiers 1-3 and returns the tier that succeeded.
func parsePure(raw string, v any) (int, error) {
	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return 1, nil
	}

	cleaned := Clean(raw)
	if err := json.Unmarshal([]byte(cleaned), v); err == nil {
		return 2, nil
	}

	extracted, ok := ExtractBalanced(cleaned)
	if !ok {
		extracted, ok = ExtractBalanced(raw)
	}
	if ok {
		if err := json.Unmarshal([]byte(extracted), v); err == nil {
			return 3, nil
		}
	}

	return 0, fmt.Errorf("no tier produced valid JSON matching the expected type")
}

// modelRepair asks the generative service to correct the malformed text.
func (r *Repairer) modelRepair(ctx context.Context, malformed, shape string) (string, error) {
	prompt := fmt.Sprintf(
		"The following text was supposed to be valid JSON with this structure:\n%s\n\n"+
			"It is malformed:\n%s\n\n"+
			"Return only the corrected JSON. No commentary, no code fences.",
		shape, malformed,
	)
	resp, err := r.gen.GenerateText(ctx, llm.TextRequest{
		System: "You repair malformed JSON. Respond with corrected JSON only.",
		Prompt: prompt,
		Model:  r.model,
	})
	if err != nil {
		return "", fmt.Errorf("model-assisted repair call: %w", err)
	}
	return resp.Text, nil
}

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// Clean strips the wrapping artifacts models habitually add around JSON:
// code fences, surrounding prose, and trailing commas before a closer.
func Clean(raw string) string {
	s := strings.TrimSpace(raw)

	// Prefer the content of the first code fence, if any.
	if idx := strings.Index(s, "```"); idx >= 0 {
		rest := s[idx+3:]
		// Drop an optional language tag on the fence line.
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			first := strings.TrimSpace(rest[:nl])
			if len(first) <= 10 && !strings.ContainsAny(first, "{[") {
				rest = rest[nl+1:]
			}
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			s = strings.TrimSpace(rest[:end])
		} else {
			s = strings.TrimSpace(rest)
		}
	}

	s = trailingCommaRe.ReplaceAllString(s, "$1")
	return s
}

// ExtractBalanced returns the first balanced {...} or [...] span in s,
// tracking nesting depth and skipping brackets inside quoted strings.
func ExtractBalanced(s string) (string, bool) {
	start := -1
	var open, close byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' {
			start, open, close = i, '{', '}'
			break
		}
		if s[i] == '[' {
			start, open, close = i, '[', ']'
			break
		}
	}
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
