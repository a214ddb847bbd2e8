// Package call provides the budgeted adapter around delegated reasoning
// calls.
//
// The adapter is the single place where cost enforcement, retry, and usage
// accounting happen. Its guarantees:
//
//   - A call is never issued once cumulative spend meets the ceiling; the
//     budget guard runs before the call, never after.
//   - Structurally invalid output is treated as a transient fault and the
//     same call is retried up to the attempt ceiling; transport failures
//     retry with exponential backoff.
//   - Exactly one Usage delta is produced per successful invocation. Failed
//     attempts contribute nothing: only the final successful attempt's
//     measured usage is reported.
package call

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/planforge/flow"
	"github.com/dshills/planforge/flow/model"
)

// Spec describes one delegated call. Instruction and Context are opaque
// payloads from the adapter's point of view; it only requires that the
// response parse as a JSON object.
type Spec struct {
	// Stage names the pipeline stage issuing the call, for attribution.
	Stage string

	// Instruction is the system-level payload (what to do).
	Instruction string

	// Context is the user-level payload (what to do it with).
	Context string
}

// Record documents one successful delegated call for the usage ledger.
type Record struct {
	Stage        string    `json:"stage"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	At           time.Time `json:"at"`
}

// Usage is the delta one successful invocation contributes to the
// accumulating usage ledger. The caller folds it into state through the
// ledger's accumulate merge, so it is added exactly once regardless of how
// many retries preceded success.
type Usage struct {
	InputTokens  int      `json:"input_tokens"`
	OutputTokens int      `json:"output_tokens"`
	CostUSD      float64  `json:"cost_usd"`
	Calls        []Record `json:"calls,omitempty"`
}

// Adapter wraps a ChatModel with budget enforcement, retry, and usage
// accounting. Construct with New; the zero value is not usable.
//
// The client handle is passed in explicitly; the adapter holds no
// process-wide state.
type Adapter struct {
	chat      model.ChatModel
	modelName string
	policy    flow.RetryPolicy
	pricing   map[string]Pricing
	metrics   *flow.Metrics
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRetryPolicy overrides the default retry policy (3 attempts, 500ms base
// delay, 15s cap).
func WithRetryPolicy(p flow.RetryPolicy) Option {
	return func(a *Adapter) { a.policy = p }
}

// WithPricing overrides or extends the pricing table for a model.
func WithPricing(modelName string, p Pricing) Option {
	return func(a *Adapter) { a.pricing[modelName] = p }
}

// WithMetrics attaches Prometheus collectors for call usage and retries.
func WithMetrics(m *flow.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// New creates an Adapter around a ChatModel. modelName is used for pricing
// lookup and ledger attribution; unknown models are priced at zero.
func New(chat model.ChatModel, modelName string, opts ...Option) *Adapter {
	a := &Adapter{
		chat:      chat,
		modelName: modelName,
		policy: flow.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    15 * time.Second,
		},
		pricing: make(map[string]Pricing, len(defaultPricing)),
		now:     time.Now,
		sleep:   sleepCtx,
	}
	for name, p := range defaultPricing {
		a.pricing[name] = p
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Invoke issues one delegated call under the budget ceiling.
//
// spentUSD is the run's cumulative cost so far; ceilingUSD is the maximum a
// run may incur. If spentUSD >= ceilingUSD the call fails immediately with
// *BudgetError, checked and signaled before any call is issued.
//
// On success the response text is interpreted as a JSON object (markdown
// code fences tolerated) and returned with exactly one Usage delta computed
// from the successful attempt's measured usage, or estimated from
// input/output size when the provider reports none.
//
// After exhausting retries, the terminal error distinguishes *OutputError
// (could not obtain structurally valid output) from *ChannelError (the
// underlying call channel failed).
func (a *Adapter) Invoke(ctx context.Context, spec Spec, spentUSD, ceilingUSD float64) (map[string]interface{}, Usage, error) {
	if spentUSD >= ceilingUSD {
		return nil, Usage{}, &BudgetError{SpentUSD: spentUSD, CeilingUSD: ceilingUSD}
	}

	messages := []model.Message{
		{Role: model.RoleSystem, Content: spec.Instruction},
		{Role: model.RoleUser, Content: spec.Context},
	}

	var lastErr error
	lastMalformed := false

	for attempt := 0; attempt < a.policy.MaxAttempts; attempt++ {
		if attempt > 0 && !lastMalformed {
			// Transport faults back off exponentially; malformed output is
			// retried immediately since a repeat attempt often parses.
			if err := a.sleep(ctx, flow.Backoff(attempt-1, a.policy.BaseDelay, a.policy.MaxDelay, nil)); err != nil {
				return nil, Usage{}, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, Usage{}, err
		}

		out, err := a.chat.Chat(ctx, messages)
		if err != nil {
			lastErr = err
			lastMalformed = false
			a.observeRetry(spec.Stage, "channel")
			continue
		}

		result, err := decodeResult(out.Text)
		if err != nil {
			lastErr = err
			lastMalformed = true
			a.observeRetry(spec.Stage, "malformed")
			continue
		}

		usage := a.usageFor(spec, out)
		if a.metrics != nil {
			a.metrics.ObserveCall(spec.Stage, usage.InputTokens, usage.OutputTokens, usage.CostUSD)
		}
		return result, usage, nil
	}

	if lastMalformed {
		return nil, Usage{}, &OutputError{Attempts: a.policy.MaxAttempts, Cause: lastErr}
	}
	return nil, Usage{}, &ChannelError{Attempts: a.policy.MaxAttempts, Cause: lastErr}
}

// usageFor computes the usage delta for a successful attempt. Measured usage
// wins; otherwise tokens are estimated from payload sizes.
func (a *Adapter) usageFor(spec Spec, out model.ChatOut) Usage {
	inputTokens := out.Usage.InputTokens
	outputTokens := out.Usage.OutputTokens
	if inputTokens == 0 && outputTokens == 0 {
		inputTokens = estimateTokens(spec.Instruction) + estimateTokens(spec.Context)
		outputTokens = estimateTokens(out.Text)
	}

	cost := a.pricing[a.modelName].cost(inputTokens, outputTokens)

	return Usage{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		Calls: []Record{{
			Stage:        spec.Stage,
			Model:        a.modelName,
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			CostUSD:      cost,
			At:           a.now().UTC(),
		}},
	}
}

func (a *Adapter) observeRetry(stage, reason string) {
	if a.metrics != nil {
		a.metrics.ObserveCallRetry(stage, reason)
	}
}

// decodeResult interprets response text as a JSON object, tolerating
// surrounding prose and markdown code fences.
func decodeResult(text string) (map[string]interface{}, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	// Tolerate a leading or trailing sentence around the object.
	if start := strings.Index(cleaned, "{"); start > 0 {
		cleaned = cleaned[start:]
	}
	if end := strings.LastIndex(cleaned, "}"); end >= 0 && end < len(cleaned)-1 {
		cleaned = cleaned[:end+1]
	}

	var result map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	return result, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
