package call

// Pricing defines per-1M-token costs in USD for a model.
type Pricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// defaultPricing maps model identifiers to their published per-1M-token
// prices. Prices subject to change; override per adapter with WithPricing.
var defaultPricing = map[string]Pricing{
	// OpenAI
	"gpt-4o":        {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":   {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":   {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo": {InputPer1M: 0.50, OutputPer1M: 1.50},

	// Anthropic
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-sonnet":          {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},

	// Google
	"gemini-1.5-pro":   {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash": {InputPer1M: 0.075, OutputPer1M: 0.30},
}

// cost computes USD spend for a token count pair under a pricing entry.
func (p Pricing) cost(inputTokens, outputTokens int) float64 {
	return (float64(inputTokens)/1_000_000.0)*p.InputPer1M +
		(float64(outputTokens)/1_000_000.0)*p.OutputPer1M
}

// estimateTokens approximates a token count from text size when the provider
// reports no usage. Four bytes per token is the usual rough figure.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}
