package call

import "fmt"

// BudgetError indicates the pre-call cost guard refused to issue a delegated
// call: cumulative spend already meets or exceeds the configured ceiling.
// Budget errors are never retried; they propagate immediately to the node
// that issued the call.
type BudgetError struct {
	// SpentUSD is the cumulative cost at the time of the refused call.
	SpentUSD float64

	// CeilingUSD is the configured budget ceiling.
	CeilingUSD float64
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("budget exceeded: spent $%.4f of $%.4f ceiling", e.SpentUSD, e.CeilingUSD)
}

// OutputError indicates the provider responded, but its output could not be
// interpreted as the expected structured form after exhausting retries.
type OutputError struct {
	// Attempts is how many attempts were made before giving up.
	Attempts int

	// Cause is the last interpretation failure.
	Cause error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("structurally invalid output after %d attempts: %v", e.Attempts, e.Cause)
}

// Unwrap returns the last interpretation failure.
func (e *OutputError) Unwrap() error { return e.Cause }

// ChannelError indicates the underlying call channel failed (network,
// provider availability) after exhausting retries with backoff.
type ChannelError struct {
	// Attempts is how many attempts were made before giving up.
	Attempts int

	// Cause is the last transport failure.
	Cause error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("call channel failed after %d attempts: %v", e.Attempts, e.Cause)
}

// Unwrap returns the last transport failure.
func (e *ChannelError) Unwrap() error { return e.Cause }
