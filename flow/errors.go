package flow

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMaxStepsExceeded indicates that a run reached the hard safety ceiling
// without terminating. This is a last-resort guard against a misconfigured
// router cycling forever, not a normal control path.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ErrInvalidRetryPolicy indicates a RetryPolicy with impossible configuration
// (MaxAttempts < 1, or MaxDelay below BaseDelay).
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// EngineError is a configuration or invariant violation raised by the engine.
// Engine errors are never retried: they indicate a defect in graph wiring,
// not transient runtime trouble.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// AwaitInputError signals cooperative suspension: a node requested human
// input and the run cannot proceed until the caller supplies answers.
//
// The run is checkpointed before suspension, so calling Run again with the
// same run ID (passing the answers as input) resumes at the node that
// consumes them.
type AwaitInputError struct {
	// RunID identifies the suspended run.
	RunID string

	// NodeID is the node that requested input.
	NodeID string

	// Questions lists what the node needs answered.
	Questions []string
}

func (e *AwaitInputError) Error() string {
	return fmt.Sprintf("run %s suspended at %s awaiting input: %s",
		e.RunID, e.NodeID, strings.Join(e.Questions, "; "))
}
