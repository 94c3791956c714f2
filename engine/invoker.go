package engine

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/taskflow/types"
)

// Invoker is the external agent-invocation capability consumed by the engine.
// The engine never constructs prompts beyond concatenating the node description
// with the rendered context view; everything model-shaped lives behind this
// interface.
type Invoker interface {
	// Invoke runs the agent identified by agentRef with the given instruction
	// and materialized context. It must honor ctx cancellation.
	Invoke(ctx context.Context, agentRef, instruction string, view *ContextView) (RawOutput, error)
}

// InvokerFunc adapts a function to the Invoker interface
type InvokerFunc func(ctx context.Context, agentRef, instruction string, view *ContextView) (RawOutput, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, agentRef, instruction string, view *ContextView) (RawOutput, error) {
	return f(ctx, agentRef, instruction, view)
}

// MemoryItem is one record returned by the optional memory capability.
type MemoryItem struct {
	Content  string         `json:"content"`
	Score    float64        `json:"score,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MemorySearcher is the optional long-term memory capability. Absence is not
// an error; nodes simply proceed without augmentation.
type MemorySearcher interface {
	Search(ctx context.Context, query string) ([]MemoryItem, error)
}

// invokeClass classifies an invocation error per the retry policy.
type invokeClass int

const (
	invokeOK invokeClass = iota
	invokeRetryable
	invokeFatal
	invokeCancelled
)

// classifyInvokeErr maps an invocation error onto the retry policy: structured
// errors carry their own Retryable flag, deadline expiry is retryable, and a
// run-scoped cancellation is neither retried nor counted as a failure.
func classifyInvokeErr(ctx context.Context, err error) invokeClass {
	if err == nil {
		return invokeOK
	}
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return invokeCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return invokeRetryable
	}
	var structured *types.Error
	if errors.As(err, &structured) {
		if structured.Code == types.ErrRunCancelled {
			return invokeCancelled
		}
		if structured.Retryable {
			return invokeRetryable
		}
		return invokeFatal
	}
	// Unclassified plain errors are treated as fatal: retrying a
	// malformed-request-like failure only burns budget.
	return invokeFatal
}

// sleepCtx waits for the duration or until the context is cancelled.
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
