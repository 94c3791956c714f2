package engine

import "time"

// ResultStatus represents the terminal status of one node attempt
type ResultStatus string

const (
	// StatusSuccess indicates an accepted output
	StatusSuccess ResultStatus = "success"
	// StatusRejected indicates a guardrail rejection; the node may retry
	StatusRejected ResultStatus = "rejected"
	// StatusFailed indicates a non-recoverable node failure
	StatusFailed ResultStatus = "failed"
	// StatusCancelled indicates the attempt observed a run cancellation
	StatusCancelled ResultStatus = "cancelled"
)

// Result entry sources, used to tag synthetic context entries.
const (
	SourceAgent             = "agent"
	SourceGuardrailFeedback = "guardrail-feedback"
	SourceMemory            = "memory"
	SourceUpstreamFailure   = "upstream-failure"
	SourceHandoffPayload    = "handoff-payload"
)

// RawOutput is the opaque output of one agent invocation. Text always carries
// the flat rendering; Fields is set when the agent produced a structured record.
type RawOutput struct {
	Text   string         `json:"text"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Field returns a named field of a structured output, nil when absent.
func (o RawOutput) Field(name string) any {
	if o.Fields == nil {
		return nil
	}
	return o.Fields[name]
}

// Project returns a copy of the output reduced to the named fields.
// Unknown fields are dropped silently. Unstructured outputs pass through
// unchanged so a projection never loses the only representation there is.
func (o RawOutput) Project(fields []string) RawOutput {
	if len(fields) == 0 || o.Fields == nil {
		return o
	}
	projected := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := o.Fields[f]; ok {
			projected[f] = v
		}
	}
	return RawOutput{Text: o.Text, Fields: projected}
}

// TaskResult records the outcome of executing one TaskNode once.
// Immutable once created; retries supersede it with a higher Attempt.
type TaskResult struct {
	// NodeID is the producing node; loop children carry a derived ID
	NodeID string `json:"node_id"`
	// ParentID is set on loop-child results to the owning loop node
	ParentID string `json:"parent_id,omitempty"`
	// Attempt is 1-based
	Attempt int `json:"attempt"`
	// Output is the raw agent output of this attempt
	Output RawOutput `json:"output"`
	// Status is the attempt's terminal status
	Status ResultStatus `json:"status"`
	// Feedback carries the guardrail rejection reason; it is injected into the
	// next attempt's view as a synthetic entry
	Feedback string `json:"feedback,omitempty"`
	// Error carries invocation error text. Unlike Feedback it is never fed
	// back into a retry's context, only surfaced in the trace.
	Error string `json:"error,omitempty"`
	// OutcomeKey is the resolved branch key of a Decision node
	OutcomeKey string `json:"outcome_key,omitempty"`
	// Source distinguishes agent output from synthetic entries
	Source string `json:"source"`
	// Timestamp is the completion time of the attempt
	Timestamp time.Time `json:"timestamp"`
}

// Succeeded reports whether the result is an accepted output.
func (r TaskResult) Succeeded() bool {
	return r.Status == StatusSuccess
}
