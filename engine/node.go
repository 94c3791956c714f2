package engine

import (
	"context"
	"sort"
	"time"
)

// NodeKind defines the kind of a task node
type NodeKind string

const (
	// KindNormal executes a single agent invocation
	KindNormal NodeKind = "normal"
	// KindDecision classifies the situation and routes by outcome key
	KindDecision NodeKind = "decision"
	// KindLoop iterates an agent invocation over a finite record source
	KindLoop NodeKind = "loop"
	// KindParallel fans out independent branches concurrently
	KindParallel NodeKind = "parallel"
)

// DefaultOutcome is the implicit branch key for Normal, Loop and Parallel nodes.
const DefaultOutcome = "default"

// Loop branch keys.
const (
	OutcomeContinue = "continue"
	OutcomeDone     = "done"
)

// PolicyKind defines how much upstream context a node sees
type PolicyKind string

const (
	// PolicyFullHistory exposes every successful result produced so far
	PolicyFullHistory PolicyKind = "full_history"
	// PolicyLastOutput exposes only the latest success of direct predecessors
	PolicyLastOutput PolicyKind = "last_output"
	// PolicyFiltered exposes successes of selected nodes, optionally projected to fields
	PolicyFiltered PolicyKind = "filtered"
)

// ContextPolicy controls the ContextView materialized for a node before invocation.
type ContextPolicy struct {
	Kind PolicyKind `json:"kind" yaml:"kind"`
	// NodeIDs restricts visible results to these producers (filtered policy).
	// Loop child results match through their parent loop node ID.
	NodeIDs []string `json:"node_ids,omitempty" yaml:"node_ids,omitempty"`
	// Fields projects structured results down to the named fields (filtered
	// policy). Unknown fields are dropped silently, never an error.
	Fields []string `json:"fields,omitempty" yaml:"fields,omitempty"`
	// TolerateMissing lets the node proceed when an upstream producer failed,
	// using whatever successful context remains. Failed upstream results stay
	// visible in the view so downstream aggregation can account for the gap.
	TolerateMissing bool `json:"tolerate_missing,omitempty" yaml:"tolerate_missing,omitempty"`
	// MemoryQuery, when set, augments the view with memory search results.
	MemoryQuery string `json:"memory_query,omitempty" yaml:"memory_query,omitempty"`
}

// DecideFunc classifies a situation into one of the node's declared outcome
// keys without a generation round-trip. When nil, Decision nodes invoke the
// agent and map its raw output instead.
type DecideFunc func(ctx context.Context, view *ContextView) (string, error)

// GuardrailFunc is a pure predicate over a node's raw output.
// It returns accepted plus rejection feedback. A returned error or a panic is
// treated as a rejection with the error text as feedback, never a run crash.
type GuardrailFunc func(ctx context.Context, output RawOutput) (bool, string, error)

// Guardrail validates a node's output before it is accepted.
// Exactly one of Check or ValidatorRef should be set; when both are empty the
// guardrail accepts everything.
type Guardrail struct {
	// Check is a deterministic function guardrail.
	Check GuardrailFunc `json:"-" yaml:"-"`
	// ValidatorRef delegates validation to an agent via the Invoker.
	ValidatorRef string `json:"validator_ref,omitempty" yaml:"validator_ref,omitempty"`
	// Rubric is the natural-language acceptance rubric for delegated validation.
	Rubric string `json:"rubric,omitempty" yaml:"rubric,omitempty"`
}

// HandoffCandidate is one possible delegation target.
type HandoffCandidate struct {
	// TargetNode is the node that receives control when this candidate wins.
	TargetNode string `json:"target_node" yaml:"target_node"`
	// AgentRef overrides the target node's agent when set.
	AgentRef string `json:"agent_ref,omitempty" yaml:"agent_ref,omitempty"`
	// Capabilities feed capability-match scorers.
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	// Weight is a static score component for declaration-order scorers.
	Weight float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// HandoffConfig makes a node delegate control after a successful execution
// instead of following its static next-node edges.
type HandoffConfig struct {
	Candidates []HandoffCandidate `json:"candidates" yaml:"candidates"`
	// Filter restricts the context transferred to the chosen target.
	Filter *ContextPolicy `json:"filter,omitempty" yaml:"filter,omitempty"`
	// MinScore is the eligibility threshold; no candidate at or above it means
	// the originating node fails with NO_ELIGIBLE_TARGET.
	MinScore float64 `json:"min_score,omitempty" yaml:"min_score,omitempty"`
	// Payload maps selected context fields into a fixed record shape handed
	// to the target (field name -> source field name).
	Payload map[string]string `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// TaskNode represents a single unit of work in the task graph
type TaskNode struct {
	// ID is the unique, stable identifier for this node
	ID string `json:"id" yaml:"id"`
	// Kind specifies the node kind
	Kind NodeKind `json:"kind" yaml:"kind"`
	// AgentRef is the opaque handle passed to the Invoker
	AgentRef string `json:"agent_ref,omitempty" yaml:"agent_ref,omitempty"`
	// Description is the instruction payload passed to the agent. Loop nodes
	// may template it with {field} placeholders filled per iteration record.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// ExpectedOutput is an optional schema or shape hint appended to the instruction
	ExpectedOutput string `json:"expected_output,omitempty" yaml:"expected_output,omitempty"`
	// ContextPolicy controls the view assembled before invocation
	ContextPolicy ContextPolicy `json:"context_policy,omitempty" yaml:"context_policy,omitempty"`
	// Guardrail validates the output; nil accepts everything
	Guardrail *Guardrail `json:"guardrail,omitempty" yaml:"guardrail,omitempty"`
	// Decide classifies Decision nodes without a generation round-trip
	Decide DecideFunc `json:"-" yaml:"-"`
	// MaxRetries is the retry budget beyond the first attempt (default 2)
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	// RetryDelay is the wait between attempts
	RetryDelay time.Duration `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"`
	// Timeout bounds a single attempt; zero means no per-attempt timeout.
	// An expired timeout counts as a retryable rejection of that attempt.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// Next maps branch keys to downstream node IDs. Normal/Loop/Parallel nodes
	// use the implicit "default" key; Decision nodes use their outcome keys.
	Next map[string][]string `json:"next,omitempty" yaml:"next,omitempty"`
	// Start marks a graph entry point; multiple start nodes are legal
	Start bool `json:"start,omitempty" yaml:"start,omitempty"`
	// Branches lists the node IDs a Parallel node fans out to
	Branches []string `json:"branches,omitempty" yaml:"branches,omitempty"`
	// FailFast cancels sibling branches when one branch of a Parallel node fails
	FailFast bool `json:"fail_fast,omitempty" yaml:"fail_fast,omitempty"`
	// IterationSource is the finite, ordered record sequence a Loop node walks
	IterationSource []map[string]any `json:"iteration_source,omitempty" yaml:"iteration_source,omitempty"`
	// MaxIterations caps Loop iterations; zero means the full source
	MaxIterations int `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	// Handoff delegates control after success instead of static routing
	Handoff *HandoffConfig `json:"handoff,omitempty" yaml:"handoff,omitempty"`
	// Metadata stores additional node information
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	retriesSet bool
	// parentID is set on synthetic loop-child nodes so their results link
	// back to the owning loop node.
	parentID string
	// handoffView and handoffPayload are set on the per-dispatch clone of a
	// handoff target, carrying the filtered context chosen by the router.
	handoffView    *ContextView
	handoffPayload map[string]any
}

// withHandoffContext clones the node for one dispatch as a handoff target:
// the candidate's agent override plus the router's filtered context.
func (n *TaskNode) withHandoffContext(d *HandoffDecision) *TaskNode {
	clone := *n
	if d.Target.AgentRef != "" {
		clone.AgentRef = d.Target.AgentRef
	}
	clone.handoffView = d.View
	clone.handoffPayload = d.Payload
	return &clone
}

// DefaultMaxRetries is applied when a node does not set an explicit budget.
const DefaultMaxRetries = 2

// SetMaxRetries sets an explicit retry budget; zero is a valid budget,
// which is why the default cannot be applied on the zero value alone.
func (n *TaskNode) SetMaxRetries(budget int) *TaskNode {
	n.MaxRetries = budget
	n.retriesSet = true
	return n
}

// retryBudget returns the effective retry budget for the node.
func (n *TaskNode) retryBudget() int {
	if n.retriesSet || n.MaxRetries > 0 {
		return n.MaxRetries
	}
	return DefaultMaxRetries
}

// Terminal reports whether the node has no outgoing routes at all.
func (n *TaskNode) Terminal() bool {
	if n.Handoff != nil {
		return false
	}
	for _, targets := range n.Next {
		if len(targets) > 0 {
			return false
		}
	}
	return true
}

// outcomeKeys returns the declared branch keys in sorted order.
func (n *TaskNode) outcomeKeys() []string {
	keys := make([]string, 0, len(n.Next))
	for k := range n.Next {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
