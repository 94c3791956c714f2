package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// GraphBuilder provides a fluent API for constructing task graphs
type GraphBuilder struct {
	graph  *Graph
	logger *zap.Logger
	errs   []error
}

// NewGraphBuilder creates a new graph builder with the given name
func NewGraphBuilder(name string) *GraphBuilder {
	return &GraphBuilder{
		graph:  NewGraph(name),
		logger: zap.NewNop(),
	}
}

// WithDescription sets the graph description
func (b *GraphBuilder) WithDescription(desc string) *GraphBuilder {
	b.graph.Description = desc
	return b
}

// WithLogger sets a custom logger
func (b *GraphBuilder) WithLogger(logger *zap.Logger) *GraphBuilder {
	b.logger = logger.With(zap.String("component", "graph_builder"))
	return b
}

// AddNode adds a node and returns a NodeBuilder for configuration
func (b *GraphBuilder) AddNode(id string, kind NodeKind) *NodeBuilder {
	if _, exists := b.graph.Node(id); exists {
		b.errs = append(b.errs, fmt.Errorf("duplicate node id: %s", id))
	}
	node := &TaskNode{
		ID:       id,
		Kind:     kind,
		Next:     make(map[string][]string),
		Metadata: make(map[string]any),
	}
	b.graph.AddNode(node)
	return &NodeBuilder{node: node, parent: b}
}

// Connect adds a routing edge under the implicit default key
func (b *GraphBuilder) Connect(from, to string) *GraphBuilder {
	return b.ConnectOn(from, DefaultOutcome, to)
}

// ConnectOn adds a routing edge under the given branch key
func (b *GraphBuilder) ConnectOn(from, key, to string) *GraphBuilder {
	node, ok := b.graph.Node(from)
	if !ok {
		b.errs = append(b.errs, fmt.Errorf("edge from unknown node: %s", from))
		return b
	}
	if node.Next == nil {
		node.Next = make(map[string][]string)
	}
	node.Next[key] = append(node.Next[key], to)
	return b
}

// Build validates the graph and returns it
func (b *GraphBuilder) Build() (*Graph, error) {
	for _, err := range b.errs {
		return nil, fmt.Errorf("graph construction failed: %w", err)
	}
	if err := b.graph.Validate(); err != nil {
		return nil, err
	}
	b.logger.Info("task graph built",
		zap.String("name", b.graph.Name),
		zap.Int("nodes", b.graph.Len()),
		zap.Int("start_nodes", len(b.graph.StartNodes())),
	)
	return b.graph, nil
}

// NodeBuilder configures a single node within a GraphBuilder chain
type NodeBuilder struct {
	node   *TaskNode
	parent *GraphBuilder
}

// WithAgent sets the agent ref
func (nb *NodeBuilder) WithAgent(agentRef string) *NodeBuilder {
	nb.node.AgentRef = agentRef
	return nb
}

// WithDescription sets the instruction payload
func (nb *NodeBuilder) WithDescription(desc string) *NodeBuilder {
	nb.node.Description = desc
	return nb
}

// WithExpectedOutput sets the output shape hint
func (nb *NodeBuilder) WithExpectedOutput(hint string) *NodeBuilder {
	nb.node.ExpectedOutput = hint
	return nb
}

// WithContextPolicy sets the context retention policy
func (nb *NodeBuilder) WithContextPolicy(policy ContextPolicy) *NodeBuilder {
	nb.node.ContextPolicy = policy
	return nb
}

// WithGuardrail attaches a guardrail
func (nb *NodeBuilder) WithGuardrail(g *Guardrail) *NodeBuilder {
	nb.node.Guardrail = g
	return nb
}

// WithDecide attaches a classification function (decision nodes)
func (nb *NodeBuilder) WithDecide(fn DecideFunc) *NodeBuilder {
	nb.node.Decide = fn
	return nb
}

// WithRetries sets the retry budget and delay
func (nb *NodeBuilder) WithRetries(budget int, delay time.Duration) *NodeBuilder {
	nb.node.SetMaxRetries(budget)
	nb.node.RetryDelay = delay
	return nb
}

// WithTimeout bounds a single attempt
func (nb *NodeBuilder) WithTimeout(timeout time.Duration) *NodeBuilder {
	nb.node.Timeout = timeout
	return nb
}

// AsStart marks the node as a graph entry point
func (nb *NodeBuilder) AsStart() *NodeBuilder {
	nb.node.Start = true
	return nb
}

// WithBranches sets the concurrent branches of a parallel node
func (nb *NodeBuilder) WithBranches(ids ...string) *NodeBuilder {
	nb.node.Branches = ids
	return nb
}

// WithFailFast cancels sibling branches on the first branch failure
func (nb *NodeBuilder) WithFailFast() *NodeBuilder {
	nb.node.FailFast = true
	return nb
}

// WithIterationSource sets the record sequence of a loop node
func (nb *NodeBuilder) WithIterationSource(records []map[string]any, maxIterations int) *NodeBuilder {
	nb.node.IterationSource = records
	nb.node.MaxIterations = maxIterations
	return nb
}

// WithHandoff delegates routing after success
func (nb *NodeBuilder) WithHandoff(cfg *HandoffConfig) *NodeBuilder {
	nb.node.Handoff = cfg
	return nb
}

// Done returns to the graph builder
func (nb *NodeBuilder) Done() *GraphBuilder {
	return nb.parent
}
