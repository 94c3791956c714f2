package engine

import (
	"fmt"

	"github.com/BaSui01/taskflow/types"
)

// Graph represents the task graph: nodes keyed by ID plus the routing edges
// declared on each node. Cycles are legal only through Decision or Loop nodes,
// which carry a monotonic counter enforced by the scheduler.
type Graph struct {
	Name        string
	Description string

	nodes map[string]*TaskNode
	order []string
}

// NewGraph creates an empty task graph
func NewGraph(name string) *Graph {
	return &Graph{
		Name:  name,
		nodes: make(map[string]*TaskNode),
	}
}

// AddNode registers a node; a duplicate ID replaces the earlier definition.
func (g *Graph) AddNode(node *TaskNode) *Graph {
	if _, exists := g.nodes[node.ID]; !exists {
		g.order = append(g.order, node.ID)
	}
	g.nodes[node.ID] = node
	return g
}

// Node returns the node with the given ID
func (g *Graph) Node(id string) (*TaskNode, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

// Nodes returns all nodes in insertion order
func (g *Graph) Nodes() []*TaskNode {
	nodes := make([]*TaskNode, 0, len(g.order))
	for _, id := range g.order {
		nodes = append(nodes, g.nodes[id])
	}
	return nodes
}

// Len returns the number of nodes
func (g *Graph) Len() int {
	return len(g.nodes)
}

// StartNodes returns the entry points in insertion order
func (g *Graph) StartNodes() []*TaskNode {
	var starts []*TaskNode
	for _, id := range g.order {
		if g.nodes[id].Start {
			starts = append(starts, g.nodes[id])
		}
	}
	return starts
}

// successors returns every node ID reachable from the node in one hop:
// static routes, parallel branches, and handoff candidates.
func (g *Graph) successors(node *TaskNode) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, key := range node.outcomeKeys() {
		for _, id := range node.Next[key] {
			add(id)
		}
	}
	for _, id := range node.Branches {
		add(id)
	}
	if node.Handoff != nil {
		for _, c := range node.Handoff.Candidates {
			add(c.TargetNode)
		}
	}
	return out
}

// Predecessors returns the IDs of nodes with an edge into the given node,
// in insertion order.
func (g *Graph) Predecessors(id string) []string {
	var preds []string
	for _, fromID := range g.order {
		for _, succ := range g.successors(g.nodes[fromID]) {
			if succ == id {
				preds = append(preds, fromID)
				break
			}
		}
	}
	return preds
}

// Validate checks the structural invariants of the graph:
// at least one start node, all edges resolvable, every node reachable from a
// start node, branch-key vocabulary per node kind, and no cycle that avoids
// Decision and Loop nodes.
func (g *Graph) Validate() error {
	if len(g.nodes) == 0 {
		return types.NewError(types.ErrGraphInvalid, "graph has no nodes")
	}

	starts := g.StartNodes()
	if len(starts) == 0 {
		return types.NewError(types.ErrGraphInvalid, "graph has no start node")
	}

	for _, id := range g.order {
		if err := g.validateNode(g.nodes[id]); err != nil {
			return err
		}
	}

	if err := g.checkReachability(starts); err != nil {
		return err
	}

	return g.checkCycles()
}

func (g *Graph) validateNode(node *TaskNode) error {
	fail := func(format string, args ...any) error {
		return types.NewError(types.ErrGraphInvalid, fmt.Sprintf(format, args...)).WithNodeID(node.ID)
	}

	switch node.Kind {
	case KindNormal:
		if node.AgentRef == "" {
			return fail("normal node %q has no agent ref", node.ID)
		}
		if err := g.checkBranchKeys(node, DefaultOutcome); err != nil {
			return err
		}
	case KindDecision:
		if node.Decide == nil && node.AgentRef == "" && node.Guardrail == nil {
			return fail("decision node %q needs a decide function, an agent ref, or a guardrail", node.ID)
		}
		if len(node.Next) == 0 {
			return fail("decision node %q declares no outcomes", node.ID)
		}
	case KindLoop:
		if node.AgentRef == "" {
			return fail("loop node %q has no agent ref", node.ID)
		}
		if err := g.checkBranchKeys(node, DefaultOutcome, OutcomeContinue, OutcomeDone); err != nil {
			return err
		}
	case KindParallel:
		if len(node.Branches) == 0 {
			return fail("parallel node %q declares no branches", node.ID)
		}
		for _, branchID := range node.Branches {
			branch, ok := g.nodes[branchID]
			if !ok {
				return fail("parallel node %q references unknown branch %q", node.ID, branchID)
			}
			if branch.Kind == KindParallel {
				return fail("parallel node %q nests parallel branch %q", node.ID, branchID)
			}
			// Branch continuation is the parallel node's default route; a
			// branch with its own routes would escape the fan-in.
			if len(branch.Next) > 0 || branch.Handoff != nil {
				return fail("parallel branch %q must not declare routes of its own", branchID)
			}
		}
		if err := g.checkBranchKeys(node, DefaultOutcome); err != nil {
			return err
		}
	default:
		return fail("node %q has unknown kind %q", node.ID, node.Kind)
	}

	for _, key := range node.outcomeKeys() {
		for _, targetID := range node.Next[key] {
			if _, ok := g.nodes[targetID]; !ok {
				return fail("node %q routes %q to unknown node %q", node.ID, key, targetID)
			}
		}
	}

	if node.Handoff != nil {
		if len(node.Handoff.Candidates) == 0 {
			return fail("node %q declares a handoff with no candidates", node.ID)
		}
		for _, c := range node.Handoff.Candidates {
			if _, ok := g.nodes[c.TargetNode]; !ok {
				return fail("node %q handoff references unknown target %q", node.ID, c.TargetNode)
			}
		}
	}

	return nil
}

// checkBranchKeys enforces the outcome vocabulary of non-decision nodes.
func (g *Graph) checkBranchKeys(node *TaskNode, allowed ...string) error {
	permitted := make(map[string]bool, len(allowed))
	for _, key := range allowed {
		permitted[key] = true
	}
	for _, key := range node.outcomeKeys() {
		if !permitted[key] {
			return types.NewError(types.ErrGraphInvalid,
				fmt.Sprintf("node %q declares branch key %q outside its vocabulary %v", node.ID, key, allowed)).
				WithNodeID(node.ID)
		}
	}
	return nil
}

func (g *Graph) checkReachability(starts []*TaskNode) error {
	reached := make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		if reached[id] {
			return
		}
		reached[id] = true
		for _, succ := range g.successors(g.nodes[id]) {
			walk(succ)
		}
	}
	for _, start := range starts {
		walk(start.ID)
	}
	for _, id := range g.order {
		if !reached[id] {
			return types.NewError(types.ErrGraphInvalid,
				fmt.Sprintf("node %q is not reachable from any start node", id)).WithNodeID(id)
		}
	}
	return nil
}

// checkCycles rejects cycles that pass through neither a Decision nor a Loop
// node; those are the only kinds carrying a strictly decreasing counter, so
// any other cycle cannot be proven to terminate.
func (g *Graph) checkCycles() error {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(g.nodes))
	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		state[id] = inStack
		stack = append(stack, id)
		for _, succ := range g.successors(g.nodes[id]) {
			switch state[succ] {
			case unvisited:
				if err := visit(succ); err != nil {
					return err
				}
			case inStack:
				if !g.cycleHasBreaker(stack, succ) {
					return types.NewError(types.ErrGraphInvalid,
						fmt.Sprintf("cycle through %q contains no decision or loop node", succ)).
						WithNodeID(succ)
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, id := range g.order {
		if state[id] == unvisited {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// cycleHasBreaker reports whether the cycle closing at entry contains a
// Decision or Loop node.
func (g *Graph) cycleHasBreaker(stack []string, entry string) bool {
	start := 0
	for i, id := range stack {
		if id == entry {
			start = i
			break
		}
	}
	for _, id := range stack[start:] {
		kind := g.nodes[id].Kind
		if kind == KindDecision || kind == KindLoop {
			return true
		}
	}
	return false
}
