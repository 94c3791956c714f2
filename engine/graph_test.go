package engine

import (
	"testing"

	"github.com/BaSui01/taskflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestGraphAddNode(t *testing.T) {
	t.Parallel()
	g := NewGraph("pipeline")
	g.AddNode(&TaskNode{ID: "a", Kind: KindNormal, AgentRef: "agent", Start: true})
	g.AddNode(&TaskNode{ID: "b", Kind: KindNormal, AgentRef: "agent"})

	assert.Equal(t, 2, g.Len())
	node, ok := g.Node("a")
	require.True(t, ok)
	assert.Equal(t, "a", node.ID)

	_, ok = g.Node("missing")
	assert.False(t, ok)
}

func TestGraphAddNodeReplacesDuplicate(t *testing.T) {
	t.Parallel()
	g := NewGraph("pipeline")
	g.AddNode(&TaskNode{ID: "a", Kind: KindNormal, AgentRef: "first", Start: true})
	g.AddNode(&TaskNode{ID: "a", Kind: KindNormal, AgentRef: "second", Start: true})

	assert.Equal(t, 1, g.Len())
	node, _ := g.Node("a")
	assert.Equal(t, "second", node.AgentRef)
}

func TestGraphStartNodes(t *testing.T) {
	t.Parallel()
	g := NewGraph("pipeline")
	g.AddNode(&TaskNode{ID: "a", Kind: KindNormal, AgentRef: "agent", Start: true})
	g.AddNode(&TaskNode{ID: "b", Kind: KindNormal, AgentRef: "agent", Start: true})
	g.AddNode(&TaskNode{ID: "c", Kind: KindNormal, AgentRef: "agent"})

	starts := g.StartNodes()
	require.Len(t, starts, 2)
	assert.Equal(t, "a", starts[0].ID)
	assert.Equal(t, "b", starts[1].ID)
}

func TestGraphPredecessors(t *testing.T) {
	t.Parallel()
	g := NewGraph("pipeline")
	g.AddNode(&TaskNode{
		ID: "a", Kind: KindNormal, AgentRef: "agent", Start: true,
		Next: map[string][]string{DefaultOutcome: {"c"}},
	})
	g.AddNode(&TaskNode{
		ID: "b", Kind: KindNormal, AgentRef: "agent", Start: true,
		Next: map[string][]string{DefaultOutcome: {"c"}},
	})
	g.AddNode(&TaskNode{ID: "c", Kind: KindNormal, AgentRef: "agent"})

	assert.Equal(t, []string{"a", "b"}, g.Predecessors("c"))
	assert.Empty(t, g.Predecessors("a"))
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

func TestValidateEmptyGraph(t *testing.T) {
	t.Parallel()
	err := NewGraph("empty").Validate()
	require.Error(t, err)
	assert.Equal(t, types.ErrGraphInvalid, types.GetErrorCode(err))
}

func TestValidateNoStartNode(t *testing.T) {
	t.Parallel()
	g := NewGraph("pipeline")
	g.AddNode(&TaskNode{ID: "a", Kind: KindNormal, AgentRef: "agent"})

	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no start node")
}

func TestValidateNormalNodeNeedsAgent(t *testing.T) {
	t.Parallel()
	g := NewGraph("pipeline")
	g.AddNode(&TaskNode{ID: "a", Kind: KindNormal, Start: true})

	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no agent ref")
}

func TestValidateUnknownRouteTarget(t *testing.T) {
	t.Parallel()
	g := NewGraph("pipeline")
	g.AddNode(&TaskNode{
		ID: "a", Kind: KindNormal, AgentRef: "agent", Start: true,
		Next: map[string][]string{DefaultOutcome: {"ghost"}},
	})

	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node")
}

func TestValidateUnreachableNode(t *testing.T) {
	t.Parallel()
	g := NewGraph("pipeline")
	g.AddNode(&TaskNode{ID: "a", Kind: KindNormal, AgentRef: "agent", Start: true})
	g.AddNode(&TaskNode{ID: "island", Kind: KindNormal, AgentRef: "agent"})

	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
}

func TestValidateDecisionNeedsClassifier(t *testing.T) {
	t.Parallel()
	g := NewGraph("pipeline")
	g.AddNode(&TaskNode{
		ID: "d", Kind: KindDecision, Start: true,
		Next: map[string][]string{"approved": nil},
	})

	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decide function")
}

func TestValidateDecisionNeedsOutcomes(t *testing.T) {
	t.Parallel()
	g := NewGraph("pipeline")
	g.AddNode(&TaskNode{ID: "d", Kind: KindDecision, AgentRef: "agent", Start: true})

	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no outcomes")
}

func TestValidateNormalBranchKeyVocabulary(t *testing.T) {
	t.Parallel()
	g := NewGraph("pipeline")
	g.AddNode(&TaskNode{
		ID: "a", Kind: KindNormal, AgentRef: "agent", Start: true,
		Next: map[string][]string{"approved": {"b"}},
	})
	g.AddNode(&TaskNode{ID: "b", Kind: KindNormal, AgentRef: "agent"})

	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vocabulary")
}

func TestValidateLoopBranchKeys(t *testing.T) {
	t.Parallel()
	g := NewGraph("pipeline")
	g.AddNode(&TaskNode{
		ID: "loop", Kind: KindLoop, AgentRef: "agent", Start: true,
		IterationSource: []map[string]any{{"id": 1}},
		Next:            map[string][]string{OutcomeDone: {"sink"}},
	})
	g.AddNode(&TaskNode{ID: "sink", Kind: KindNormal, AgentRef: "agent"})
	assert.NoError(t, g.Validate())

	g2 := NewGraph("pipeline")
	g2.AddNode(&TaskNode{
		ID: "loop", Kind: KindLoop, AgentRef: "agent", Start: true,
		Next: map[string][]string{"approved": {"sink"}},
	})
	g2.AddNode(&TaskNode{ID: "sink", Kind: KindNormal, AgentRef: "agent"})
	assert.Error(t, g2.Validate())
}

func TestValidateParallelBranches(t *testing.T) {
	t.Parallel()

	t.Run("no branches", func(t *testing.T) {
		g := NewGraph("pipeline")
		g.AddNode(&TaskNode{ID: "p", Kind: KindParallel, Start: true})
		err := g.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no branches")
	})

	t.Run("unknown branch", func(t *testing.T) {
		g := NewGraph("pipeline")
		g.AddNode(&TaskNode{ID: "p", Kind: KindParallel, Start: true, Branches: []string{"ghost"}})
		err := g.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown branch")
	})

	t.Run("nested parallel", func(t *testing.T) {
		g := NewGraph("pipeline")
		g.AddNode(&TaskNode{ID: "p", Kind: KindParallel, Start: true, Branches: []string{"inner"}})
		g.AddNode(&TaskNode{ID: "inner", Kind: KindParallel, Branches: []string{"p"}})
		err := g.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nests parallel")
	})

	t.Run("branch with own routes", func(t *testing.T) {
		g := NewGraph("pipeline")
		g.AddNode(&TaskNode{ID: "p", Kind: KindParallel, Start: true, Branches: []string{"b1"}})
		g.AddNode(&TaskNode{
			ID: "b1", Kind: KindNormal, AgentRef: "agent",
			Next: map[string][]string{DefaultOutcome: {"p"}},
		})
		err := g.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must not declare routes")
	})
}

func TestValidateHandoffTargets(t *testing.T) {
	t.Parallel()
	g := NewGraph("pipeline")
	g.AddNode(&TaskNode{
		ID: "a", Kind: KindNormal, AgentRef: "agent", Start: true,
		Handoff: &HandoffConfig{Candidates: []HandoffCandidate{{TargetNode: "ghost"}}},
	})

	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown target")
}

// ---------------------------------------------------------------------------
// Cycles
// ---------------------------------------------------------------------------

func TestValidateRejectsCycleWithoutBreaker(t *testing.T) {
	t.Parallel()
	g := NewGraph("pipeline")
	g.AddNode(&TaskNode{
		ID: "a", Kind: KindNormal, AgentRef: "agent", Start: true,
		Next: map[string][]string{DefaultOutcome: {"b"}},
	})
	g.AddNode(&TaskNode{
		ID: "b", Kind: KindNormal, AgentRef: "agent",
		Next: map[string][]string{DefaultOutcome: {"a"}},
	})

	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no decision or loop node")
}

func TestValidateAllowsCycleThroughDecision(t *testing.T) {
	t.Parallel()
	g := NewGraph("pipeline")
	g.AddNode(&TaskNode{
		ID: "draft", Kind: KindNormal, AgentRef: "writer", Start: true,
		Next: map[string][]string{DefaultOutcome: {"review"}},
	})
	g.AddNode(&TaskNode{
		ID: "review", Kind: KindDecision, AgentRef: "reviewer",
		Next: map[string][]string{"approved": {"publish"}, "rejected": {"draft"}},
	})
	g.AddNode(&TaskNode{ID: "publish", Kind: KindNormal, AgentRef: "publisher"})

	assert.NoError(t, g.Validate())
}

// ---------------------------------------------------------------------------
// TaskNode helpers
// ---------------------------------------------------------------------------

func TestRetryBudget(t *testing.T) {
	t.Parallel()

	n := &TaskNode{ID: "a"}
	assert.Equal(t, DefaultMaxRetries, n.retryBudget())

	n.MaxRetries = 5
	assert.Equal(t, 5, n.retryBudget())

	zero := &TaskNode{ID: "b"}
	zero.SetMaxRetries(0)
	assert.Equal(t, 0, zero.retryBudget())
}

func TestTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, (&TaskNode{ID: "a"}).Terminal())
	assert.True(t, (&TaskNode{ID: "a", Next: map[string][]string{DefaultOutcome: nil}}).Terminal())
	assert.False(t, (&TaskNode{ID: "a", Next: map[string][]string{DefaultOutcome: {"b"}}}).Terminal())
	assert.False(t, (&TaskNode{
		ID:      "a",
		Handoff: &HandoffConfig{Candidates: []HandoffCandidate{{TargetNode: "b"}}},
	}).Terminal())
}
