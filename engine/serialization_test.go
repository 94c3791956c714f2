package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSerializableGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraphBuilder("support").
		WithDescription("ticket triage pipeline").
		AddNode("intake", KindNormal).
		WithAgent("intake").
		WithDescription("Read the ticket").
		AsStart().
		Done().
		AddNode("triage", KindDecision).
		WithAgent("triager").
		WithGuardrail(&Guardrail{ValidatorRef: "checker", Rubric: "be polite"}).
		Done().
		AddNode("resolve", KindNormal).
		WithAgent("resolver").
		WithContextPolicy(ContextPolicy{Kind: PolicyFiltered, NodeIDs: []string{"intake"}}).
		Done().
		Connect("intake", "triage").
		ConnectOn("triage", "resolve", "resolve").
		ConnectOn("triage", "discard", "intake").
		Build()
	require.NoError(t, err)
	return g
}

func assertDefinitionMatches(t *testing.T, original *Graph, loaded *GraphDefinition) {
	t.Helper()
	g, err := loaded.ToGraph()
	require.NoError(t, err)
	assert.Equal(t, original.Name, g.Name)
	assert.Equal(t, original.Len(), g.Len())

	intake, ok := g.Node("intake")
	require.True(t, ok)
	assert.True(t, intake.Start)
	assert.Equal(t, "intake", intake.AgentRef)

	triage, ok := g.Node("triage")
	require.True(t, ok)
	assert.Equal(t, KindDecision, triage.Kind)
	require.NotNil(t, triage.Guardrail)
	assert.Equal(t, "checker", triage.Guardrail.ValidatorRef)
	assert.Equal(t, []string{"resolve"}, triage.Next["resolve"])

	resolve, ok := g.Node("resolve")
	require.True(t, ok)
	assert.Equal(t, PolicyFiltered, resolve.ContextPolicy.Kind)
	assert.Equal(t, []string{"intake"}, resolve.ContextPolicy.NodeIDs)
}

func TestDefinitionJSONRoundTrip(t *testing.T) {
	t.Parallel()
	original := buildSerializableGraph(t)

	jsonStr, err := DefinitionFromGraph(original).ToJSON()
	require.NoError(t, err)

	loaded, err := DefinitionFromJSON(jsonStr)
	require.NoError(t, err)
	assertDefinitionMatches(t, original, loaded)
}

func TestDefinitionYAMLRoundTrip(t *testing.T) {
	t.Parallel()
	original := buildSerializableGraph(t)

	yamlStr, err := DefinitionFromGraph(original).ToYAML()
	require.NoError(t, err)

	loaded, err := DefinitionFromYAML(yamlStr)
	require.NoError(t, err)
	assertDefinitionMatches(t, original, loaded)
}

func TestDefinitionRejectsInvalidGraph(t *testing.T) {
	t.Parallel()

	_, err := DefinitionFromJSON(`{"name": "broken", "nodes": [{"id": "a", "kind": "normal"}]}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")

	_, err = DefinitionFromJSON(`{not json`)
	assert.Error(t, err)

	_, err = DefinitionFromYAML(":\n  - bad")
	assert.Error(t, err)
}

func TestDefinitionFileRoundTrip(t *testing.T) {
	t.Parallel()
	original := buildSerializableGraph(t)
	def := DefinitionFromGraph(original)
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "graph.json")
	require.NoError(t, def.SaveToFile(jsonPath))
	loaded, err := LoadDefinitionFromFile(jsonPath)
	require.NoError(t, err)
	assertDefinitionMatches(t, original, loaded)

	yamlPath := filepath.Join(dir, "graph.yaml")
	require.NoError(t, def.SaveToFile(yamlPath))
	loaded, err = LoadDefinitionFromFile(yamlPath)
	require.NoError(t, err)
	assertDefinitionMatches(t, original, loaded)

	_, err = LoadDefinitionFromFile(filepath.Join(dir, "absent.json"))
	assert.Error(t, err)
}
