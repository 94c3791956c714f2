package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchOutcomeExact(t *testing.T) {
	t.Parallel()
	keys := []string{"approved", "rejected"}

	key, ok := matchOutcome("approved", keys)
	assert.True(t, ok)
	assert.Equal(t, "approved", key)
}

func TestMatchOutcomeNormalized(t *testing.T) {
	t.Parallel()
	keys := []string{"approved", "rejected"}

	for raw, want := range map[string]string{
		"Approved.":  "approved",
		" APPROVED ": "approved",
		"approved!":  "approved",
		"Rejected\n": "rejected",
	} {
		key, ok := matchOutcome(raw, keys)
		assert.True(t, ok, "raw %q", raw)
		assert.Equal(t, want, key, "raw %q", raw)
	}
}

func TestMatchOutcomeNoMatch(t *testing.T) {
	t.Parallel()
	keys := []string{"approved", "rejected"}

	for _, raw := range []string{"maybe", "", "!!!"} {
		_, ok := matchOutcome(raw, keys)
		assert.False(t, ok, "raw %q", raw)
	}
}

func TestMatchOutcomeAmbiguousNormalization(t *testing.T) {
	t.Parallel()
	// Both keys normalize to "done"; a normalized match cannot choose.
	keys := []string{"done", "Done!"}

	_, ok := matchOutcome(" DONE ", keys)
	assert.False(t, ok)

	// An exact match still works even under ambiguous normalization.
	key, ok := matchOutcome("Done!", keys)
	assert.True(t, ok)
	assert.Equal(t, "Done!", key)
}

func TestNormalizeOutcome(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "approved", normalizeOutcome(" Approved. "))
	assert.Equal(t, "needswork2", normalizeOutcome("Needs-Work 2"))
	assert.Equal(t, "", normalizeOutcome(" ?! "))
}

func TestLatestUpstreamOutput(t *testing.T) {
	t.Parallel()
	view := &ContextView{
		Entries: []ContextEntry{
			{NodeID: "a", Source: SourceAgent, Output: RawOutput{Text: "older"}},
			{NodeID: "b", Source: SourceAgent, Output: RawOutput{Text: "newest"}},
			{NodeID: "c", Source: SourceMemory, Output: RawOutput{Text: "synthetic"}},
		},
	}
	assert.Equal(t, "newest", latestUpstreamOutput(view).Text)
	assert.Empty(t, latestUpstreamOutput(&ContextView{}).Text)
}
