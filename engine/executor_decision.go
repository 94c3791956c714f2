package engine

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// Guardrail-driven decisions map onto this fixed outcome pair.
const (
	OutcomeApproved = "approved"
	OutcomeRejected = "rejected"
)

// executeDecision classifies the situation and maps it onto one of the node's
// declared outcome keys. Classification precedence: the in-process decide
// function, then guardrail-only evaluation of the predecessor output, then a
// full agent invocation. An unmappable classification is fatal: ambiguous
// routing is never silently guessed.
func (s *Scheduler) executeDecision(ctx context.Context, node *TaskNode, attempt int, view *ContextView) TaskResult {
	raw, err := s.classify(ctx, node, view)
	if err != nil {
		return s.classifyFailure(ctx, node, attempt, err)
	}

	key, ok := matchOutcome(raw, node.outcomeKeys())
	if !ok {
		return TaskResult{
			NodeID:   node.ID,
			ParentID: node.parentID,
			Attempt:  attempt,
			Output:   RawOutput{Text: raw},
			Status:   StatusFailed,
			Feedback: "no matching outcome key",
			Source:   SourceAgent,
		}
	}

	return TaskResult{
		NodeID:     node.ID,
		ParentID:   node.parentID,
		Attempt:    attempt,
		Output:     RawOutput{Text: raw},
		Status:     StatusSuccess,
		OutcomeKey: key,
		Source:     SourceAgent,
	}
}

// classify produces the raw outcome string for a decision node.
func (s *Scheduler) classify(ctx context.Context, node *TaskNode, view *ContextView) (string, error) {
	if node.Decide != nil {
		return node.Decide(ctx, view)
	}

	if node.AgentRef == "" && node.Guardrail != nil {
		// Guardrail-only classification: evaluate the latest upstream output,
		// no generation round-trip.
		accepted, _ := s.guardrails.Evaluate(ctx, node.Guardrail, latestUpstreamOutput(view))
		if accepted {
			return OutcomeApproved, nil
		}
		return OutcomeRejected, nil
	}

	instruction := s.buildInstruction(node)
	if instruction == "" {
		instruction = fmt.Sprintf("Classify the situation. Answer with exactly one of: %s",
			strings.Join(node.outcomeKeys(), ", "))
	}
	output, err := s.rateLimitedInvoke(ctx, node.AgentRef, instruction, view)
	if err != nil {
		return "", err
	}
	return output.Text, nil
}

// latestUpstreamOutput returns the most recent non-synthetic entry of a view.
func latestUpstreamOutput(view *ContextView) RawOutput {
	for i := len(view.Entries) - 1; i >= 0; i-- {
		if view.Entries[i].Source == SourceAgent {
			return view.Entries[i].Output
		}
	}
	return RawOutput{}
}

// matchOutcome maps a raw classification onto a declared outcome key by exact
// match first, then normalized match. Two keys normalizing identically make a
// normalized match ambiguous, which is treated as no match.
func matchOutcome(raw string, keys []string) (string, bool) {
	for _, key := range keys {
		if raw == key {
			return key, true
		}
	}

	normalized := normalizeOutcome(raw)
	if normalized == "" {
		return "", false
	}
	matched := ""
	for _, key := range keys {
		if normalizeOutcome(key) == normalized {
			if matched != "" {
				return "", false
			}
			matched = key
		}
	}
	return matched, matched != ""
}

// normalizeOutcome lowercases and strips everything but letters and digits, so
// "Approved." and " APPROVED " both map onto the "approved" key.
func normalizeOutcome(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
