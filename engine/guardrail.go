package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// verdict is the fixed response contract of a delegated validator agent.
type verdict struct {
	Verdict  string `json:"verdict"`
	Feedback string `json:"feedback"`
}

const (
	verdictAccepted = "accepted"
	verdictRejected = "rejected"
)

// unparsableVerdictFeedback is returned when a validator's response cannot be
// mapped onto the verdict contract. Fail-closed.
const unparsableVerdictFeedback = "validator produced unparsable verdict"

// GuardrailEvaluator decides whether a node's raw output is acceptable.
// Function guardrails run in-process; delegated guardrails reuse the agent
// invocation capability with a fixed verdict contract.
type GuardrailEvaluator struct {
	invoker Invoker
	logger  *zap.Logger
}

// NewGuardrailEvaluator creates an evaluator. The invoker is only needed for
// delegated-agent guardrails.
func NewGuardrailEvaluator(invoker Invoker, logger *zap.Logger) *GuardrailEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GuardrailEvaluator{
		invoker: invoker,
		logger:  logger.With(zap.String("component", "guardrail_evaluator")),
	}
}

// Evaluate returns accept/reject plus rejection feedback. A nil or empty
// guardrail accepts everything. Evaluation never crashes the run: predicate
// panics and errors, validator invocation errors, and malformed verdicts all
// come back as rejections with the reason as feedback.
func (e *GuardrailEvaluator) Evaluate(ctx context.Context, g *Guardrail, output RawOutput) (accepted bool, feedback string) {
	if g == nil {
		return true, ""
	}
	if g.Check != nil {
		return e.evaluateFunc(ctx, g.Check, output)
	}
	if g.ValidatorRef != "" {
		return e.evaluateDelegated(ctx, g, output)
	}
	return true, ""
}

// evaluateFunc runs a pure predicate guardrail with panic containment.
func (e *GuardrailEvaluator) evaluateFunc(ctx context.Context, check GuardrailFunc, output RawOutput) (accepted bool, feedback string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("guardrail predicate panicked", zap.Any("panic", r))
			accepted = false
			feedback = fmt.Sprintf("guardrail panicked: %v", r)
		}
	}()

	ok, reason, err := check(ctx, output)
	if err != nil {
		return false, err.Error()
	}
	if !ok && reason == "" {
		reason = "output rejected by guardrail"
	}
	return ok, reason
}

// evaluateDelegated asks a validator agent for a structured verdict.
func (e *GuardrailEvaluator) evaluateDelegated(ctx context.Context, g *Guardrail, output RawOutput) (bool, string) {
	if e.invoker == nil {
		return false, "delegated guardrail configured without an invoker"
	}

	instruction := buildValidationPrompt(g.Rubric, output)
	raw, err := e.invoker.Invoke(ctx, g.ValidatorRef, instruction, &ContextView{})
	if err != nil {
		e.logger.Warn("validator invocation failed",
			zap.String("validator", g.ValidatorRef),
			zap.Error(err),
		)
		return false, fmt.Sprintf("validator invocation failed: %v", err)
	}

	v, ok := parseVerdict(raw)
	if !ok {
		e.logger.Warn("validator verdict unparsable",
			zap.String("validator", g.ValidatorRef),
			zap.String("raw", raw.Text),
		)
		return false, unparsableVerdictFeedback
	}

	switch v.Verdict {
	case verdictAccepted:
		return true, ""
	case verdictRejected:
		feedback := v.Feedback
		if feedback == "" {
			feedback = "output rejected by validator"
		}
		return false, feedback
	default:
		return false, unparsableVerdictFeedback
	}
}

// buildValidationPrompt embeds the raw output and the rubric into the fixed
// validation contract.
func buildValidationPrompt(rubric string, output RawOutput) string {
	var sb strings.Builder
	sb.WriteString("Validate the following output against the rubric.\n")
	if rubric != "" {
		sb.WriteString("Rubric: ")
		sb.WriteString(rubric)
		sb.WriteString("\n")
	}
	sb.WriteString("Output:\n")
	sb.WriteString(output.Text)
	sb.WriteString("\n\nRespond with JSON: {\"verdict\": \"accepted\"|\"rejected\", \"feedback\": \"...\"}")
	return sb.String()
}

// parseVerdict extracts the verdict record from a validator response. The
// structured fields win when present; otherwise the first JSON object embedded
// in the text is decoded.
func parseVerdict(raw RawOutput) (verdict, bool) {
	if raw.Fields != nil {
		if v, ok := raw.Fields["verdict"].(string); ok {
			fb, _ := raw.Fields["feedback"].(string)
			return verdict{Verdict: strings.ToLower(strings.TrimSpace(v)), Feedback: fb}, true
		}
	}

	text := raw.Text
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return verdict{}, false
	}

	var v verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return verdict{}, false
	}
	v.Verdict = strings.ToLower(strings.TrimSpace(v.Verdict))
	if v.Verdict != verdictAccepted && v.Verdict != verdictRejected {
		return verdict{}, false
	}
	return v, true
}
