package engine

import (
	"context"

	"github.com/BaSui01/taskflow/types"
	"go.uber.org/zap"
)

// HandoffRequest is the ephemeral value representing one delegation. It is
// created by the router when a node signals delegation and consumed
// immediately by the scheduler; it is never persisted beyond the current step.
type HandoffRequest struct {
	FromNode   string
	Candidates []HandoffCandidate
	Output     RawOutput
	View       *ContextView
}

// HandoffDecision is the router's answer: the chosen target plus the filtered
// context and optional structured payload handed to it.
type HandoffDecision struct {
	Target  HandoffCandidate
	Score   float64
	View    *ContextView
	Payload map[string]any
}

// ScoreFunc rates one candidate for a request; higher is better. Scorers must
// be pure with respect to the request so routing stays deterministic.
type ScoreFunc func(ctx context.Context, req *HandoffRequest, candidate HandoffCandidate) float64

// WeightedScorer combines a scoring function with its weight in the sum.
type WeightedScorer struct {
	Score  ScoreFunc
	Weight float64
}

// StaticWeightScorer scores candidates by their declared weight.
func StaticWeightScorer(_ context.Context, _ *HandoffRequest, candidate HandoffCandidate) float64 {
	return candidate.Weight
}

// CapabilityScorer scores candidates by the fraction of required capabilities
// they declare. The required set is read from the request output's
// "capabilities" field when present.
func CapabilityScorer(_ context.Context, req *HandoffRequest, candidate HandoffCandidate) float64 {
	required, _ := req.Output.Field("capabilities").([]string)
	if len(required) == 0 {
		return 0
	}
	have := make(map[string]bool, len(candidate.Capabilities))
	for _, c := range candidate.Capabilities {
		have[c] = true
	}
	matched := 0
	for _, r := range required {
		if have[r] {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}

// HandoffRouter resolves delegation targets with a weighted sum of pluggable
// scorers. Ties break by declaration order.
type HandoffRouter struct {
	scorers []WeightedScorer
	logger  *zap.Logger
}

// NewHandoffRouter creates a router. With no scorers it falls back to the
// static declared-weight scorer.
func NewHandoffRouter(logger *zap.Logger, scorers ...WeightedScorer) *HandoffRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(scorers) == 0 {
		scorers = []WeightedScorer{{Score: StaticWeightScorer, Weight: 1}}
	}
	return &HandoffRouter{
		scorers: scorers,
		logger:  logger.With(zap.String("component", "handoff_router")),
	}
}

// Resolve picks the highest-scoring candidate at or above minScore.
// No eligible candidate yields a NO_ELIGIBLE_TARGET error; the scheduler
// turns that into a Failed result for the originating node.
func (r *HandoffRouter) Resolve(ctx context.Context, req *HandoffRequest, minScore float64) (HandoffDecision, error) {
	if len(req.Candidates) == 0 {
		return HandoffDecision{}, types.NewError(types.ErrNoEligibleTarget, "no handoff candidates declared").
			WithNodeID(req.FromNode)
	}

	best := -1
	bestScore := 0.0
	for i, candidate := range req.Candidates {
		score := 0.0
		for _, s := range r.scorers {
			score += s.Weight * s.Score(ctx, req, candidate)
		}
		r.logger.Debug("scored handoff candidate",
			zap.String("from", req.FromNode),
			zap.String("target", candidate.TargetNode),
			zap.Float64("score", score),
		)
		// Strict comparison keeps declaration order as the tie-break.
		if score >= minScore && (best < 0 || score > bestScore) {
			best = i
			bestScore = score
		}
	}

	if best < 0 {
		return HandoffDecision{}, types.NewError(types.ErrNoEligibleTarget, "no eligible handoff target").
			WithNodeID(req.FromNode)
	}

	r.logger.Info("handoff resolved",
		zap.String("from", req.FromNode),
		zap.String("target", req.Candidates[best].TargetNode),
		zap.Float64("score", bestScore),
	)
	return HandoffDecision{Target: req.Candidates[best], Score: bestScore}, nil
}

// FilterContext applies the same filtering semantics as the store's filtered
// policy to the view transferred with a handoff, plus the optional
// structured-payload transform.
func (r *HandoffRouter) FilterContext(view *ContextView, cfg *HandoffConfig) (*ContextView, map[string]any) {
	filtered := &ContextView{RunID: view.RunID, NodeID: view.NodeID}
	if cfg == nil || cfg.Filter == nil {
		filtered.Entries = append(filtered.Entries, view.Entries...)
	} else {
		allowed := make(map[string]bool, len(cfg.Filter.NodeIDs))
		for _, id := range cfg.Filter.NodeIDs {
			allowed[id] = true
		}
		for _, e := range view.Entries {
			if e.Source == SourceGuardrailFeedback {
				continue
			}
			if len(allowed) > 0 && !allowed[e.NodeID] && !allowed[e.ParentID] {
				continue
			}
			e.Output = e.Output.Project(cfg.Filter.Fields)
			filtered.Entries = append(filtered.Entries, e)
		}
	}

	var payload map[string]any
	if cfg != nil && len(cfg.Payload) > 0 {
		payload = make(map[string]any, len(cfg.Payload))
		for target, source := range cfg.Payload {
			for i := len(filtered.Entries) - 1; i >= 0; i-- {
				if v := filtered.Entries[i].Output.Field(source); v != nil {
					payload[target] = v
					break
				}
			}
		}
	}
	return filtered, payload
}
