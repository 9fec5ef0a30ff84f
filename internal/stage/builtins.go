package stage

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/drishiq/dialogue-engine/internal/domain"
)

// RegisterBuiltins registers the stock dialogue stages. These are
// deterministic heuristics standing in for the model-backed
// implementations, which are owned by the product layer and plug in
// through the same Registry.
func RegisterBuiltins(r *Registry) error {
	builtins := []Stage{
		Func{StageID: "intent", Run: classifyIntent},
		Func{StageID: "stakeholders", Run: discoverStakeholders},
		Func{StageID: "enrichment", Run: enrichContext},
		Func{StageID: "plan", Run: generatePlan},
	}
	for _, s := range builtins {
		if err := r.Register(s); err != nil {
			return err
		}
	}
	return nil
}

func classifyIntent(ctx context.Context, state map[string]any, input domain.PipelineInput, config map[string]any) (*Output, error) {
	msg := strings.ToLower(input.Message)

	intent := "general"
	switch {
	case strings.Contains(msg, "plan") || strings.Contains(msg, "how do i"):
		intent = "planning"
	case strings.Contains(msg, "who") || strings.Contains(msg, "stakeholder"):
		intent = "discovery"
	case strings.Contains(msg, "?"):
		intent = "question"
	}

	return &Output{
		Namespace: "intent",
		Output: map[string]any{
			"intent":  intent,
			"message": input.Message,
		},
	}, nil
}

func discoverStakeholders(ctx context.Context, state map[string]any, input domain.PipelineInput, config map[string]any) (*Output, error) {
	// Capitalized words that are not sentence-initial are treated as
	// stakeholder names. Good enough as a stand-in heuristic.
	seen := map[string]bool{}
	var names []string
	words := strings.Fields(input.Message)
	for i, w := range words {
		w = strings.Trim(w, ".,!?;:")
		if w == "" || i == 0 {
			continue
		}
		if unicode.IsUpper(rune(w[0])) && !seen[w] {
			seen[w] = true
			names = append(names, w)
		}
	}
	sort.Strings(names)

	return &Output{
		Namespace: "stakeholders",
		Output: map[string]any{
			"discovered":   true,
			"stakeholders": names,
		},
	}, nil
}

func enrichContext(ctx context.Context, state map[string]any, input domain.PipelineInput, config map[string]any) (*Output, error) {
	enriched := map[string]any{
		"message_length": len(input.Message),
		"word_count":     len(strings.Fields(input.Message)),
	}
	if intent, ok := state["intent"].(map[string]any); ok {
		enriched["intent"] = intent["intent"]
	}

	return &Output{Namespace: "enrichment", Output: enriched}, nil
}

func generatePlan(ctx context.Context, state map[string]any, input domain.PipelineInput, config map[string]any) (*Output, error) {
	steps := []string{"clarify the issue"}

	if sh, ok := state["stakeholders"].(map[string]any); ok {
		if names := stringList(sh["stakeholders"]); len(names) > 0 {
			steps = append(steps, "involve "+strings.Join(names, ", "))
		}
	}
	if in, ok := state["intent"].(map[string]any); ok {
		if in["intent"] == "planning" {
			steps = append(steps, "draft an action plan")
		}
	}
	steps = append(steps, "review next turn")

	return &Output{
		Namespace: "plan",
		Output: map[string]any{
			"steps": steps,
		},
	}, nil
}

// stringList normalizes a state value that may arrive as []string (set
// directly) or []any (after the document's JSON round trip).
func stringList(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
