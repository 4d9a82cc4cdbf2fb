package engine

import (
	"context"
	"fmt"
	"strings"

	"evoflow/engine/internal/provider"
	"evoflow/engine/pkg/models"
)

// ActionKind is the selector's verdict for the next round.
type ActionKind string

const (
	ActionTool      ActionKind = "tool"
	ActionTerminate ActionKind = "terminate"
	ActionError     ActionKind = "error"
)

// Decision is the tool strategy selector's choice for one round: invoke
// one tool, terminate, or report a selection error.
type Decision struct {
	Kind      ActionKind
	ToolName  string
	Arguments map[string]any
	Plan      string
	SelfCheck string
	Reason    string
	// NextNodes carries the selector's chosen handoff targets when the
	// node's handoff type is conditional.
	NextNodes []string
}

// Selector picks the next action for a node's invocation loop by asking
// the capability provider for a structured decision.
type Selector struct {
	provider provider.Provider
}

// NewSelector creates a Selector.
func NewSelector(p provider.Provider) *Selector {
	return &Selector{provider: p}
}

var decisionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"action":     map[string]any{"type": "string", "enum": []string{"tool", "terminate"}},
		"tool":       map[string]any{"type": "string"},
		"arguments":  map[string]any{"type": "object"},
		"plan":       map[string]any{"type": "string"},
		"self_check": map[string]any{"type": "string"},
		"reason":     map[string]any{"type": "string"},
		"next_nodes": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required": []string{"action"},
}

// SelectNext asks for the next action given the conversation so far and
// the rounds remaining. The returned cost must be attributed to the
// invocation even when the decision is unusable.
func (s *Selector) SelectNext(ctx context.Context, node models.NodeConfig, history []provider.Message, remaining int, log models.StepLog) (Decision, float64, error) {
	messages := append([]provider.Message(nil), history...)
	messages = append(messages, provider.Message{
		Role:    provider.RoleUser,
		Content: selectionPrompt(node, remaining, log),
	})

	resp, err := s.provider.Send(ctx, provider.Request{
		Mode:     provider.ModeStructured,
		Model:    node.ModelName,
		Messages: messages,
		Schema:   decisionSchema,
	})
	if err != nil {
		return Decision{Kind: ActionError, Reason: err.Error()}, resp.CostUSD, err
	}
	if !resp.Success {
		err := fmt.Errorf("selector call failed: %s", resp.Error)
		return Decision{Kind: ActionError, Reason: resp.Error}, resp.CostUSD, err
	}

	decision, err := parseDecision(node, resp.Structured)
	if err != nil {
		return Decision{Kind: ActionError, Reason: err.Error()}, resp.CostUSD, err
	}
	return decision, resp.CostUSD, nil
}

func parseDecision(node models.NodeConfig, data map[string]any) (Decision, error) {
	action, _ := data["action"].(string)
	switch action {
	case "terminate":
		d := Decision{Kind: ActionTerminate}
		d.Reason, _ = data["reason"].(string)
		d.NextNodes = toStringSlice(data["next_nodes"])
		return d, nil
	case "tool":
		name, _ := data["tool"].(string)
		if name == "" {
			return Decision{}, fmt.Errorf("selector chose a tool but named none")
		}
		if !containsString(node.Tools(), name) {
			return Decision{}, fmt.Errorf("selector chose tool '%s' not assigned to node '%s'", name, node.NodeID)
		}
		d := Decision{Kind: ActionTool, ToolName: name}
		d.Arguments, _ = data["arguments"].(map[string]any)
		d.Plan, _ = data["plan"].(string)
		d.SelfCheck, _ = data["self_check"].(string)
		return d, nil
	default:
		return Decision{}, fmt.Errorf("selector returned unknown action %q", action)
	}
}

func selectionPrompt(node models.NodeConfig, remaining int, log models.StepLog) string {
	var b strings.Builder
	b.WriteString("Decide the next action for this step.\n")
	fmt.Fprintf(&b, "Rounds remaining: %d\n", remaining)
	if tools := node.Tools(); len(tools) > 0 {
		fmt.Fprintf(&b, "Available tools: %s\n", strings.Join(tools, ", "))
	} else {
		b.WriteString("No tools are available; terminate when done.\n")
	}
	if node.HandOffType == models.HandOffConditional && len(node.HandOffs) > 0 {
		fmt.Fprintf(&b, "On terminate, optionally pick next nodes from: %s\n", strings.Join(node.HandOffs, ", "))
	}
	if len(log) > 0 {
		fmt.Fprintf(&b, "Steps taken so far: %d (last: %s)\n", len(log), log[len(log)-1].Kind)
	}
	return b.String()
}

func toStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
