package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"evoflow/engine/internal/logging"
	"evoflow/engine/internal/provider"
	"evoflow/engine/internal/telemetry"
	"evoflow/engine/pkg/models"
)

// Budget bounds one node invocation.
type Budget struct {
	MaxRounds   int
	CallTimeout time.Duration
	Guard       *RunGuard
}

// InvocationError is the typed failure of a node invocation. It is a
// result value, never a panic: the loop boundary converts everything
// unexpected into one of these.
type InvocationError struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("node invocation failed at %s: %s", e.Stage, e.Message)
}

// InvocationResult is everything one node invocation produced. StepLog is
// immutable once returned; MemoryDelta is the node's proposed memory
// updates, never applied in place.
type InvocationResult struct {
	FinalOutput string
	Payload     *models.Payload
	StepLog     models.StepLog
	MemoryDelta map[string]string
	USDCost     float64
	NextNodeIDs []string
	// Reason records why the round loop stopped.
	Reason terminationReason
	Err    *InvocationError
}

// terminationReason records why the round loop stopped.
type terminationReason string

const (
	terminatedBySelector terminationReason = "selector"
	terminatedByRounds   terminationReason = "rounds"
	terminatedByBudget   terminationReason = "budget"
	terminatedByCancel   terminationReason = "cancelled"
)

// NodeRunner drives the multi-round tool-selection loop for single nodes.
type NodeRunner struct {
	provider provider.Provider
	selector *Selector
	observer telemetry.Observer
	logger   *logging.Logger
	retry    RetryPolicy
}

// NewNodeRunner creates a NodeRunner.
func NewNodeRunner(p provider.Provider, observer telemetry.Observer, logger *logging.Logger) *NodeRunner {
	if observer == nil {
		observer = telemetry.Noop{}
	}
	return &NodeRunner{
		provider: p,
		selector: NewSelector(p),
		observer: observer,
		logger:   logger,
		retry:    RetryPolicy{Attempts: 2},
	}
}

// Invoke runs the node's instructions against the incoming payload until
// the selector terminates, rounds run out, budget runs out, or the run is
// cancelled. Cost from every provider call, selector and tool and summary
// and learning alike, is attributed to the returned USDCost.
func (r *NodeRunner) Invoke(ctx context.Context, node models.NodeConfig, incoming *models.Payload, budget Budget) (result InvocationResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result.Err = &InvocationError{Stage: "loop", Message: fmt.Sprint(rec)}
		}
	}()

	maxRounds := budget.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 1
	}

	var log models.StepLog
	var totalCost float64
	addCost := func(usd float64) {
		totalCost += usd
		if budget.Guard != nil {
			budget.Guard.AddCost(usd)
		}
	}

	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: node.SystemPrompt},
		{Role: provider.RoleUser, Content: incoming.Text()},
	}

	reason := terminatedByRounds
	var final Decision

	for round := 1; round <= maxRounds; round++ {
		if ctx.Err() != nil {
			reason = terminatedByCancel
			break
		}
		if err := r.reserve(budget.Guard); err != nil {
			reason = terminatedByBudget
			log = append(log, models.StepEntry{Kind: models.StepDebug, Text: err.Error()})
			break
		}

		callCtx, cancel := r.callContext(ctx, budget)
		decision, cost, err := r.selector.SelectNext(callCtx, node, messages, maxRounds-round+1, log)
		cancel()
		addCost(cost)
		r.observer.Emit(telemetry.EventProviderCall, map[string]any{"node": node.NodeID, "stage": "select", "cost_usd": cost})

		if err != nil {
			// Selector failure is recoverable: log it, consume the round.
			log = append(log, models.StepEntry{Kind: models.StepError, Text: "selection failed: " + err.Error()})
			r.observer.Emit(telemetry.EventProviderFailure, map[string]any{"node": node.NodeID, "stage": "select"})
			continue
		}

		if decision.Kind == ActionTerminate {
			reason = terminatedBySelector
			final = decision
			if decision.Reason != "" {
				log = append(log, models.StepEntry{Kind: models.StepReasoning, Text: decision.Reason})
			}
			break
		}

		if decision.Plan != "" {
			log = append(log, models.StepEntry{Kind: models.StepPlan, Text: decision.Plan})
		}

		entry, correction := r.invokeTool(ctx, node, decision, budget, addCost)
		log = append(log, entry)
		if entry.Kind == models.StepTool {
			messages = append(messages, provider.Message{
				Role:    provider.RoleAssistant,
				Content: fmt.Sprintf("tool %s returned: %s", entry.Tool.Name, entry.Tool.Result),
			})
		}
		if correction != "" {
			// Failed self-check: inject a corrective user turn before the
			// next round.
			messages = append(messages, provider.Message{Role: provider.RoleUser, Content: correction})
			log = append(log, models.StepEntry{Kind: models.StepDebug, Text: "self-check failed, corrective turn injected"})
		}
	}

	if ctx.Err() != nil && reason == terminatedByRounds {
		reason = terminatedByCancel
	}

	// Never return an empty record of what happened.
	if !log.HasActionable() {
		log = append(log, models.StepEntry{Kind: models.StepText, Text: "no action taken"})
	}

	summary, err := r.summarize(ctx, node, log, reason, budget, addCost)
	if err != nil {
		log = append(log, models.StepEntry{Kind: models.StepError, Text: "summary failed: " + err.Error()})
		return InvocationResult{
			StepLog: log,
			USDCost: totalCost,
			Reason:  reason,
			Err:     &InvocationError{Stage: "summary", Message: err.Error()},
		}
	}

	delta := r.learn(ctx, node, log, budget, addCost, &log)

	log = append(log, models.StepEntry{
		Kind:  models.StepTerminate,
		Final: &models.TerminateStep{Summary: summary, ReturnValue: summary},
	})

	next := nextNodeIDs(node, final)
	payload := buildPayload(node, next, summary)

	r.observer.Emit(telemetry.EventNodeInvoked, map[string]any{
		"node": node.NodeID, "steps": len(log), "reason": string(reason),
	})

	return InvocationResult{
		FinalOutput: summary,
		Payload:     payload,
		StepLog:     log,
		MemoryDelta: delta,
		USDCost:     totalCost,
		NextNodeIDs: next,
		Reason:      reason,
	}
}

// invokeTool calls the provider constrained to exactly the selected tool.
// A failure produces an error entry; the loop continues either way. The
// second return value is a non-empty corrective prompt when the decision's
// self-check did not hold against the tool output.
func (r *NodeRunner) invokeTool(ctx context.Context, node models.NodeConfig, decision Decision, budget Budget, addCost func(float64)) (models.StepEntry, string) {
	if err := r.reserve(budget.Guard); err != nil {
		return models.StepEntry{Kind: models.StepError, Text: "tool call blocked: " + err.Error()}, ""
	}

	callCtx, cancel := r.callContext(ctx, budget)
	defer cancel()

	resp, err := r.provider.Send(callCtx, provider.Request{
		Mode:  provider.ModeTool,
		Model: node.ModelName,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: node.SystemPrompt},
			{Role: provider.RoleUser, Content: decision.Plan},
		},
		Tool: &provider.ToolDefinition{Name: decision.ToolName, Arguments: decision.Arguments},
	})
	addCost(resp.CostUSD)
	r.observer.Emit(telemetry.EventProviderCall, map[string]any{"node": node.NodeID, "stage": "tool", "tool": decision.ToolName, "cost_usd": resp.CostUSD})

	if err != nil {
		return models.StepEntry{Kind: models.StepError, Text: fmt.Sprintf("tool %s failed: %v", decision.ToolName, err)}, ""
	}
	if !resp.Success {
		return models.StepEntry{Kind: models.StepError, Text: fmt.Sprintf("tool %s failed: %s", decision.ToolName, resp.Error)}, ""
	}

	entry := models.StepEntry{
		Kind: models.StepTool,
		Tool: &models.ToolStep{Name: decision.ToolName, Arguments: decision.Arguments, Result: resp.Text},
	}

	if decision.SelfCheck != "" && !selfCheckHolds(resp.Text, decision.SelfCheck) {
		correction := fmt.Sprintf("The last result did not satisfy the expectation %q. Re-check before proceeding.", decision.SelfCheck)
		return entry, correction
	}
	return entry, ""
}

// summarize produces the bounded natural-language summary of the step log.
// Provider-backed summarization gets one retry; past that the invocation
// fails with a typed error. Budget- or cancel-terminated invocations get a
// local summary so partial results still surface.
func (r *NodeRunner) summarize(ctx context.Context, node models.NodeConfig, log models.StepLog, reason terminationReason, budget Budget, addCost func(float64)) (string, error) {
	if reason == terminatedByBudget || reason == terminatedByCancel {
		return fmt.Sprintf("terminated (%s) after %d steps", reason, len(log)), nil
	}

	return retry(ctx, r.retry, func(ctx context.Context) (string, error) {
		if err := r.reserve(budget.Guard); err != nil {
			return "", err
		}
		callCtx, cancel := r.callContext(ctx, budget)
		defer cancel()

		resp, err := r.provider.Send(callCtx, provider.Request{
			Mode:  provider.ModeText,
			Model: node.ModelName,
			Messages: []provider.Message{
				{Role: provider.RoleSystem, Content: "Summarize the work below in a short paragraph."},
				{Role: provider.RoleUser, Content: renderStepLog(log)},
			},
		})
		addCost(resp.CostUSD)
		if err != nil {
			return "", err
		}
		if !resp.Success {
			return "", fmt.Errorf("summary call failed: %s", resp.Error)
		}
		return resp.Text, nil
	})
}

var learningSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"updates": map[string]any{
			"type":                 "object",
			"additionalProperties": map[string]any{"type": "string"},
		},
	},
	"required": []string{"updates"},
}

// learn runs the dedicated learning step: it reads the full step log and
// the node's current memory and proposes key updates. Failure past the
// retry budget records an error entry but never blocks termination.
func (r *NodeRunner) learn(ctx context.Context, node models.NodeConfig, log models.StepLog, budget Budget, addCost func(float64), out *models.StepLog) map[string]string {
	delta, err := retry(ctx, r.retry, func(ctx context.Context) (map[string]string, error) {
		if err := r.reserve(budget.Guard); err != nil {
			return nil, err
		}
		callCtx, cancel := r.callContext(ctx, budget)
		defer cancel()

		resp, err := r.provider.Send(callCtx, provider.Request{
			Mode:  provider.ModeStructured,
			Model: node.ModelName,
			Messages: []provider.Message{
				{Role: provider.RoleSystem, Content: "Propose durable memory updates learned from this work. Return only keys worth keeping."},
				{Role: provider.RoleUser, Content: renderMemory(node.Memory) + "\n\n" + renderStepLog(log)},
			},
			Schema: learningSchema,
		})
		addCost(resp.CostUSD)
		if err != nil {
			return nil, err
		}
		if !resp.Success {
			return nil, fmt.Errorf("learning call failed: %s", resp.Error)
		}
		return parseUpdates(resp.Structured), nil
	})
	if err != nil {
		*out = append(*out, models.StepEntry{Kind: models.StepError, Text: "learning failed: " + err.Error()})
		return nil
	}
	if len(delta) > 0 {
		*out = append(*out, models.StepEntry{Kind: models.StepLearning, Text: fmt.Sprintf("proposed %d memory updates", len(delta))})
	}
	return delta
}

func (r *NodeRunner) reserve(guard *RunGuard) error {
	if guard == nil {
		return nil
	}
	return guard.Reserve()
}

func (r *NodeRunner) callContext(ctx context.Context, budget Budget) (context.Context, context.CancelFunc) {
	if budget.CallTimeout > 0 {
		return context.WithTimeout(ctx, budget.CallTimeout)
	}
	return context.WithCancel(ctx)
}

// nextNodeIDs resolves handoff targets for the completed invocation.
// Parallel fans out to every target; conditional keeps only the targets
// the selector named, which may be none; sequential keeps the declared
// order.
func nextNodeIDs(node models.NodeConfig, final Decision) []string {
	switch node.HandOffType {
	case models.HandOffConditional:
		var out []string
		for _, id := range final.NextNodes {
			if containsString(node.HandOffs, id) {
				out = append(out, id)
			}
		}
		return out
	case models.HandOffParallel, models.HandOffSequential:
		return append([]string(nil), node.HandOffs...)
	default:
		return append([]string(nil), node.HandOffs...)
	}
}

func buildPayload(node models.NodeConfig, next []string, summary string) *models.Payload {
	if len(next) == 0 {
		return models.NewPayload(models.PayloadResult, summary)
	}
	if node.HandOffType == models.HandOffParallel {
		return models.NewPayload(models.PayloadDelegation, summary)
	}
	return models.NewPayload(models.PayloadSequential, summary)
}

// selfCheckHolds heuristically verifies the output contains the key tokens
// of the expectation string. Short filler words are ignored; at least half
// of the remaining tokens must appear.
func selfCheckHolds(output, check string) bool {
	haystack := strings.ToLower(output)
	var tokens, found int
	for _, token := range strings.Fields(strings.ToLower(check)) {
		token = strings.Trim(token, ".,:;!?\"'")
		if len(token) <= 3 {
			continue
		}
		tokens++
		if strings.Contains(haystack, token) {
			found++
		}
	}
	if tokens == 0 {
		return true
	}
	return found*2 >= tokens
}

func renderStepLog(log models.StepLog) string {
	var b strings.Builder
	for i, entry := range log {
		fmt.Fprintf(&b, "%d. [%s] ", i+1, entry.Kind)
		switch {
		case entry.Tool != nil:
			fmt.Fprintf(&b, "%s -> %s", entry.Tool.Name, entry.Tool.Result)
		case entry.Final != nil:
			b.WriteString(entry.Final.Summary)
		default:
			b.WriteString(entry.Text)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderMemory(memory map[string]string) string {
	if len(memory) == 0 {
		return "Current memory: (empty)"
	}
	var b strings.Builder
	b.WriteString("Current memory:\n")
	for k, v := range memory {
		fmt.Fprintf(&b, "  %s: %s\n", k, v)
	}
	return b.String()
}

func parseUpdates(data map[string]any) map[string]string {
	updates, ok := data["updates"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(updates))
	for k, v := range updates {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
