package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evoflow/engine/internal/logging"
	"evoflow/engine/internal/provider"
	"evoflow/engine/internal/validate"
	"evoflow/engine/pkg/models"
)

func pipelineGraph() models.WorkflowGraph {
	return models.WorkflowGraph{
		EntryNodeID: "research",
		Nodes: map[string]models.NodeConfig{
			"research": {
				NodeID:       "research",
				SystemPrompt: "gather facts",
				ModelName:    "default",
				HandOffs:     []string{"compose"},
				HandOffType:  models.HandOffSequential,
			},
			"compose": {
				NodeID:       "compose",
				SystemPrompt: "write the answer",
				ModelName:    "default",
				HandOffType:  models.HandOffSequential,
			},
		},
	}
}

func TestExecutorRun(t *testing.T) {
	logger := logging.NewLogger()
	validator := validate.NewValidator(validate.Policy{}, nil, nil, nil)

	t.Run("sequential pipeline produces the terminal output", func(t *testing.T) {
		scripted := provider.NewScripted(
			// research: terminate, summarize, learn
			structuredTurn(0.01, map[string]any{"action": "terminate", "reason": "facts gathered"}),
			textTurn(0.02, "notes from research"),
			learningTurn(0.01, map[string]any{"source": "checked"}),
			// compose: terminate, summarize, learn
			structuredTurn(0.01, map[string]any{"action": "terminate", "reason": "written"}),
			textTurn(0.02, "final answer"),
			learningTurn(0, map[string]any{}),
		)
		executor := NewExecutor(NewNodeRunner(scripted, nil, logger), validator, nil, logger)

		result := executor.Run(context.Background(), RunRequest{
			Graph:     pipelineGraph(),
			Input:     "what is the answer",
			BudgetUSD: 1.0,
			MaxRounds: 3,
		})

		assert.Equal(t, RunStatusOK, result.Status)
		assert.Equal(t, "final answer", result.Output)
		assert.InDelta(t, 0.07, result.CostUSD, 1e-9)
		require.Len(t, result.NodeOutcomes, 2)
		assert.Equal(t, map[string]string{"source": "checked"}, result.NodeOutcomes["research"].MemoryDelta)
		assert.NotEmpty(t, result.NodeOutcomes["compose"].StepLog)
	})

	t.Run("invalid graph is never executed", func(t *testing.T) {
		scripted := provider.NewScripted()
		executor := NewExecutor(NewNodeRunner(scripted, nil, logger), validator, nil, logger)

		graph := pipelineGraph()
		node := graph.Nodes["compose"]
		node.HandOffs = []string{"missing"}
		graph.Nodes["compose"] = node

		result := executor.Run(context.Background(), RunRequest{Graph: graph, Input: "x"})
		assert.Equal(t, RunStatusInvalid, result.Status)
		assert.NotEmpty(t, result.Violations)
		assert.Equal(t, 0, scripted.Calls())
	})

	t.Run("budget exhaustion keeps partial results", func(t *testing.T) {
		scripted := provider.NewScripted(
			structuredTurn(0.50, map[string]any{"action": "terminate", "reason": "expensive"}),
		)
		executor := NewExecutor(NewNodeRunner(scripted, nil, logger), validator, nil, logger)

		result := executor.Run(context.Background(), RunRequest{
			Graph:     pipelineGraph(),
			Input:     "x",
			BudgetUSD: 0.10,
			MaxRounds: 3,
		})

		assert.Equal(t, RunStatusBudgetExhausted, result.Status)
		assert.Empty(t, result.Output)
		assert.InDelta(t, 0.50, result.CostUSD, 1e-9)
		require.Contains(t, result.NodeOutcomes, "research")
		assert.NotEmpty(t, result.NodeOutcomes["research"].StepLog)
	})

	t.Run("cancelled run reports cancellation", func(t *testing.T) {
		scripted := provider.NewScripted()
		executor := NewExecutor(NewNodeRunner(scripted, nil, logger), validator, nil, logger)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result := executor.Run(ctx, RunRequest{Graph: pipelineGraph(), Input: "x", MaxRounds: 2})
		assert.Equal(t, RunStatusCancelled, result.Status)
		assert.Empty(t, result.Output)
		assert.Contains(t, result.ErrorDetail, "context canceled")
	})
}

func TestExecutorFanIn(t *testing.T) {
	logger := logging.NewLogger()
	validator := validate.NewValidator(validate.Policy{}, nil, nil, nil)

	graph := models.WorkflowGraph{
		EntryNodeID: "dispatch",
		Nodes: map[string]models.NodeConfig{
			"dispatch": {NodeID: "dispatch", ModelName: "default", HandOffs: []string{"left", "right"}, HandOffType: models.HandOffParallel},
			"left":     {NodeID: "left", ModelName: "default", HandOffs: []string{"join"}, HandOffType: models.HandOffSequential},
			"right":    {NodeID: "right", ModelName: "default", HandOffs: []string{"join"}, HandOffType: models.HandOffSequential},
			"join":     {NodeID: "join", ModelName: "default", WaitingFor: []string{"left", "right"}, HandOffType: models.HandOffSequential},
		},
	}

	// Parallel branches interleave arbitrarily, so every turn must satisfy
	// whichever stage reaches it: it terminates as a selector decision,
	// reads as a summary, and proposes nothing as a learning step.
	universal := provider.ScriptedTurn{Response: provider.Response{
		Success:    true,
		Text:       "step output",
		Structured: map[string]any{"action": "terminate", "reason": "done", "updates": map[string]any{}},
		CostUSD:    0.01,
	}}
	turns := make([]provider.ScriptedTurn, 12)
	for i := range turns {
		turns[i] = universal
	}
	scripted := provider.NewScripted(turns...)
	executor := NewExecutor(NewNodeRunner(scripted, nil, logger), validator, nil, logger)

	result := executor.Run(context.Background(), RunRequest{Graph: graph, Input: "go", BudgetUSD: 1, MaxRounds: 2})

	assert.Equal(t, RunStatusOK, result.Status)
	require.Len(t, result.NodeOutcomes, 4, "join must run exactly once, after both upstreams")
	assert.Equal(t, "step output", result.Output)
}

func TestRunResultFitness(t *testing.T) {
	ok := RunResult{Status: RunStatusOK, CostUSD: 0.2, TimeSeconds: 3.5}
	fitness := ok.Fitness(0.9)
	assert.Equal(t, models.Fitness{Score: 0.9, CostUSD: 0.2, TimeSeconds: 3.5, Valid: true}, fitness)

	failed := RunResult{Status: RunStatusError}
	assert.False(t, failed.Fitness(0).Valid)
}
