package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evoflow/engine/internal/repository"
	"evoflow/engine/internal/validate"
	"evoflow/engine/pkg/models"
)

func callReq(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.False(t, res.IsError)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func storedGenome(id string) *models.Genome {
	return &models.Genome{
		ID:    id,
		RunID: "run-1",
		Graph: models.WorkflowGraph{
			EntryNodeID: "node1",
			Nodes: map[string]models.NodeConfig{
				"node1": {
					NodeID:    "node1",
					ModelName: "default",
					Memory:    map[string]string{"hint": "check twice"},
				},
			},
			WorkflowMemory: map[string]string{"topic": "cats"},
		},
	}
}

func newMemoryServer(store repository.GenomeStore) *Server {
	validator := validate.NewValidator(validate.Policy{}, ToolNames(), nil, nil)
	return NewServer(nil, validator, nil, store, Defaults{})
}

func TestRecallMemory(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryGenomeStore()
	require.NoError(t, store.Save(ctx, storedGenome("g-1")))
	s := newMemoryServer(store)

	t.Run("whole genome", func(t *testing.T) {
		res, err := s.handleRecallMemory(ctx, callReq(map[string]interface{}{"genome_id": "g-1"}))
		require.NoError(t, err)

		var out struct {
			WorkflowMemory map[string]string            `json:"workflow_memory"`
			NodeMemory     map[string]map[string]string `json:"node_memory"`
		}
		require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
		assert.Equal(t, "cats", out.WorkflowMemory["topic"])
		assert.Equal(t, "check twice", out.NodeMemory["node1"]["hint"])
	})

	t.Run("single node", func(t *testing.T) {
		res, err := s.handleRecallMemory(ctx, callReq(map[string]interface{}{"genome_id": "g-1", "node_id": "node1"}))
		require.NoError(t, err)
		assert.Contains(t, resultText(t, res), "check twice")
	})

	t.Run("unknown node", func(t *testing.T) {
		res, err := s.handleRecallMemory(ctx, callReq(map[string]interface{}{"genome_id": "g-1", "node_id": "ghost"}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})

	t.Run("unknown genome", func(t *testing.T) {
		res, err := s.handleRecallMemory(ctx, callReq(map[string]interface{}{"genome_id": "missing"}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})
}

func TestRememberMemory(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryGenomeStore()
	require.NoError(t, store.Save(ctx, storedGenome("g-2")))
	s := newMemoryServer(store)

	t.Run("workflow-level write", func(t *testing.T) {
		res, err := s.handleRememberMemory(ctx, callReq(map[string]interface{}{
			"genome_id": "g-2", "key": "style", "value": "terse",
		}))
		require.NoError(t, err)
		require.False(t, res.IsError)

		genome, err := store.Get(ctx, "g-2")
		require.NoError(t, err)
		assert.Equal(t, "terse", genome.Graph.WorkflowMemory["style"])
	})

	t.Run("node-level write", func(t *testing.T) {
		res, err := s.handleRememberMemory(ctx, callReq(map[string]interface{}{
			"genome_id": "g-2", "key": "hint", "value": "verify sources", "node_id": "node1",
		}))
		require.NoError(t, err)
		require.False(t, res.IsError)

		genome, err := store.Get(ctx, "g-2")
		require.NoError(t, err)
		assert.Equal(t, "verify sources", genome.Graph.Nodes["node1"].Memory["hint"])
	})

	t.Run("missing key", func(t *testing.T) {
		res, err := s.handleRememberMemory(ctx, callReq(map[string]interface{}{"genome_id": "g-2"}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})
}

func TestToolNamesFeedValidator(t *testing.T) {
	validator := validate.NewValidator(validate.Policy{}, ToolNames(), nil, nil)

	graph := models.WorkflowGraph{
		EntryNodeID: "node1",
		Nodes: map[string]models.NodeConfig{
			"node1": {NodeID: "node1", ModelName: "default", MCPTools: []string{"recall_memory"}},
		},
	}
	assert.True(t, validator.Validate(&graph).IsValid)

	node := graph.Nodes["node1"]
	node.MCPTools = []string{"ghost_tool"}
	graph.Nodes["node1"] = node
	result := validator.Validate(&graph)
	require.False(t, result.IsValid)
	assert.Contains(t, result.Errors[0], "unknown tool 'ghost_tool'")
}
