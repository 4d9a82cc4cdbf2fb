package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evoflow/engine/pkg/models"
)

func fanInGraph() models.WorkflowGraph {
	return models.WorkflowGraph{
		EntryNodeID: "dispatch",
		Nodes: map[string]models.NodeConfig{
			"dispatch": {NodeID: "dispatch", HandOffs: []string{"left", "right"}, HandOffType: models.HandOffParallel},
			"left":     {NodeID: "left", HandOffs: []string{"join"}},
			"right":    {NodeID: "right", HandOffs: []string{"join"}},
			"join":     {NodeID: "join", WaitingFor: []string{"left", "right"}},
		},
	}
}

func TestRouterDeliver(t *testing.T) {
	t.Run("node without waitingFor runs immediately", func(t *testing.T) {
		graph := fanInGraph()
		router := NewRouter(&graph)

		payload := models.NewPayload(models.PayloadSequential, "go")
		got, ready, err := router.Deliver("dispatch", "left", payload)
		require.NoError(t, err)
		assert.True(t, ready)
		assert.Same(t, payload, got)
	})

	t.Run("waitingFor node is held until every upstream delivers", func(t *testing.T) {
		graph := fanInGraph()
		router := NewRouter(&graph)

		_, ready, err := router.Deliver("left", "join", models.NewPayload(models.PayloadSequential, "left says"))
		require.NoError(t, err)
		assert.False(t, ready)
		assert.Equal(t, 1, router.PendingCount("join"))

		aggregated, ready, err := router.Deliver("right", "join", models.NewPayload(models.PayloadSequential, "right says"))
		require.NoError(t, err)
		require.True(t, ready)
		assert.Equal(t, 0, router.PendingCount("join"))

		require.Equal(t, models.PayloadAggregated, aggregated.Kind)
		require.Len(t, aggregated.Parts, 2)
		assert.Equal(t, "left", aggregated.Parts[0].FromNodeID)
		assert.Equal(t, "right", aggregated.Parts[1].FromNodeID)
		assert.Contains(t, aggregated.Text(), "[from left]\nleft says")
		assert.Contains(t, aggregated.Text(), "[from right]\nright says")
	})

	t.Run("arrival order is preserved", func(t *testing.T) {
		graph := fanInGraph()
		router := NewRouter(&graph)

		_, _, err := router.Deliver("right", "join", models.NewPayload(models.PayloadSequential, "first"))
		require.NoError(t, err)
		aggregated, ready, err := router.Deliver("left", "join", models.NewPayload(models.PayloadSequential, "second"))
		require.NoError(t, err)
		require.True(t, ready)
		assert.Equal(t, "right", aggregated.Parts[0].FromNodeID)
		assert.Equal(t, "left", aggregated.Parts[1].FromNodeID)
	})

	t.Run("unknown destination is an error", func(t *testing.T) {
		graph := fanInGraph()
		router := NewRouter(&graph)
		_, _, err := router.Deliver("left", "ghost", models.NewPayload(models.PayloadSequential, "x"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown node 'ghost'")
	})

	t.Run("result payloads are terminal and cannot be forwarded", func(t *testing.T) {
		graph := fanInGraph()
		router := NewRouter(&graph)
		_, _, err := router.Deliver("left", "join", models.NewPayload(models.PayloadResult, "done"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "result payload")
	})
}
