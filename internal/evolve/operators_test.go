package evolve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evoflow/engine/pkg/models"
)

func genomeWith(id string, nodes map[string]models.NodeConfig, workflowMemory map[string]string) *models.Genome {
	return &models.Genome{
		ID:         id,
		RunID:      "run-1",
		Generation: 3,
		Graph: models.WorkflowGraph{
			EntryNodeID:    "node1",
			Nodes:          nodes,
			WorkflowMemory: workflowMemory,
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestMutate(t *testing.T) {
	parent := genomeWith("p1", map[string]models.NodeConfig{
		"node1": {NodeID: "node1", Memory: map[string]string{"lesson": "check twice"}},
		"node2": {NodeID: "node2", Memory: map[string]string{"seen": "yes"}},
	}, map[string]string{"shared": "state"})

	t.Run("matching nodes inherit memory", func(t *testing.T) {
		draft := parent.Graph.Clone()
		node := draft.Nodes["node1"]
		node.SystemPrompt = "changed"
		node.Memory = nil
		draft.Nodes["node1"] = node

		offspring := Mutate(parent, draft, DefaultPolicy())

		assert.Equal(t, "check twice", offspring.Graph.Nodes["node1"].Memory["lesson"])
		assert.Equal(t, "yes", offspring.Graph.Nodes["node2"].Memory["seen"])
		assert.Equal(t, "state", offspring.Graph.WorkflowMemory["shared"])
	})

	t.Run("new nodes start with empty memory by default", func(t *testing.T) {
		draft := parent.Graph.Clone()
		draft.Nodes["node3"] = models.NodeConfig{NodeID: "node3"}

		offspring := Mutate(parent, draft, DefaultPolicy())
		assert.Empty(t, offspring.Graph.Nodes["node3"].Memory)
	})

	t.Run("explicit draft updates win over inherited values", func(t *testing.T) {
		draft := parent.Graph.Clone()
		node := draft.Nodes["node1"]
		node.Memory = map[string]string{"lesson": "updated by operator"}
		draft.Nodes["node1"] = node

		offspring := Mutate(parent, draft, DefaultPolicy())
		assert.Equal(t, "updated by operator", offspring.Graph.Nodes["node1"].Memory["lesson"])
	})

	t.Run("lineage is recorded", func(t *testing.T) {
		offspring := Mutate(parent, parent.Graph.Clone(), DefaultPolicy())
		assert.Equal(t, []string{"p1"}, offspring.ParentIDs)
		assert.Equal(t, parent.Generation+1, offspring.Generation)
		assert.Equal(t, parent.RunID, offspring.RunID)
		assert.NotEqual(t, parent.ID, offspring.ID)
	})

	t.Run("parent is never mutated", func(t *testing.T) {
		draft := parent.Graph.Clone()
		offspring := Mutate(parent, draft, DefaultPolicy())

		memory := offspring.Graph.Nodes["node1"].Memory
		memory["lesson"] = "scribbled"
		offspring.Graph.WorkflowMemory["shared"] = "scribbled"

		assert.Equal(t, "check twice", parent.Graph.Nodes["node1"].Memory["lesson"])
		assert.Equal(t, "state", parent.Graph.WorkflowMemory["shared"])
	})
}

func TestCrossover(t *testing.T) {
	parent1 := genomeWith("p1", map[string]models.NodeConfig{
		"node1": {NodeID: "node1", Memory: map[string]string{"x": "1"}},
	}, nil)
	parent2 := genomeWith("p2", map[string]models.NodeConfig{
		"node1": {NodeID: "node1", Memory: map[string]string{"x": "2", "y": "3"}},
		"node2": {NodeID: "node2", Memory: map[string]string{"only2": "here"}},
	}, map[string]string{"from2": "value"})

	t.Run("parent1 wins conflicts, union otherwise", func(t *testing.T) {
		draft := parent2.Graph.Clone()
		offspring := Crossover(parent1, parent2, draft, DefaultPolicy())

		memory := offspring.Graph.Nodes["node1"].Memory
		assert.Equal(t, map[string]string{"x": "1", "y": "3"}, memory)
	})

	t.Run("single-parent nodes copy verbatim", func(t *testing.T) {
		draft := parent2.Graph.Clone()
		offspring := Crossover(parent1, parent2, draft, DefaultPolicy())
		assert.Equal(t, map[string]string{"only2": "here"}, offspring.Graph.Nodes["node2"].Memory)
	})

	t.Run("workflow memory falls back to parent2", func(t *testing.T) {
		draft := parent1.Graph.Clone()
		offspring := Crossover(parent1, parent2, draft, DefaultPolicy())
		assert.Equal(t, "value", offspring.Graph.WorkflowMemory["from2"])
	})

	t.Run("workflow memory prefers parent1 when both define it", func(t *testing.T) {
		p1 := parent1.Clone()
		p1.Graph.WorkflowMemory = map[string]string{"from2": "overridden"}
		draft := p1.Graph.Clone()
		offspring := Crossover(p1, parent2, draft, DefaultPolicy())
		assert.Equal(t, "overridden", offspring.Graph.WorkflowMemory["from2"])
	})

	t.Run("precedence is a policy choice", func(t *testing.T) {
		policy := DefaultPolicy()
		policy.CrossoverPrecedence = PrecedenceParent2
		draft := parent2.Graph.Clone()
		offspring := Crossover(parent1, parent2, draft, policy)
		assert.Equal(t, "2", offspring.Graph.Nodes["node1"].Memory["x"])
	})

	t.Run("both lineages recorded", func(t *testing.T) {
		offspring := Crossover(parent1, parent2, parent2.Graph.Clone(), DefaultPolicy())
		require.Equal(t, []string{"p1", "p2"}, offspring.ParentIDs)
		assert.Equal(t, 4, offspring.Generation)
	})
}
