package graphhash

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"evoflow/engine/pkg/models"
)

func sampleGraph() models.WorkflowGraph {
	return models.WorkflowGraph{
		EntryNodeID: "a",
		Nodes: map[string]models.NodeConfig{
			"a": {
				NodeID:       "a",
				SystemPrompt: "do the work",
				ModelName:    "default",
				CodeTools:    []string{"search", "calc"},
				HandOffs:     []string{"b"},
				Memory:       map[string]string{"seen": "yes"},
				HandOffType:  models.HandOffSequential,
			},
			"b": {
				NodeID:      "b",
				ModelName:   "default",
				HandOffType: models.HandOffSequential,
			},
		},
		WorkflowMemory: map[string]string{"topic": "cats"},
	}
}

func TestHashStability(t *testing.T) {
	base := sampleGraph()
	baseHash := Hash(&base)

	t.Run("array order does not matter", func(t *testing.T) {
		shuffled := sampleGraph()
		node := shuffled.Nodes["a"]
		node.CodeTools = []string{"calc", "search"}
		shuffled.Nodes["a"] = node
		assert.Equal(t, baseHash, Hash(&shuffled))
	})

	t.Run("duplicate set entries do not matter", func(t *testing.T) {
		duplicated := sampleGraph()
		node := duplicated.Nodes["a"]
		node.CodeTools = []string{"search", "calc", "search"}
		duplicated.Nodes["a"] = node
		assert.Equal(t, baseHash, Hash(&duplicated))
	})

	t.Run("prompt change changes the hash", func(t *testing.T) {
		changed := sampleGraph()
		node := changed.Nodes["a"]
		node.SystemPrompt = "do different work"
		changed.Nodes["a"] = node
		assert.NotEqual(t, baseHash, Hash(&changed))
	})

	t.Run("model change changes the hash", func(t *testing.T) {
		changed := sampleGraph()
		node := changed.Nodes["b"]
		node.ModelName = "other"
		changed.Nodes["b"] = node
		assert.NotEqual(t, baseHash, Hash(&changed))
	})

	t.Run("handoff change changes the hash", func(t *testing.T) {
		changed := sampleGraph()
		node := changed.Nodes["b"]
		node.HandOffs = []string{"a"}
		changed.Nodes["b"] = node
		assert.NotEqual(t, baseHash, Hash(&changed))
	})

	t.Run("node-set membership changes the hash", func(t *testing.T) {
		changed := sampleGraph()
		changed.Nodes["c"] = models.NodeConfig{NodeID: "c"}
		assert.NotEqual(t, baseHash, Hash(&changed))
	})
}

func TestHashMemoryBlindness(t *testing.T) {
	base := sampleGraph()
	baseHash := Hash(&base)

	t.Run("node memory is excluded", func(t *testing.T) {
		changed := sampleGraph()
		node := changed.Nodes["a"]
		node.Memory = map[string]string{"seen": "no", "extra": "key"}
		changed.Nodes["a"] = node
		assert.Equal(t, baseHash, Hash(&changed))
	})

	t.Run("nil node memory is the same as any other", func(t *testing.T) {
		changed := sampleGraph()
		node := changed.Nodes["a"]
		node.Memory = nil
		changed.Nodes["a"] = node
		assert.Equal(t, baseHash, Hash(&changed))
	})

	t.Run("workflow memory is included", func(t *testing.T) {
		changed := sampleGraph()
		changed.WorkflowMemory["topic"] = "dogs"
		assert.NotEqual(t, baseHash, Hash(&changed))
	})

	t.Run("empty and nil workflow memory hash identically", func(t *testing.T) {
		empty := sampleGraph()
		empty.WorkflowMemory = map[string]string{}
		absent := sampleGraph()
		absent.WorkflowMemory = nil
		assert.Equal(t, Hash(&empty), Hash(&absent))
	})
}

func TestNodeHash(t *testing.T) {
	a := models.NodeConfig{NodeID: "a", CodeTools: []string{"x", "y"}}
	b := models.NodeConfig{NodeID: "a", CodeTools: []string{"y", "x"}, Memory: map[string]string{"k": "v"}}
	assert.Equal(t, NodeHash(a), NodeHash(b))

	c := models.NodeConfig{NodeID: "a", CodeTools: []string{"x"}}
	assert.NotEqual(t, NodeHash(a), NodeHash(c))
}
