package evolve

import (
	"time"

	"github.com/google/uuid"

	"evoflow/engine/pkg/models"
)

// Mutate builds a mutation offspring from one parent and a structurally
// edited draft of its graph. Node identity, not content, is the join key:
// any offspring node whose id matches a parent node inherits the parent's
// memory, with keys the draft explicitly set taking their draft values.
// Workflow-level memory is carried over unconditionally.
func Mutate(parent *models.Genome, draft models.WorkflowGraph, policy Policy) *models.Genome {
	graph := draft.Clone()

	for id, node := range graph.Nodes {
		parentNode, inParent := parent.Graph.Nodes[id]
		switch {
		case inParent:
			node.Memory = overlay(parentNode.Memory, node.Memory)
		case policy.InheritNewNodeMemory:
			// A genuinely new node normally starts empty; this policy seeds
			// it with the workflow-level memory snapshot instead.
			node.Memory = overlay(parent.Graph.WorkflowMemory, node.Memory)
		}
		graph.Nodes[id] = node
	}

	graph.WorkflowMemory = overlay(parent.Graph.WorkflowMemory, graph.WorkflowMemory)

	return &models.Genome{
		ID:         uuid.New().String(),
		RunID:      parent.RunID,
		Generation: parent.Generation + 1,
		Graph:      graph,
		ParentIDs:  []string{parent.ID},
		CreatedAt:  time.Now().UTC(),
	}
}

// overlay returns base with wins written on top. Keys from both maps
// survive; on conflict the wins value is kept. A nil result is returned
// only when both inputs are empty.
func overlay(base, wins map[string]string) map[string]string {
	if len(base) == 0 && len(wins) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(wins))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range wins {
		out[k] = v
	}
	return out
}
