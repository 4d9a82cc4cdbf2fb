package evolve

import (
	"time"

	"github.com/google/uuid"

	"evoflow/engine/pkg/models"
)

// Crossover builds an offspring from two parents and a structurally
// combined draft graph. For a node id present in both parents the
// memories merge key-wise, with the precedence parent winning conflicts
// and keys unique to the other parent preserved. A node matching only one
// parent copies that parent's memory verbatim. Workflow-level memory is
// taken from parent1 unless only parent2 defines it.
func Crossover(parent1, parent2 *models.Genome, draft models.WorkflowGraph, policy Policy) *models.Genome {
	primary, secondary := parent1, parent2
	if policy.CrossoverPrecedence == PrecedenceParent2 {
		primary, secondary = parent2, parent1
	}

	graph := draft.Clone()

	for id, node := range graph.Nodes {
		primaryNode, inPrimary := primary.Graph.Nodes[id]
		secondaryNode, inSecondary := secondary.Graph.Nodes[id]
		switch {
		case inPrimary && inSecondary:
			node.Memory = overlay(overlay(node.Memory, secondaryNode.Memory), primaryNode.Memory)
		case inPrimary:
			node.Memory = overlay(node.Memory, primaryNode.Memory)
		case inSecondary:
			node.Memory = overlay(node.Memory, secondaryNode.Memory)
		case policy.InheritNewNodeMemory:
			node.Memory = overlay(primary.Graph.WorkflowMemory, node.Memory)
		}
		graph.Nodes[id] = node
	}

	switch {
	case len(primary.Graph.WorkflowMemory) > 0:
		graph.WorkflowMemory = overlay(graph.WorkflowMemory, primary.Graph.WorkflowMemory)
	case len(secondary.Graph.WorkflowMemory) > 0:
		graph.WorkflowMemory = overlay(graph.WorkflowMemory, secondary.Graph.WorkflowMemory)
	}

	generation := parent1.Generation
	if parent2.Generation > generation {
		generation = parent2.Generation
	}

	return &models.Genome{
		ID:         uuid.New().String(),
		RunID:      parent1.RunID,
		Generation: generation + 1,
		Graph:      graph,
		ParentIDs:  []string{parent1.ID, parent2.ID},
		CreatedAt:  time.Now().UTC(),
	}
}
