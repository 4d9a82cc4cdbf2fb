// Package evolve produces new workflow generations through mutation and
// crossover, with a hard guarantee that no learned memory is silently
// dropped along the way.
package evolve

import (
	"fmt"
	"strings"

	"evoflow/engine/pkg/models"
)

// PreservationResult reports whether an offspring kept every memory key
// its parents held.
type PreservationResult struct {
	IsValid         bool     `json:"is_valid"`
	MissingMemories []string `json:"missing_memories,omitempty"`
}

// ValidateMemoryPreservation walks every parent and confirms that, for
// every (node, key) pair a parent held, the offspring node still holds
// that key. Nodes absent from the offspring are not reported: removing a
// node is an explicit structural edit, not silent loss.
func ValidateMemoryPreservation(offspring *models.WorkflowGraph, parents ...*models.WorkflowGraph) PreservationResult {
	var missing []string
	for _, parent := range parents {
		for nodeID, parentNode := range parent.Nodes {
			if len(parentNode.Memory) == 0 {
				continue
			}
			childNode, ok := offspring.Nodes[nodeID]
			if !ok {
				continue
			}
			if len(childNode.Memory) == 0 {
				missing = append(missing, fmt.Sprintf("node '%s' memory completely lost", nodeID))
				continue
			}
			for key := range parentNode.Memory {
				if _, ok := childNode.Memory[key]; !ok {
					missing = append(missing, fmt.Sprintf("node '%s' memory key '%s' lost", nodeID, key))
				}
			}
		}
	}
	return PreservationResult{IsValid: len(missing) == 0, MissingMemories: missing}
}

// EnforceMemoryPreservation is the strict gate run before an offspring is
// admitted into the next generation. A violation is a programming
// invariant failure: silently losing learned state corrupts the search
// irrecoverably, so the error names the operator and every violation.
func EnforceMemoryPreservation(operator string, offspring *models.WorkflowGraph, parents ...*models.WorkflowGraph) error {
	result := ValidateMemoryPreservation(offspring, parents...)
	if result.IsValid {
		return nil
	}
	return fmt.Errorf("%s operator violated memory preservation: %s",
		operator, strings.Join(result.MissingMemories, "; "))
}
