package evolve

import (
	"math/rand"
	"sort"

	"evoflow/engine/pkg/models"
)

// A Mutator structurally edits a graph clone to produce an offspring
// draft. Mutators never touch memory; memory flows through Mutate and
// Crossover so the preservation gate can reason about it.
type Mutator func(rng *rand.Rand, graph *models.WorkflowGraph)

// SwapModel reassigns a random node to a random active model.
func SwapModel(activeModels []string) Mutator {
	return func(rng *rand.Rand, graph *models.WorkflowGraph) {
		if len(activeModels) == 0 {
			return
		}
		id := randomNodeID(rng, graph)
		node := graph.Nodes[id]
		node.ModelName = activeModels[rng.Intn(len(activeModels))]
		graph.Nodes[id] = node
	}
}

// RewireHandOff redirects one handoff edge of a random node to another
// existing node, avoiding self-loops and duplicate targets.
func RewireHandOff() Mutator {
	return func(rng *rand.Rand, graph *models.WorkflowGraph) {
		id := randomNodeID(rng, graph)
		node := graph.Nodes[id]
		if len(node.HandOffs) == 0 || len(graph.Nodes) < 2 {
			return
		}
		candidates := make([]string, 0, len(graph.Nodes))
		for other := range graph.Nodes {
			if other != id && !containsTarget(node.HandOffs, other) {
				candidates = append(candidates, other)
			}
		}
		if len(candidates) == 0 {
			return
		}
		sort.Strings(candidates)
		node.HandOffs[rng.Intn(len(node.HandOffs))] = candidates[rng.Intn(len(candidates))]
		graph.Nodes[id] = node
	}
}

// MoveTool moves one code tool from a random node to another, keeping the
// unique-tools-per-workflow policy intact.
func MoveTool() Mutator {
	return func(rng *rand.Rand, graph *models.WorkflowGraph) {
		if len(graph.Nodes) < 2 {
			return
		}
		from := randomNodeID(rng, graph)
		fromNode := graph.Nodes[from]
		if len(fromNode.CodeTools) == 0 {
			return
		}
		to := randomNodeID(rng, graph)
		if to == from {
			return
		}
		i := rng.Intn(len(fromNode.CodeTools))
		tool := fromNode.CodeTools[i]
		fromNode.CodeTools = append(fromNode.CodeTools[:i], fromNode.CodeTools[i+1:]...)
		toNode := graph.Nodes[to]
		toNode.CodeTools = append(toNode.CodeTools, tool)
		graph.Nodes[from] = fromNode
		graph.Nodes[to] = toNode
	}
}

var promptVariants = []string{
	"Be concise and verify intermediate results before handing off.",
	"Prefer the smallest number of tool calls that completes the task.",
	"State assumptions explicitly in the final summary.",
	"Double-check numerical results before reporting them.",
}

// TweakPrompt appends one instruction variant to a random node's system
// prompt.
func TweakPrompt() Mutator {
	return func(rng *rand.Rand, graph *models.WorkflowGraph) {
		id := randomNodeID(rng, graph)
		node := graph.Nodes[id]
		node.SystemPrompt += "\n" + promptVariants[rng.Intn(len(promptVariants))]
		graph.Nodes[id] = node
	}
}

// RandomDraft clones the graph and applies one randomly chosen mutator.
func RandomDraft(rng *rand.Rand, graph models.WorkflowGraph, activeModels []string) models.WorkflowGraph {
	mutators := []Mutator{
		SwapModel(activeModels),
		RewireHandOff(),
		MoveTool(),
		TweakPrompt(),
	}
	draft := graph.Clone()
	mutators[rng.Intn(len(mutators))](rng, &draft)
	return draft
}

// CombineDraft clones parent1's graph and grafts in parent2's version of
// roughly half the shared nodes, producing a crossover draft.
func CombineDraft(rng *rand.Rand, parent1, parent2 models.WorkflowGraph) models.WorkflowGraph {
	draft := parent1.Clone()
	shared := make([]string, 0, len(draft.Nodes))
	for id := range draft.Nodes {
		if _, ok := parent2.Nodes[id]; ok {
			shared = append(shared, id)
		}
	}
	sort.Strings(shared)
	for _, id := range shared {
		if rng.Intn(2) == 0 {
			continue
		}
		grafted := parent2.Nodes[id].Clone()
		// Keep only edges that resolve inside the draft.
		kept := grafted.HandOffs[:0]
		for _, target := range grafted.HandOffs {
			if _, ok := draft.Nodes[target]; ok {
				kept = append(kept, target)
			}
		}
		grafted.HandOffs = kept
		draft.Nodes[id] = grafted
	}
	return draft
}

func randomNodeID(rng *rand.Rand, graph *models.WorkflowGraph) string {
	ids := make([]string, 0, len(graph.Nodes))
	for id := range graph.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids[rng.Intn(len(ids))]
}

func containsTarget(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
