package main

import "evoflow/engine/pkg/models"

// seedGraphs returns the starter workflows for a fresh evolutionary run:
// a single-node answerer, a two-stage research pipeline, and a fan-out
// review workflow with an aggregating judge.
func seedGraphs() []models.WorkflowGraph {
	return []models.WorkflowGraph{
		{
			EntryNodeID: "answer",
			Nodes: map[string]models.NodeConfig{
				"answer": {
					NodeID:       "answer",
					Description:  "Answers the task directly.",
					SystemPrompt: "You answer the given task as accurately as possible.",
					ModelName:    "default",
					HandOffType:  models.HandOffSequential,
				},
			},
		},
		{
			EntryNodeID: "research",
			Nodes: map[string]models.NodeConfig{
				"research": {
					NodeID:       "research",
					Description:  "Gathers the facts the task needs.",
					SystemPrompt: "Collect the facts needed to solve the task. Hand your findings off.",
					ModelName:    "default",
					CodeTools:    []string{"web_search"},
					HandOffs:     []string{"compose"},
					HandOffType:  models.HandOffSequential,
				},
				"compose": {
					NodeID:       "compose",
					Description:  "Writes the final answer from the research notes.",
					SystemPrompt: "Write the final answer using only the notes you received.",
					ModelName:    "default",
					HandOffType:  models.HandOffSequential,
				},
			},
		},
		{
			EntryNodeID: "dispatch",
			Nodes: map[string]models.NodeConfig{
				"dispatch": {
					NodeID:       "dispatch",
					Description:  "Splits the task for independent review.",
					SystemPrompt: "Restate the task for two independent reviewers.",
					ModelName:    "default",
					HandOffs:     []string{"review_a", "review_b"},
					HandOffType:  models.HandOffParallel,
				},
				"review_a": {
					NodeID:       "review_a",
					Description:  "First independent review.",
					SystemPrompt: "Review the task and report issues you find.",
					ModelName:    "default",
					HandOffs:     []string{"judge"},
					HandOffType:  models.HandOffSequential,
				},
				"review_b": {
					NodeID:       "review_b",
					Description:  "Second independent review.",
					SystemPrompt: "Review the task and report issues you find.",
					ModelName:    "default",
					HandOffs:     []string{"judge"},
					HandOffType:  models.HandOffSequential,
				},
				"judge": {
					NodeID:       "judge",
					Description:  "Merges both reviews into a verdict.",
					SystemPrompt: "Weigh both reviews and deliver a final verdict.",
					ModelName:    "default",
					WaitingFor:   []string{"review_a", "review_b"},
					HandOffType:  models.HandOffSequential,
				},
			},
		},
	}
}
