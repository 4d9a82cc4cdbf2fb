package models

import "time"

// Fitness records how a genome scored when its workflow was executed.
type Fitness struct {
	Score       float64 `json:"score"`
	CostUSD     float64 `json:"cost_usd"`
	TimeSeconds float64 `json:"time_seconds"`
	Valid       bool    `json:"valid"`
}

// Genome wraps a workflow graph with its evolutionary lineage and fitness.
// Genomes are created by seeding or by an evolutionary operator, mutated
// only by operators, and archived once their generation completes.
type Genome struct {
	ID         string        `json:"id"`
	RunID      string        `json:"run_id"`
	Generation int           `json:"generation"`
	Graph      WorkflowGraph `json:"graph"`
	Fitness    Fitness       `json:"fitness"`
	ParentIDs  []string      `json:"parent_ids,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Clone returns a deep copy of the genome.
func (g *Genome) Clone() *Genome {
	out := *g
	out.Graph = g.Graph.Clone()
	out.ParentIDs = append([]string(nil), g.ParentIDs...)
	return &out
}
