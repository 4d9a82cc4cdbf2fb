// Package validate checks workflow graphs for structural correctness
// before they may execute or be admitted into a population.
package validate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"evoflow/engine/pkg/models"
)

// Policy holds the tunable rules of the validator battery.
type Policy struct {
	AllowCycles            bool
	Hierarchical           bool
	MaxDepth               int
	MaxFanOut              int
	UniqueToolsPerWorkflow bool
	UniqueToolsetPerNode   bool
	MaxToolsPerNode        int
	DefaultToolAllowance   int
}

// Result is the outcome of a lenient validation pass.
type Result struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors"`
}

// Validator runs the structural check battery against workflow graphs.
type Validator struct {
	policy        Policy
	knownTools    map[string]bool
	disabledTools map[string]bool
	activeModels  map[string]bool
}

// NewValidator creates a Validator. knownTools is the runtime-known tool
// set; activeModels the currently resolvable model names. Empty sets
// disable the corresponding membership checks.
func NewValidator(policy Policy, knownTools, disabledTools, activeModels []string) *Validator {
	return &Validator{
		policy:        policy,
		knownTools:    toSet(knownTools),
		disabledTools: toSet(disabledTools),
		activeModels:  toSet(activeModels),
	}
}

// Validate runs every check and collects all violations. Checks do not
// short-circuit, so a caller sees every problem at once. The graph
// traversal checks are skipped when node references are dangling, since
// they would only restate the reference errors.
func (v *Validator) Validate(g *models.WorkflowGraph) Result {
	var errs []string

	if len(g.Nodes) == 0 {
		errs = append(errs, "workflow has no nodes")
		return Result{IsValid: false, Errors: errs}
	}

	refErrs := v.checkReferences(g)
	errs = append(errs, refErrs...)
	if len(refErrs) == 0 {
		errs = append(errs, v.checkConnectivity(g)...)
		if !v.policy.AllowCycles {
			errs = append(errs, v.checkAcyclic(g)...)
		}
		if v.policy.Hierarchical {
			errs = append(errs, v.checkHierarchy(g)...)
		}
	}
	errs = append(errs, v.checkTools(g)...)
	errs = append(errs, v.checkHandOffDuplicates(g)...)
	errs = append(errs, v.checkModels(g)...)

	return Result{IsValid: len(errs) == 0, Errors: errs}
}

// MustValidate is the strict entry point: it returns an error carrying
// every violation, or nil for a valid graph.
func (v *Validator) MustValidate(g *models.WorkflowGraph) error {
	result := v.Validate(g)
	if result.IsValid {
		return nil
	}
	return errors.New("invalid workflow: " + strings.Join(result.Errors, "; "))
}

// checkReferences verifies the entry node and every handoff and wait-for
// target name an existing node.
func (v *Validator) checkReferences(g *models.WorkflowGraph) []string {
	var errs []string
	if _, ok := g.Nodes[g.EntryNodeID]; !ok {
		errs = append(errs, fmt.Sprintf("entry node '%s' does not exist", g.EntryNodeID))
	}
	for _, id := range sortedNodeIDs(g) {
		node := g.Nodes[id]
		for _, target := range node.HandOffs {
			if _, ok := g.Nodes[target]; !ok {
				errs = append(errs, fmt.Sprintf("node '%s' hands off to unknown node '%s'", id, target))
			}
		}
		for _, source := range node.WaitingFor {
			if _, ok := g.Nodes[source]; !ok {
				errs = append(errs, fmt.Sprintf("node '%s' waits for unknown node '%s'", id, source))
			}
		}
	}
	return errs
}

// checkConnectivity verifies every node is reachable from the entry node
// and that every node can reach a terminal node.
func (v *Validator) checkConnectivity(g *models.WorkflowGraph) []string {
	var errs []string

	reachable := map[string]bool{}
	var walk func(id string)
	walk = func(id string) {
		if reachable[id] {
			return
		}
		reachable[id] = true
		for _, next := range g.Nodes[id].HandOffs {
			walk(next)
		}
	}
	if _, ok := g.Nodes[g.EntryNodeID]; ok {
		walk(g.EntryNodeID)
	}
	for _, id := range sortedNodeIDs(g) {
		if !reachable[id] {
			errs = append(errs, fmt.Sprintf("node '%s' is not reachable from entry node '%s'", id, g.EntryNodeID))
		}
	}

	// A terminal node has no handoffs. Every node must be able to reach
	// one, otherwise work can never complete along that path.
	terminating := map[string]bool{}
	var terminates func(id string, visiting map[string]bool) bool
	terminates = func(id string, visiting map[string]bool) bool {
		if terminating[id] {
			return true
		}
		if visiting[id] {
			return false
		}
		visiting[id] = true
		defer delete(visiting, id)
		if len(g.Nodes[id].HandOffs) == 0 {
			terminating[id] = true
			return true
		}
		for _, next := range g.Nodes[id].HandOffs {
			if terminates(next, visiting) {
				terminating[id] = true
				return true
			}
		}
		return false
	}
	for _, id := range sortedNodeIDs(g) {
		if !terminates(id, map[string]bool{}) {
			errs = append(errs, fmt.Sprintf("node '%s' cannot reach a terminal node", id))
		}
	}
	return errs
}

// checkAcyclic detects directed cycles with DFS color marking.
func (v *Validator) checkAcyclic(g *models.WorkflowGraph) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	colors := map[string]int{}
	var cycleAt string

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = gray
		for _, next := range g.Nodes[id].HandOffs {
			switch colors[next] {
			case gray:
				cycleAt = next
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		colors[id] = black
		return false
	}

	for _, id := range sortedNodeIDs(g) {
		if colors[id] == white && visit(id) {
			return []string{fmt.Sprintf("workflow contains a cycle through node '%s'", cycleAt)}
		}
	}
	return nil
}

// checkHierarchy enforces the hierarchical-structure rule: bounded handoff
// depth from the entry node and bounded fan-out per node.
func (v *Validator) checkHierarchy(g *models.WorkflowGraph) []string {
	var errs []string
	for _, id := range sortedNodeIDs(g) {
		if v.policy.MaxFanOut > 0 && len(g.Nodes[id].HandOffs) > v.policy.MaxFanOut {
			errs = append(errs, fmt.Sprintf("node '%s' fans out to %d nodes, limit is %d",
				id, len(g.Nodes[id].HandOffs), v.policy.MaxFanOut))
		}
	}
	if v.policy.MaxDepth > 0 {
		depth := map[string]int{}
		var walk func(id string, d int)
		walk = func(id string, d int) {
			if prev, ok := depth[id]; ok && prev <= d {
				return
			}
			depth[id] = d
			for _, next := range g.Nodes[id].HandOffs {
				walk(next, d+1)
			}
		}
		walk(g.EntryNodeID, 0)
		for _, id := range sortedNodeIDs(g) {
			if depth[id] > v.policy.MaxDepth {
				errs = append(errs, fmt.Sprintf("node '%s' sits at depth %d, limit is %d",
					id, depth[id], v.policy.MaxDepth))
			}
		}
	}
	return errs
}

// checkTools validates tool membership, the disabled list, internal
// duplicates, the per-node count ceiling, and the uniqueness policies.
func (v *Validator) checkTools(g *models.WorkflowGraph) []string {
	var errs []string
	toolOwner := map[string]string{}
	toolsetOwner := map[string]string{}

	for _, id := range sortedNodeIDs(g) {
		node := g.Nodes[id]
		tools := node.Tools()

		seen := map[string]bool{}
		for _, tool := range tools {
			if seen[tool] {
				errs = append(errs, fmt.Sprintf("node '%s' lists tool '%s' more than once", id, tool))
				continue
			}
			seen[tool] = true

			if len(v.knownTools) > 0 && !v.knownTools[tool] {
				errs = append(errs, fmt.Sprintf("node '%s' references unknown tool '%s'", id, tool))
			}
			if v.disabledTools[tool] {
				errs = append(errs, fmt.Sprintf("node '%s' references disabled tool '%s'", id, tool))
			}
			if v.policy.UniqueToolsPerWorkflow {
				if owner, taken := toolOwner[tool]; taken {
					errs = append(errs, fmt.Sprintf("tool '%s' is assigned to both node '%s' and node '%s'", tool, owner, id))
				} else {
					toolOwner[tool] = id
				}
			}
		}

		limit := v.policy.MaxToolsPerNode + v.policy.DefaultToolAllowance
		if v.policy.MaxToolsPerNode > 0 && len(tools) > limit {
			errs = append(errs, fmt.Sprintf("node '%s' has %d tools, limit is %d", id, len(tools), limit))
		}

		if v.policy.UniqueToolsetPerNode && len(tools) > 0 {
			key := toolsetKey(tools)
			if owner, taken := toolsetOwner[key]; taken {
				errs = append(errs, fmt.Sprintf("node '%s' shares an identical tool set with node '%s'", id, owner))
			} else {
				toolsetOwner[key] = id
			}
		}
	}
	return errs
}

func (v *Validator) checkHandOffDuplicates(g *models.WorkflowGraph) []string {
	var errs []string
	for _, id := range sortedNodeIDs(g) {
		seen := map[string]bool{}
		for _, target := range g.Nodes[id].HandOffs {
			if seen[target] {
				errs = append(errs, fmt.Sprintf("node '%s' lists handoff target '%s' twice", id, target))
			}
			seen[target] = true
		}
	}
	return errs
}

func (v *Validator) checkModels(g *models.WorkflowGraph) []string {
	if len(v.activeModels) == 0 {
		return nil
	}
	var errs []string
	for _, id := range sortedNodeIDs(g) {
		model := g.Nodes[id].ModelName
		if !v.activeModels[model] {
			errs = append(errs, fmt.Sprintf("node '%s' uses unknown or inactive model '%s'", id, model))
		}
	}
	return errs
}

func sortedNodeIDs(g *models.WorkflowGraph) []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func toolsetKey(tools []string) string {
	sorted := append([]string(nil), tools...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

func toSet(in []string) map[string]bool {
	out := make(map[string]bool, len(in))
	for _, v := range in {
		out[v] = true
	}
	return out
}
