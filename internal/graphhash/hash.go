// Package graphhash computes an order- and memory-insensitive fingerprint
// of a workflow graph. The evolution service uses it to detect structural
// duplicates before admitting offspring into a generation.
package graphhash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"evoflow/engine/pkg/models"
)

// canonicalNode is the hashed projection of a node. Per-node memory is
// deliberately absent: two graphs that differ only in node memory must
// hash identically.
type canonicalNode struct {
	NodeID       string             `json:"node_id"`
	Description  string             `json:"description"`
	SystemPrompt string             `json:"system_prompt"`
	ModelName    string             `json:"model_name"`
	CodeTools    []string           `json:"code_tools"`
	MCPTools     []string           `json:"mcp_tools"`
	HandOffs     []string           `json:"hand_offs"`
	WaitingFor   []string           `json:"waiting_for"`
	HandOffType  models.HandOffType `json:"hand_off_type"`
}

type canonicalGraph struct {
	EntryNodeID    string            `json:"entry_node_id"`
	Nodes          []canonicalNode   `json:"nodes"`
	WorkflowMemory map[string]string `json:"workflow_memory"`
}

// Hash returns the hex-encoded sha256 digest of the graph's canonical
// form. Node declaration order, array order within set-like fields, and
// per-node memory never affect the result; workflow-level memory does.
func Hash(g *models.WorkflowGraph) string {
	canonical := canonicalGraph{
		EntryNodeID:    g.EntryNodeID,
		Nodes:          make([]canonicalNode, 0, len(g.Nodes)),
		WorkflowMemory: g.WorkflowMemory,
	}
	if canonical.WorkflowMemory == nil {
		canonical.WorkflowMemory = map[string]string{}
	}
	for _, node := range g.Nodes {
		canonical.Nodes = append(canonical.Nodes, canonicalize(node))
	}
	sort.Slice(canonical.Nodes, func(i, j int) bool {
		return canonical.Nodes[i].NodeID < canonical.Nodes[j].NodeID
	})

	// encoding/json emits map keys sorted, so key order never leaks into
	// the digest. Marshalling a fully typed struct strips unknown fields.
	raw, err := json.Marshal(canonical)
	if err != nil {
		// The canonical form contains only strings and string slices;
		// marshalling it cannot fail.
		panic(err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// NodeHash returns the digest of a single node's canonical form, memory
// excluded.
func NodeHash(node models.NodeConfig) string {
	raw, err := json.Marshal(canonicalize(node))
	if err != nil {
		panic(err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func canonicalize(node models.NodeConfig) canonicalNode {
	return canonicalNode{
		NodeID:       node.NodeID,
		Description:  node.Description,
		SystemPrompt: node.SystemPrompt,
		ModelName:    node.ModelName,
		CodeTools:    normalizeSet(node.CodeTools),
		MCPTools:     normalizeSet(node.MCPTools),
		HandOffs:     normalizeSet(node.HandOffs),
		WaitingFor:   normalizeSet(node.WaitingFor),
		HandOffType:  node.HandOffType,
	}
}

// normalizeSet dedupes and sorts a string list. Handoff, tool and wait-for
// lists are semantically sets, so ordering and duplicates must not change
// the digest.
func normalizeSet(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
