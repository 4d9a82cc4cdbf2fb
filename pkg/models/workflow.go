// Package models defines the domain models for the workflow engine.
package models

// HandOffType controls how a node forwards work to its successors.
type HandOffType string

const (
	HandOffSequential  HandOffType = "sequential"
	HandOffConditional HandOffType = "conditional"
	HandOffParallel    HandOffType = "parallel"
)

// NodeConfig is one unit of agent work inside a workflow graph.
type NodeConfig struct {
	NodeID       string            `json:"node_id"`
	Description  string            `json:"description"`
	SystemPrompt string            `json:"system_prompt"`
	ModelName    string            `json:"model_name"`
	CodeTools    []string          `json:"code_tools,omitempty"`
	MCPTools     []string          `json:"mcp_tools,omitempty"`
	HandOffs     []string          `json:"hand_offs,omitempty"`
	WaitingFor   []string          `json:"waiting_for,omitempty"`
	Memory       map[string]string `json:"memory,omitempty"`
	HandOffType  HandOffType       `json:"hand_off_type"`
}

// Tools returns the node's code and MCP tools as one list.
func (n NodeConfig) Tools() []string {
	tools := make([]string, 0, len(n.CodeTools)+len(n.MCPTools))
	tools = append(tools, n.CodeTools...)
	tools = append(tools, n.MCPTools...)
	return tools
}

// Clone returns a deep copy of the node.
func (n NodeConfig) Clone() NodeConfig {
	out := n
	out.CodeTools = append([]string(nil), n.CodeTools...)
	out.MCPTools = append([]string(nil), n.MCPTools...)
	out.HandOffs = append([]string(nil), n.HandOffs...)
	out.WaitingFor = append([]string(nil), n.WaitingFor...)
	out.Memory = cloneStringMap(n.Memory)
	return out
}

// WorkflowGraph is a directed graph of nodes plus workflow-level memory.
type WorkflowGraph struct {
	EntryNodeID    string                `json:"entry_node_id"`
	Nodes          map[string]NodeConfig `json:"nodes"`
	WorkflowMemory map[string]string     `json:"workflow_memory,omitempty"`
}

// Node returns the node with the given id, if present.
func (g *WorkflowGraph) Node(id string) (NodeConfig, bool) {
	node, ok := g.Nodes[id]
	return node, ok
}

// Clone returns a deep copy of the graph. Evolutionary operators work on
// clones so a parent is never mutated during offspring construction.
func (g *WorkflowGraph) Clone() WorkflowGraph {
	out := WorkflowGraph{
		EntryNodeID:    g.EntryNodeID,
		Nodes:          make(map[string]NodeConfig, len(g.Nodes)),
		WorkflowMemory: cloneStringMap(g.WorkflowMemory),
	}
	for id, node := range g.Nodes {
		out.Nodes[id] = node.Clone()
	}
	return out
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
