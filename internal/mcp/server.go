// Package mcp exposes the workflow engine as MCP tools so agent clients
// can run, validate and evolve workflows over the protocol.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"evoflow/engine/internal/engine"
	"evoflow/engine/internal/evolve"
	"evoflow/engine/internal/repository"
	"evoflow/engine/internal/validate"
	"evoflow/engine/pkg/models"
)

// Defaults bound MCP-initiated runs.
type Defaults struct {
	BudgetUSD   float64
	MaxRequests int
	MaxRounds   int
	RunTimeout  time.Duration
	CallTimeout time.Duration
}

// Server wires the engine services behind an MCP tool surface.
type Server struct {
	mcpServer *server.MCPServer
	executor  *engine.Executor
	validator *validate.Validator
	evolver   *evolve.Service
	store     repository.GenomeStore
	defaults  Defaults
}

// NewServer creates a new Server and registers its tools.
func NewServer(executor *engine.Executor, validator *validate.Validator, evolver *evolve.Service, store repository.GenomeStore, defaults Defaults) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Evolutionary Workflow Engine",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		executor:  executor,
		validator: validator,
		evolver:   evolver,
		store:     store,
		defaults:  defaults,
	}

	s.registerTools()
	return s
}

// GetMCPServer returns the underlying MCP server.
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"run_workflow",
			mcp.WithDescription("Execute a workflow graph against an input"),
			mcp.WithString("graph", mcp.Required(), mcp.Description("The workflow graph as JSON")),
			mcp.WithString("input", mcp.Required(), mcp.Description("The entry payload text")),
			mcp.WithNumber("budget_usd", mcp.Description("USD ceiling for the run")),
		),
		s.handleRunWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"validate_workflow",
			mcp.WithDescription("Check a workflow graph for structural correctness"),
			mcp.WithString("graph", mcp.Required(), mcp.Description("The workflow graph as JSON")),
		),
		s.handleValidateWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"evolve_generation",
			mcp.WithDescription("Evolve the latest generation of a run into the next one"),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("The evolutionary run to advance")),
		),
		s.handleEvolveGeneration,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"recall_memory",
			mcp.WithDescription("Read the memory stored on a genome"),
			mcp.WithString("genome_id", mcp.Required(), mcp.Description("The genome to read")),
			mcp.WithString("node_id", mcp.Description("Restrict to one node's memory")),
		),
		s.handleRecallMemory,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"remember_memory",
			mcp.WithDescription("Write one memory key onto a stored genome"),
			mcp.WithString("genome_id", mcp.Required(), mcp.Description("The genome to update")),
			mcp.WithString("key", mcp.Required(), mcp.Description("The memory key")),
			mcp.WithString("value", mcp.Required(), mcp.Description("The memory value")),
			mcp.WithString("node_id", mcp.Description("Target node; workflow memory when empty")),
		),
		s.handleRememberMemory,
	)
}

// ToolNames lists every tool the MCP surface registers. The validator's
// runtime known-tool set is built from this list plus configuration, so
// workflow nodes may reference these tools directly.
func ToolNames() []string {
	return []string{
		"run_workflow",
		"validate_workflow",
		"evolve_generation",
		"recall_memory",
		"remember_memory",
	}
}

func (s *Server) handleRunWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	rawGraph, ok := args["graph"].(string)
	if !ok || rawGraph == "" {
		return mcp.NewToolResultError("Missing required parameter: graph"), nil
	}
	input, ok := args["input"].(string)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: input"), nil
	}

	var graph models.WorkflowGraph
	if err := json.Unmarshal([]byte(rawGraph), &graph); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid graph JSON: %v", err)), nil
	}

	budget := s.defaults.BudgetUSD
	if v, ok := args["budget_usd"].(float64); ok && v > 0 {
		budget = v
	}

	result := s.executor.Run(ctx, engine.RunRequest{
		Graph:       graph,
		Input:       input,
		BudgetUSD:   budget,
		MaxRequests: s.defaults.MaxRequests,
		MaxRounds:   s.defaults.MaxRounds,
		Timeout:     s.defaults.RunTimeout,
		CallTimeout: s.defaults.CallTimeout,
	})

	jsonBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleValidateWorkflow(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	rawGraph, ok := args["graph"].(string)
	if !ok || rawGraph == "" {
		return mcp.NewToolResultError("Missing required parameter: graph"), nil
	}

	var graph models.WorkflowGraph
	if err := json.Unmarshal([]byte(rawGraph), &graph); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid graph JSON: %v", err)), nil
	}

	result := s.validator.Validate(&graph)
	jsonBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleEvolveGeneration(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	runID, ok := args["run_id"].(string)
	if !ok || runID == "" {
		return mcp.NewToolResultError("Missing required parameter: run_id"), nil
	}

	generation, err := s.store.LatestGeneration(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load run: %v", err)), nil
	}
	population, err := s.store.ListGeneration(ctx, runID, generation)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load generation: %v", err)), nil
	}

	next, err := s.evolver.NextGeneration(population)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to evolve: %v", err)), nil
	}
	for _, genome := range next {
		if err := s.store.Save(ctx, genome); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to save offspring: %v", err)), nil
		}
	}

	jsonBytes, _ := json.Marshal(map[string]any{
		"run_id":     runID,
		"generation": generation + 1,
		"population": len(next),
	})
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleRecallMemory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	genomeID, ok := args["genome_id"].(string)
	if !ok || genomeID == "" {
		return mcp.NewToolResultError("Missing required parameter: genome_id"), nil
	}

	genome, err := s.store.Get(ctx, genomeID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load genome: %v", err)), nil
	}

	if nodeID, ok := args["node_id"].(string); ok && nodeID != "" {
		node, ok := genome.Graph.Node(nodeID)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("Unknown node: %s", nodeID)), nil
		}
		jsonBytes, _ := json.Marshal(map[string]any{"node_id": nodeID, "memory": node.Memory})
		return mcp.NewToolResultText(string(jsonBytes)), nil
	}

	nodeMemory := make(map[string]map[string]string, len(genome.Graph.Nodes))
	for id, node := range genome.Graph.Nodes {
		if len(node.Memory) > 0 {
			nodeMemory[id] = node.Memory
		}
	}
	jsonBytes, _ := json.Marshal(map[string]any{
		"workflow_memory": genome.Graph.WorkflowMemory,
		"node_memory":     nodeMemory,
	})
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleRememberMemory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	genomeID, ok := args["genome_id"].(string)
	if !ok || genomeID == "" {
		return mcp.NewToolResultError("Missing required parameter: genome_id"), nil
	}
	key, ok := args["key"].(string)
	if !ok || key == "" {
		return mcp.NewToolResultError("Missing required parameter: key"), nil
	}
	value, ok := args["value"].(string)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: value"), nil
	}

	var nodeDeltas map[string]map[string]string
	var workflowDelta map[string]string
	if nodeID, ok := args["node_id"].(string); ok && nodeID != "" {
		nodeDeltas = map[string]map[string]string{nodeID: {key: value}}
	} else {
		workflowDelta = map[string]string{key: value}
	}

	if err := s.store.ApplyMemoryDeltas(ctx, genomeID, nodeDeltas, workflowDelta); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to store memory: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(map[string]any{"genome_id": genomeID, "key": key})
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MountHTTPHandlers mounts the MCP server on a mux under /mcp.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
