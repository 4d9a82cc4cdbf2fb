// Package api contains the HTTP handlers for the workflow engine.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"evoflow/engine/internal/engine"
	"evoflow/engine/internal/evolve"
	"evoflow/engine/internal/repository"
	"evoflow/engine/internal/validate"
	"evoflow/engine/pkg/models"
)

// Defaults bound API-initiated runs when a request omits its own limits.
type Defaults struct {
	BudgetUSD   float64
	MaxRequests int
	MaxRounds   int
	RunTimeout  time.Duration
	CallTimeout time.Duration
}

// Server holds the dependencies for the API server.
type Server struct {
	Executor  *engine.Executor
	Validator *validate.Validator
	Evolver   *evolve.Service
	Store     repository.GenomeStore
	Defaults  Defaults
}

// NewServer creates a new Server.
func NewServer(executor *engine.Executor, validator *validate.Validator, evolver *evolve.Service, store repository.GenomeStore, defaults Defaults) *Server {
	return &Server{
		Executor:  executor,
		Validator: validator,
		Evolver:   evolver,
		Store:     store,
		Defaults:  defaults,
	}
}

// RegisterHandlers mounts the API routes on a group.
func RegisterHandlers(g *echo.Group, s *Server) {
	g.POST("/runs", s.PostRun)
	g.POST("/workflows/validate", s.PostValidate)
	g.GET("/genomes/:id", s.GetGenome)
	g.PUT("/genomes", s.PutGenome)
	g.GET("/runs/:runId/generations/latest", s.ListLatestGeneration)
	g.POST("/runs/:runId/generations/evolve", s.PostEvolve)
}

// RunRequest is the execution request body.
type RunRequest struct {
	Graph     models.WorkflowGraph `json:"graph"`
	Input     string               `json:"input"`
	BudgetUSD float64              `json:"budget_usd,omitempty"`
	MaxRounds int                  `json:"max_rounds,omitempty"`
	GenomeID  string               `json:"genome_id,omitempty"`
}

// PostRun executes a workflow graph
// (POST /api/v1/runs)
func (s *Server) PostRun(c echo.Context) error {
	ctx := c.Request().Context()

	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	budget := req.BudgetUSD
	if budget <= 0 {
		budget = s.Defaults.BudgetUSD
	}
	rounds := req.MaxRounds
	if rounds <= 0 {
		rounds = s.Defaults.MaxRounds
	}

	result := s.Executor.Run(ctx, engine.RunRequest{
		Graph:       req.Graph,
		Input:       req.Input,
		BudgetUSD:   budget,
		MaxRequests: s.Defaults.MaxRequests,
		MaxRounds:   rounds,
		Timeout:     s.Defaults.RunTimeout,
		CallTimeout: s.Defaults.CallTimeout,
	})

	// Persist what the nodes learned back onto the stored genome.
	if req.GenomeID != "" && len(result.NodeOutcomes) > 0 {
		nodeDeltas := make(map[string]map[string]string)
		for nodeID, outcome := range result.NodeOutcomes {
			if len(outcome.MemoryDelta) > 0 {
				nodeDeltas[nodeID] = outcome.MemoryDelta
			}
		}
		if len(nodeDeltas) > 0 {
			if err := s.Store.ApplyMemoryDeltas(ctx, req.GenomeID, nodeDeltas, nil); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "Failed to persist memory: "+err.Error())
			}
		}
	}

	return c.JSON(http.StatusOK, result)
}

// PostValidate checks a workflow graph for structural correctness
// (POST /api/v1/workflows/validate)
func (s *Server) PostValidate(c echo.Context) error {
	var graph models.WorkflowGraph
	if err := c.Bind(&graph); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	return c.JSON(http.StatusOK, s.Validator.Validate(&graph))
}

// GetGenome returns a stored genome
// (GET /api/v1/genomes/:id)
func (s *Server) GetGenome(c echo.Context) error {
	ctx := c.Request().Context()

	genome, err := s.Store.Get(ctx, c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Genome not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, genome)
}

// PutGenome creates or updates a genome
// (PUT /api/v1/genomes)
func (s *Server) PutGenome(c echo.Context) error {
	ctx := c.Request().Context()

	var genome models.Genome
	if err := c.Bind(&genome); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if genome.ID == "" {
		genome.ID = uuid.New().String()
	}
	if genome.RunID == "" {
		genome.RunID = uuid.New().String()
	}
	if genome.CreatedAt.IsZero() {
		genome.CreatedAt = time.Now().UTC()
	}

	// A structurally invalid genome may be stored, but never marked valid.
	if result := s.Validator.Validate(&genome.Graph); !result.IsValid {
		genome.Fitness.Valid = false
	}

	if err := s.Store.Save(ctx, &genome); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save genome: "+err.Error())
	}
	return c.JSON(http.StatusOK, genome)
}

// ListLatestGeneration returns the newest generation of a run
// (GET /api/v1/runs/:runId/generations/latest)
func (s *Server) ListLatestGeneration(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("runId")

	generation, err := s.Store.LatestGeneration(ctx, runID)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Run has no genomes")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	population, err := s.Store.ListGeneration(ctx, runID, generation)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"run_id":     runID,
		"generation": generation,
		"genomes":    population,
	})
}

// PostEvolve advances a run's latest generation
// (POST /api/v1/runs/:runId/generations/evolve)
func (s *Server) PostEvolve(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("runId")

	generation, err := s.Store.LatestGeneration(ctx, runID)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Run has no genomes")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	population, err := s.Store.ListGeneration(ctx, runID, generation)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	next, err := s.Evolver.NextGeneration(population)
	if err != nil {
		// A memory preservation violation is a programming invariant
		// failure, not a client error.
		return echo.NewHTTPError(http.StatusInternalServerError, "Evolution failed: "+err.Error())
	}

	for _, genome := range next {
		if err := s.Store.Save(ctx, genome); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save offspring: "+err.Error())
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"run_id":     runID,
		"generation": generation + 1,
		"population": len(next),
	})
}
