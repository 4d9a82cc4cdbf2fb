package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"evoflow/engine/internal/api"
	"evoflow/engine/internal/config"
	"evoflow/engine/internal/engine"
	"evoflow/engine/internal/evolve"
	"evoflow/engine/internal/logging"
	"evoflow/engine/internal/mcp"
	"evoflow/engine/internal/provider"
	"evoflow/engine/internal/repository"
	"evoflow/engine/internal/telemetry"
	"evoflow/engine/internal/validate"
	"evoflow/engine/pkg/models"
)

func main() {
	root := &cobra.Command{
		Use:   "evoflow",
		Short: "Evolutionary agent-workflow engine",
	}
	root.AddCommand(serveCmd(), seedCmd(), runCmd(), evolveCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("command failed: %v", err)
	}
}

// core bundles the wired engine services.
type core struct {
	cfg       *config.Config
	logger    *logging.Logger
	observer  telemetry.Observer
	validator *validate.Validator
	executor  *engine.Executor
	evolver   *evolve.Service
	store     repository.GenomeStore
	pool      *pgxpool.Pool
}

func (c *core) close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

func buildCore(ctx context.Context) (*core, error) {
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	var observer telemetry.Observer = telemetry.Noop{}
	if cfg.Telemetry.Enable {
		otel.SetMeterProvider(sdkmetric.NewMeterProvider())
		metrics, err := telemetry.NewMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		observer = metrics
	}

	// The runtime-known tool set is the MCP tool surface plus whatever
	// the deployment registers through configuration.
	knownTools := append(mcp.ToolNames(), cfg.Validator.KnownTools...)

	validator := validate.NewValidator(validate.Policy{
		AllowCycles:            cfg.Validator.AllowCycles,
		Hierarchical:           cfg.Validator.Hierarchical,
		MaxDepth:               cfg.Validator.MaxDepth,
		MaxFanOut:              cfg.Validator.MaxFanOut,
		UniqueToolsPerWorkflow: cfg.Validator.UniqueToolsPerWorkflow,
		UniqueToolsetPerNode:   cfg.Validator.UniqueToolsetPerNode,
		MaxToolsPerNode:        cfg.Validator.MaxToolsPerNode,
		DefaultToolAllowance:   cfg.Validator.DefaultToolAllowance,
	}, knownTools, cfg.Validator.DisabledTools, cfg.Validator.ActiveModels)

	capability := provider.NewHTTPProvider(cfg.Provider.URL,
		time.Duration(cfg.Provider.TimeoutSeconds)*time.Second)
	runner := engine.NewNodeRunner(capability, observer, logger)
	executor := engine.NewExecutor(runner, validator, observer, logger)

	evolver := evolve.NewService(validator,
		evolve.Policy{
			CrossoverPrecedence:  evolve.Precedence(cfg.Evolution.CrossoverPrecedence),
			InheritNewNodeMemory: cfg.Evolution.InheritNewNodeMemory,
		},
		cfg.Validator.ActiveModels,
		cfg.Evolution.PopulationSize,
		cfg.Evolution.EliteCount,
		cfg.Evolution.CrossoverRate,
		rand.New(rand.NewSource(time.Now().UnixNano())),
		observer, logger)

	c := &core{
		cfg:       cfg,
		logger:    logger,
		observer:  observer,
		validator: validator,
		executor:  executor,
		evolver:   evolver,
	}

	if cfg.DB.Host != "" {
		pool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		store := repository.NewPostgresGenomeStore(pool)
		if err := store.Schema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ensure schema: %w", err)
		}
		c.pool = pool
		c.store = store
		logger.Info("Database connected", "host", cfg.DB.Host)
	} else {
		c.store = repository.NewMemoryGenomeStore()
		logger.Warn("No database configured, using in-memory genome store")
	}

	return c, nil
}

func defaults(cfg *config.Config) api.Defaults {
	return api.Defaults{
		BudgetUSD:   cfg.Engine.DefaultBudgetUSD,
		MaxRequests: cfg.Engine.MaxRequestsPerRun,
		MaxRounds:   cfg.Engine.MaxRounds,
		RunTimeout:  time.Duration(cfg.Engine.RunTimeoutSeconds) * time.Second,
		CallTimeout: time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the engine HTTP and MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c, err := buildCore(ctx)
			if err != nil {
				return err
			}
			defer c.close()

			c.logger.Info("Starting Evolutionary Workflow Engine")

			e := echo.New()
			e.HideBanner = true
			e.Use(middleware.Logger())
			e.Use(middleware.Recover())
			e.Use(otelecho.Middleware("evoflow-engine"))

			e.GET("/health", echo.WrapHandler(http.HandlerFunc(api.HandleHealth)))

			d := defaults(c.cfg)
			apiGroup := e.Group("/api/v1")
			apiHandler := api.NewServer(c.executor, c.validator, c.evolver, c.store, d)
			api.RegisterHandlers(apiGroup, apiHandler)
			c.logger.Info("REST API handlers mounted")

			mcpServer := mcp.NewServer(c.executor, c.validator, c.evolver, c.store, mcp.Defaults{
				BudgetUSD:   d.BudgetUSD,
				MaxRequests: d.MaxRequests,
				MaxRounds:   d.MaxRounds,
				RunTimeout:  d.RunTimeout,
				CallTimeout: d.CallTimeout,
			})
			mcpHandlers := http.NewServeMux()
			mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
			e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))
			c.logger.Info("MCP protocol handlers mounted")

			addr := fmt.Sprintf(":%d", c.cfg.Server.Port)
			server := &http.Server{
				Addr:         addr,
				Handler:      e,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			serverErrors := make(chan error, 1)
			go func() {
				c.logger.Info("Server starting", "address", addr)
				serverErrors <- server.ListenAndServe()
			}()

			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-serverErrors:
				if err != http.ErrServerClosed {
					return fmt.Errorf("server error: %w", err)
				}
			case sig := <-shutdown:
				c.logger.Info("Shutdown signal received", "signal", sig)

				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				if err := server.Shutdown(ctx); err != nil {
					c.logger.Error("Server shutdown error", "error", err)
					if err := server.Close(); err != nil {
						c.logger.Error("Server close error", "error", err)
					}
				}
				c.logger.Info("Server stopped gracefully")
			}
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed an initial population of workflow genomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c, err := buildCore(ctx)
			if err != nil {
				return err
			}
			defer c.close()

			if runID == "" {
				runID = uuid.New().String()
			}

			for _, graph := range seedGraphs() {
				genome := &models.Genome{
					ID:        uuid.New().String(),
					RunID:     runID,
					Graph:     graph,
					CreatedAt: time.Now().UTC(),
				}
				if result := c.validator.Validate(&genome.Graph); !result.IsValid {
					c.logger.Warn("Skipping invalid seed graph", "errors", len(result.Errors))
					continue
				}
				if err := c.store.Save(ctx, genome); err != nil {
					return fmt.Errorf("failed to seed genome: %w", err)
				}
				c.logger.Info("Seeded genome", "id", genome.ID, "run_id", runID)
			}
			c.logger.Info("Seeding complete!", "run_id", runID)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "Run to seed into (generated when empty)")
	return cmd
}

func runCmd() *cobra.Command {
	var graphFile, input string
	var budget float64
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one workflow graph from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c, err := buildCore(ctx)
			if err != nil {
				return err
			}
			defer c.close()

			raw, err := os.ReadFile(graphFile)
			if err != nil {
				return fmt.Errorf("failed to read graph file: %w", err)
			}
			var graph models.WorkflowGraph
			if err := json.Unmarshal(raw, &graph); err != nil {
				return fmt.Errorf("failed to parse graph file: %w", err)
			}

			if budget <= 0 {
				budget = c.cfg.Engine.DefaultBudgetUSD
			}
			result := c.executor.Run(ctx, engine.RunRequest{
				Graph:       graph,
				Input:       input,
				BudgetUSD:   budget,
				MaxRequests: c.cfg.Engine.MaxRequestsPerRun,
				MaxRounds:   c.cfg.Engine.MaxRounds,
				Timeout:     time.Duration(c.cfg.Engine.RunTimeoutSeconds) * time.Second,
				CallTimeout: time.Duration(c.cfg.Provider.TimeoutSeconds) * time.Second,
			})

			out, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&graphFile, "graph", "workflow.json", "Workflow graph JSON file")
	cmd.Flags().StringVar(&input, "input", "", "Entry payload text")
	cmd.Flags().Float64Var(&budget, "budget-usd", 0, "USD ceiling for the run")
	return cmd
}

func evolveCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "evolve",
		Short: "Advance a run's latest generation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c, err := buildCore(ctx)
			if err != nil {
				return err
			}
			defer c.close()

			generation, err := c.store.LatestGeneration(ctx, runID)
			if err != nil {
				return fmt.Errorf("failed to find latest generation: %w", err)
			}
			population, err := c.store.ListGeneration(ctx, runID, generation)
			if err != nil {
				return fmt.Errorf("failed to load generation: %w", err)
			}

			next, err := c.evolver.NextGeneration(population)
			if err != nil {
				return fmt.Errorf("evolution failed: %w", err)
			}
			for _, genome := range next {
				if err := c.store.Save(ctx, genome); err != nil {
					return fmt.Errorf("failed to save offspring: %w", err)
				}
			}
			c.logger.Info("Generation evolved", "run_id", runID,
				"generation", generation+1, "population", len(next))
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "Run to evolve")
	_ = cmd.MarkFlagRequired("run-id")
	return cmd
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
