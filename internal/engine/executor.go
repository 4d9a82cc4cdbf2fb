package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"evoflow/engine/internal/logging"
	"evoflow/engine/internal/telemetry"
	"evoflow/engine/internal/validate"
	"evoflow/engine/pkg/models"
)

// RunStatus is the terminal state of one workflow run.
type RunStatus string

const (
	RunStatusOK              RunStatus = "ok"
	RunStatusInvalid         RunStatus = "invalid"
	RunStatusError           RunStatus = "error"
	RunStatusCancelled       RunStatus = "cancelled"
	RunStatusBudgetExhausted RunStatus = "budget_exhausted"
)

// RunRequest asks for one execution of a workflow graph.
type RunRequest struct {
	Graph       models.WorkflowGraph
	Input       string
	BudgetUSD   float64
	MaxRequests int
	MaxRounds   int
	Timeout     time.Duration
	CallTimeout time.Duration
}

// NodeOutcome is the recorded result of one node's (last) invocation.
type NodeOutcome struct {
	StepLog     models.StepLog    `json:"step_log"`
	MemoryDelta map[string]string `json:"memory_delta,omitempty"`
	CostUSD     float64           `json:"cost_usd"`
	Error       string            `json:"error,omitempty"`
}

// RunResult is the terminal state of a run. Cancelled and budget-exhausted
// runs still carry the outcomes and cost of every node that completed.
type RunResult struct {
	Status       RunStatus              `json:"status"`
	Output       string                 `json:"output,omitempty"`
	CostUSD      float64                `json:"cost_usd"`
	TimeSeconds  float64                `json:"time_seconds"`
	Violations   []string               `json:"violations,omitempty"`
	NodeOutcomes map[string]NodeOutcome `json:"node_outcomes,omitempty"`
	ErrorDetail  string                 `json:"error_detail,omitempty"`
}

// Executor runs whole workflow graphs: validation gate, router-driven
// traversal from the entry node, parallel execution of independent
// branches, and fitness inputs (cost, wall time) on the way out.
type Executor struct {
	runner    *NodeRunner
	validator *validate.Validator
	observer  telemetry.Observer
	logger    *logging.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(runner *NodeRunner, validator *validate.Validator, observer telemetry.Observer, logger *logging.Logger) *Executor {
	if observer == nil {
		observer = telemetry.Noop{}
	}
	return &Executor{runner: runner, validator: validator, observer: observer, logger: logger}
}

// Run executes the workflow. A structurally invalid graph is never
// executed, not even partially.
func (e *Executor) Run(ctx context.Context, req RunRequest) RunResult {
	started := time.Now()

	if e.validator != nil {
		if result := e.validator.Validate(&req.Graph); !result.IsValid {
			return RunResult{Status: RunStatusInvalid, Violations: result.Errors}
		}
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	guard := NewRunGuard(req.BudgetUSD, req.MaxRequests)
	router := NewRouter(&req.Graph)
	budget := Budget{MaxRounds: req.MaxRounds, CallTimeout: req.CallTimeout, Guard: guard}

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		outcomes    = make(map[string]NodeOutcome)
		finalOutput string
		nodeErrs    []string
		sawBudget   bool
	)

	var schedule func(nodeID string, payload *models.Payload)
	schedule = func(nodeID string, payload *models.Payload) {
		wg.Add(1)
		go func() {
			defer wg.Done()

			node, ok := req.Graph.Node(nodeID)
			if !ok {
				return
			}
			res := e.runner.Invoke(ctx, node, payload, budget)

			mu.Lock()
			outcome := NodeOutcome{
				StepLog:     res.StepLog,
				MemoryDelta: res.MemoryDelta,
				CostUSD:     res.USDCost,
			}
			if res.Err != nil {
				outcome.Error = res.Err.Error()
				nodeErrs = append(nodeErrs, res.Err.Error())
			}
			outcomes[nodeID] = outcome
			mu.Unlock()

			// A failed invocation ends its branch without taking sibling
			// branches down.
			if res.Err != nil {
				return
			}

			if res.Payload != nil && res.Payload.Kind == models.PayloadResult {
				// A budget- or cancel-terminated node carries a degraded local
				// summary; that is diagnostic output, not a run result.
				if res.Reason == terminatedBySelector || res.Reason == terminatedByRounds {
					mu.Lock()
					finalOutput = res.FinalOutput
					mu.Unlock()
				}
				return
			}

			for _, nextID := range res.NextNodeIDs {
				next, ready, err := router.Deliver(nodeID, nextID, res.Payload)
				if err != nil {
					mu.Lock()
					nodeErrs = append(nodeErrs, err.Error())
					mu.Unlock()
					continue
				}
				if ready {
					schedule(nextID, next)
				}
			}
		}()
	}

	schedule(req.Graph.EntryNodeID, models.NewPayload(models.PayloadSequential, req.Input))
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()

	sawBudget = guard.Exhausted()

	result := RunResult{
		Output:       finalOutput,
		CostUSD:      guard.SpentUSD(),
		TimeSeconds:  time.Since(started).Seconds(),
		NodeOutcomes: outcomes,
	}
	switch {
	case finalOutput != "":
		result.Status = RunStatusOK
	case ctx.Err() != nil:
		result.Status = RunStatusCancelled
		result.ErrorDetail = ctx.Err().Error()
	case sawBudget:
		result.Status = RunStatusBudgetExhausted
	case len(nodeErrs) > 0:
		result.Status = RunStatusError
		result.ErrorDetail = strings.Join(nodeErrs, "; ")
	default:
		result.Status = RunStatusOK
	}

	e.observer.Emit(telemetry.EventRunCompleted, map[string]any{
		"status": string(result.Status), "cost_usd": result.CostUSD, "nodes": len(outcomes),
	})
	return result
}

// Fitness derives a genome fitness record from a run result. Score comes
// from the caller's evaluation; cost and time come from the run itself.
func (r RunResult) Fitness(score float64) models.Fitness {
	return models.Fitness{
		Score:       score,
		CostUSD:     r.CostUSD,
		TimeSeconds: r.TimeSeconds,
		Valid:       r.Status == RunStatusOK,
	}
}
