package engine

import (
	"fmt"
	"sync"

	"evoflow/engine/pkg/models"
)

// Router decides payload delivery between nodes. A node that declares
// waitingFor upstreams is held back until every one of them has
// delivered; the final arrival is joined into one aggregated payload that
// keeps per-sender attribution and arrival order. Nodes without
// waitingFor run on the first message that reaches them.
type Router struct {
	graph *models.WorkflowGraph

	mu      sync.Mutex
	pending map[string][]models.AggregatedPart
}

// NewRouter creates a Router for one run of the given graph.
func NewRouter(graph *models.WorkflowGraph) *Router {
	return &Router{
		graph:   graph,
		pending: make(map[string][]models.AggregatedPart),
	}
}

// Deliver records a payload sent from one node to another. When the
// destination is ready to run, the payload it should run with is returned
// along with true; otherwise the message is buffered.
func (r *Router) Deliver(from, to string, payload *models.Payload) (*models.Payload, bool, error) {
	node, ok := r.graph.Node(to)
	if !ok {
		return nil, false, fmt.Errorf("delivery to unknown node '%s'", to)
	}
	if payload != nil && payload.Kind == models.PayloadResult {
		return nil, false, fmt.Errorf("result payload from node '%s' cannot be forwarded", from)
	}

	if len(node.WaitingFor) == 0 {
		return payload, true, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending[to] = append(r.pending[to], models.AggregatedPart{FromNodeID: from, Payload: payload})

	arrived := make(map[string]bool, len(r.pending[to]))
	for _, part := range r.pending[to] {
		arrived[part.FromNodeID] = true
	}
	for _, upstream := range node.WaitingFor {
		if !arrived[upstream] {
			return nil, false, nil
		}
	}

	parts := r.pending[to]
	delete(r.pending, to)

	aggregated, err := models.NewAggregatedPayload(parts)
	if err != nil {
		return nil, false, err
	}
	return aggregated, true, nil
}

// PendingCount reports how many buffered messages a node currently has.
func (r *Router) PendingCount(nodeID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending[nodeID])
}
