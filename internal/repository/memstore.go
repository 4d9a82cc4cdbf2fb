package repository

import (
	"context"
	"sync"

	"evoflow/engine/pkg/models"
)

// MemoryGenomeStore is an in-memory GenomeStore used in tests and when
// running without a database.
type MemoryGenomeStore struct {
	mu      sync.RWMutex
	genomes map[string]*models.Genome
}

// NewMemoryGenomeStore creates a new MemoryGenomeStore.
func NewMemoryGenomeStore() *MemoryGenomeStore {
	return &MemoryGenomeStore{genomes: make(map[string]*models.Genome)}
}

var _ GenomeStore = (*MemoryGenomeStore)(nil)

// Save writes a genome, replacing any existing record with the same id.
func (s *MemoryGenomeStore) Save(_ context.Context, genome *models.Genome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.genomes[genome.ID] = genome.Clone()
	return nil
}

// Get retrieves a genome by its id.
func (s *MemoryGenomeStore) Get(_ context.Context, id string) (*models.Genome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	genome, ok := s.genomes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return genome.Clone(), nil
}

// ListGeneration returns every genome of one generation of a run.
func (s *MemoryGenomeStore) ListGeneration(_ context.Context, runID string, generation int) ([]*models.Genome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Genome
	for _, genome := range s.genomes {
		if genome.RunID == runID && genome.Generation == generation {
			out = append(out, genome.Clone())
		}
	}
	return out, nil
}

// LatestGeneration returns the highest generation number stored for a run.
func (s *MemoryGenomeStore) LatestGeneration(_ context.Context, runID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest, found := 0, false
	for _, genome := range s.genomes {
		if genome.RunID != runID {
			continue
		}
		if !found || genome.Generation > latest {
			latest = genome.Generation
			found = true
		}
	}
	if !found {
		return 0, ErrNotFound
	}
	return latest, nil
}

// ApplyMemoryDeltas merges memory updates into a stored genome's graph.
func (s *MemoryGenomeStore) ApplyMemoryDeltas(_ context.Context, id string, nodeDeltas map[string]map[string]string, workflowDelta map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	genome, ok := s.genomes[id]
	if !ok {
		return ErrNotFound
	}
	MergeDeltas(&genome.Graph, nodeDeltas, workflowDelta)
	return nil
}

// MergeDeltas applies node and workflow memory deltas to a graph in
// place. Nodes absent from the graph are ignored; delta values win on
// key conflicts.
func MergeDeltas(graph *models.WorkflowGraph, nodeDeltas map[string]map[string]string, workflowDelta map[string]string) {
	for nodeID, delta := range nodeDeltas {
		node, ok := graph.Nodes[nodeID]
		if !ok || len(delta) == 0 {
			continue
		}
		if node.Memory == nil {
			node.Memory = make(map[string]string, len(delta))
		}
		for k, v := range delta {
			node.Memory[k] = v
		}
		graph.Nodes[nodeID] = node
	}
	if len(workflowDelta) > 0 {
		if graph.WorkflowMemory == nil {
			graph.WorkflowMemory = make(map[string]string, len(workflowDelta))
		}
		for k, v := range workflowDelta {
			graph.WorkflowMemory[k] = v
		}
	}
}
