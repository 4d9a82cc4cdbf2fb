// Package repository persists genomes and their memory. The engine treats
// it as a durable key-value/record store with at-least-once writes.
package repository

import (
	"context"
	"errors"

	"evoflow/engine/pkg/models"
)

// ErrNotFound is returned when a requested genome does not exist.
var ErrNotFound = errors.New("genome not found")

// GenomeStore is an interface for storing and retrieving genomes.
type GenomeStore interface {
	// Save writes a genome, replacing any existing record with the same id.
	Save(ctx context.Context, genome *models.Genome) error
	// Get retrieves a genome by its id.
	Get(ctx context.Context, id string) (*models.Genome, error)
	// ListGeneration returns every genome of one generation of a run.
	ListGeneration(ctx context.Context, runID string, generation int) ([]*models.Genome, error)
	// LatestGeneration returns the highest generation number stored for a
	// run, or ErrNotFound when the run has no genomes.
	LatestGeneration(ctx context.Context, runID string) (int, error)
	// ApplyMemoryDeltas merges node-level and workflow-level memory
	// updates into a stored genome's graph. The merged update is written
	// as one logical operation.
	ApplyMemoryDeltas(ctx context.Context, id string, nodeDeltas map[string]map[string]string, workflowDelta map[string]string) error
}
