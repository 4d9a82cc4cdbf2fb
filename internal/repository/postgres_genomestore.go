package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"evoflow/engine/pkg/models"
)

// PostgresGenomeStore is a PostgreSQL implementation of the GenomeStore
// interface. Graphs are stored as JSONB; fitness fields are flattened so
// generations can be ranked in SQL.
type PostgresGenomeStore struct {
	db *pgxpool.Pool
}

// NewPostgresGenomeStore creates a new PostgresGenomeStore.
func NewPostgresGenomeStore(db *pgxpool.Pool) *PostgresGenomeStore {
	return &PostgresGenomeStore{db: db}
}

var _ GenomeStore = (*PostgresGenomeStore)(nil)

// Schema creates the genomes table if it does not exist.
func (s *PostgresGenomeStore) Schema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS genomes (
		id UUID PRIMARY KEY,
		run_id TEXT NOT NULL,
		generation INT NOT NULL,
		graph JSONB NOT NULL,
		score DOUBLE PRECISION NOT NULL DEFAULT 0,
		cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		time_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
		valid BOOLEAN NOT NULL DEFAULT FALSE,
		parent_ids TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	return err
}

// Save writes a genome, replacing any existing record with the same id.
func (s *PostgresGenomeStore) Save(ctx context.Context, genome *models.Genome) error {
	graph, err := json.Marshal(genome.Graph)
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO genomes
		(id, run_id, generation, graph, score, cost_usd, time_seconds, valid, parent_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			graph = EXCLUDED.graph,
			score = EXCLUDED.score,
			cost_usd = EXCLUDED.cost_usd,
			time_seconds = EXCLUDED.time_seconds,
			valid = EXCLUDED.valid`,
		genome.ID, genome.RunID, genome.Generation, graph,
		genome.Fitness.Score, genome.Fitness.CostUSD, genome.Fitness.TimeSeconds, genome.Fitness.Valid,
		genome.ParentIDs, genome.CreatedAt)
	return err
}

// Get retrieves a genome by its id.
func (s *PostgresGenomeStore) Get(ctx context.Context, id string) (*models.Genome, error) {
	row := s.db.QueryRow(ctx, `SELECT id, run_id, generation, graph, score, cost_usd, time_seconds, valid, parent_ids, created_at
		FROM genomes WHERE id = $1`, id)
	genome, err := scanGenome(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return genome, err
}

// ListGeneration returns every genome of one generation of a run.
func (s *PostgresGenomeStore) ListGeneration(ctx context.Context, runID string, generation int) ([]*models.Genome, error) {
	rows, err := s.db.Query(ctx, `SELECT id, run_id, generation, graph, score, cost_usd, time_seconds, valid, parent_ids, created_at
		FROM genomes WHERE run_id = $1 AND generation = $2 ORDER BY score DESC, cost_usd ASC`, runID, generation)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var genomes []*models.Genome
	for rows.Next() {
		genome, err := scanGenome(rows)
		if err != nil {
			return nil, err
		}
		genomes = append(genomes, genome)
	}
	return genomes, rows.Err()
}

// LatestGeneration returns the highest generation number stored for a run.
func (s *PostgresGenomeStore) LatestGeneration(ctx context.Context, runID string) (int, error) {
	var generation *int
	err := s.db.QueryRow(ctx, `SELECT MAX(generation) FROM genomes WHERE run_id = $1`, runID).Scan(&generation)
	if err != nil {
		return 0, err
	}
	if generation == nil {
		return 0, ErrNotFound
	}
	return *generation, nil
}

// ApplyMemoryDeltas merges memory updates into a stored genome's graph.
// The read-merge-write runs in one transaction so the logical update is
// atomic.
func (s *PostgresGenomeStore) ApplyMemoryDeltas(ctx context.Context, id string, nodeDeltas map[string]map[string]string, workflowDelta map[string]string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx, `SELECT graph FROM genomes WHERE id = $1 FOR UPDATE`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var graph models.WorkflowGraph
	if err := json.Unmarshal(raw, &graph); err != nil {
		return fmt.Errorf("failed to unmarshal graph: %w", err)
	}
	MergeDeltas(&graph, nodeDeltas, workflowDelta)

	merged, err := json.Marshal(graph)
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE genomes SET graph = $1 WHERE id = $2`, merged, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGenome(row rowScanner) (*models.Genome, error) {
	var genome models.Genome
	var raw []byte
	err := row.Scan(&genome.ID, &genome.RunID, &genome.Generation, &raw,
		&genome.Fitness.Score, &genome.Fitness.CostUSD, &genome.Fitness.TimeSeconds, &genome.Fitness.Valid,
		&genome.ParentIDs, &genome.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &genome.Graph); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph: %w", err)
	}
	return &genome, nil
}
