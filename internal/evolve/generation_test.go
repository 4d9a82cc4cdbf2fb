package evolve

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evoflow/engine/internal/graphhash"
	"evoflow/engine/internal/logging"
	"evoflow/engine/internal/repository"
	"evoflow/engine/pkg/models"
)

func fitGenome(id string, score, cost, seconds float64, valid bool) *models.Genome {
	g := genomeWith(id, map[string]models.NodeConfig{
		"node1": {
			NodeID:       "node1",
			SystemPrompt: "solve the task " + id,
			ModelName:    "default",
			HandOffs:     []string{"node2"},
			Memory:       map[string]string{"lesson": "from " + id},
		},
		"node2": {NodeID: "node2", ModelName: "default"},
	}, nil)
	g.Fitness = models.Fitness{Score: score, CostUSD: cost, TimeSeconds: seconds, Valid: valid}
	return g
}

func TestRank(t *testing.T) {
	population := []*models.Genome{
		fitGenome("cheap", 0.8, 0.01, 5, true),
		fitGenome("invalid", 0.99, 0.01, 5, false),
		fitGenome("best", 0.9, 0.05, 5, true),
		fitGenome("pricey", 0.8, 0.02, 5, true),
	}

	ranked := Rank(population)
	require.Len(t, ranked, 4)
	assert.Equal(t, "best", ranked[0].ID)
	assert.Equal(t, "cheap", ranked[1].ID)
	assert.Equal(t, "pricey", ranked[2].ID)
	assert.Equal(t, "invalid", ranked[3].ID)

	// Rank must not reorder the caller's slice.
	assert.Equal(t, "cheap", population[0].ID)
}

func TestNextGeneration(t *testing.T) {
	logger := logging.NewLogger()
	rng := rand.New(rand.NewSource(42))

	population := []*models.Genome{
		fitGenome("g1", 0.9, 0.01, 5, true),
		fitGenome("g2", 0.5, 0.02, 9, true),
	}

	t.Run("empty population is an error", func(t *testing.T) {
		svc := NewService(nil, DefaultPolicy(), nil, 4, 1, 0, rng, nil, logger)
		_, err := svc.NextGeneration(nil)
		assert.ErrorIs(t, err, ErrEmptyPopulation)
	})

	t.Run("elites survive with bumped generation", func(t *testing.T) {
		svc := NewService(nil, DefaultPolicy(), []string{"default", "large"}, 4, 1, 0, rng, nil, logger)
		next, err := svc.NextGeneration(population)
		require.NoError(t, err)
		require.NotEmpty(t, next)

		assert.Equal(t, graphhash.Hash(&population[0].Graph), graphhash.Hash(&next[0].Graph))
		assert.Equal(t, population[0].Generation+1, next[0].Generation)
	})

	t.Run("elites carry a fresh identity and lineage", func(t *testing.T) {
		svc := NewService(nil, DefaultPolicy(), []string{"default", "large"}, 4, 1, 0, rng, nil, logger)
		next, err := svc.NextGeneration(population)
		require.NoError(t, err)
		require.NotEmpty(t, next)

		assert.NotEqual(t, population[0].ID, next[0].ID)
		assert.Equal(t, []string{population[0].ID}, next[0].ParentIDs)
	})

	t.Run("degenerate population falls back to mutation", func(t *testing.T) {
		solo := fitGenome("solo", 0.9, 0.01, 5, true)
		svc := NewService(nil, DefaultPolicy(), []string{"default", "large"}, 3, 0, 1.0, rng, nil, logger)

		// Every slot holds the same genome, so crossover can never find a
		// distinct partner.
		next, err := svc.NextGeneration([]*models.Genome{solo, solo})
		require.NoError(t, err)
		require.NotEmpty(t, next)
		for _, genome := range next {
			assert.Equal(t, []string{"solo"}, genome.ParentIDs)
		}
	})

	t.Run("offspring are structurally distinct from the population", func(t *testing.T) {
		svc := NewService(nil, DefaultPolicy(), []string{"default", "large"}, 6, 1, 0.5, rng, nil, logger)
		next, err := svc.NextGeneration(population)
		require.NoError(t, err)

		seen := map[string]bool{}
		for _, genome := range next {
			hash := graphhash.Hash(&genome.Graph)
			assert.False(t, seen[hash], "duplicate graph admitted")
			seen[hash] = true
		}
	})

	t.Run("saving the next generation keeps the prior one intact", func(t *testing.T) {
		ctx := context.Background()
		store := repository.NewMemoryGenomeStore()
		for _, genome := range population {
			require.NoError(t, store.Save(ctx, genome))
		}

		svc := NewService(nil, DefaultPolicy(), []string{"default", "large"}, 4, 1, 0, rng, nil, logger)
		next, err := svc.NextGeneration(population)
		require.NoError(t, err)
		require.NotEmpty(t, next)
		for _, genome := range next {
			require.NoError(t, store.Save(ctx, genome))
		}

		previous, err := store.ListGeneration(ctx, "run-1", population[0].Generation)
		require.NoError(t, err)
		assert.Len(t, previous, 2, "prior generation must stay archived")

		current, err := store.ListGeneration(ctx, "run-1", population[0].Generation+1)
		require.NoError(t, err)
		assert.NotEmpty(t, current)
	})

	t.Run("memory survives every generation", func(t *testing.T) {
		svc := NewService(nil, DefaultPolicy(), []string{"default", "large"}, 6, 1, 0.5, rng, nil, logger)
		current := population
		for round := 0; round < 5; round++ {
			next, err := svc.NextGeneration(current)
			require.NoError(t, err)
			require.NotEmpty(t, next)
			for _, genome := range next {
				if node, ok := genome.Graph.Nodes["node1"]; ok {
					assert.NotEmpty(t, node.Memory, "round %d lost node memory", round)
				}
			}
			current = next
		}
	})
}
