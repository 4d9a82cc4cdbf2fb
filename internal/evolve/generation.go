package evolve

import (
	"errors"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"evoflow/engine/internal/graphhash"
	"evoflow/engine/internal/logging"
	"evoflow/engine/internal/telemetry"
	"evoflow/engine/internal/validate"
	"evoflow/engine/pkg/models"
)

// ErrEmptyPopulation is returned when there is nothing to evolve.
var ErrEmptyPopulation = errors.New("population is empty")

// Service evolves a population of genomes into the next generation.
// Every offspring passes three gates before admission: the strict memory
// preservation check (fatal on violation), the structural validator, and
// canonical-hash deduplication against the current population.
type Service struct {
	validator      *validate.Validator
	policy         Policy
	activeModels   []string
	populationSize int
	eliteCount     int
	crossoverRate  float64
	rng            *rand.Rand
	observer       telemetry.Observer
	logger         *logging.Logger
}

// NewService creates a generation Service.
func NewService(validator *validate.Validator, policy Policy, activeModels []string, populationSize, eliteCount int, crossoverRate float64, rng *rand.Rand, observer telemetry.Observer, logger *logging.Logger) *Service {
	if populationSize <= 0 {
		populationSize = 4
	}
	if eliteCount < 0 {
		eliteCount = 0
	}
	if eliteCount > populationSize {
		eliteCount = populationSize
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	if observer == nil {
		observer = telemetry.Noop{}
	}
	return &Service{
		validator:      validator,
		policy:         policy,
		activeModels:   activeModels,
		populationSize: populationSize,
		eliteCount:     eliteCount,
		crossoverRate:  crossoverRate,
		rng:            rng,
		observer:       observer,
		logger:         logger,
	}
}

// Rank sorts a copy of the population best-first: valid genomes before
// invalid ones, then score descending, cost ascending, time ascending.
func Rank(population []*models.Genome) []*models.Genome {
	ranked := append([]*models.Genome(nil), population...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i].Fitness, ranked[j].Fitness
		if a.Valid != b.Valid {
			return a.Valid
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.CostUSD != b.CostUSD {
			return a.CostUSD < b.CostUSD
		}
		return a.TimeSeconds < b.TimeSeconds
	})
	return ranked
}

// NextGeneration produces the next population from the current one. A
// memory preservation violation aborts the whole step; structurally
// invalid or hash-duplicate offspring are discarded and regenerated.
func (s *Service) NextGeneration(population []*models.Genome) ([]*models.Genome, error) {
	if len(population) == 0 {
		return nil, ErrEmptyPopulation
	}

	ranked := Rank(population)

	hashes := make(map[string]bool, len(population))
	for _, genome := range population {
		hashes[graphhash.Hash(&genome.Graph)] = true
	}

	var next []*models.Genome
	for i := 0; i < s.eliteCount && i < len(ranked); i++ {
		// An elite carries forward under a fresh identity. Reusing the
		// parent's id would make the next save overwrite the parent's
		// archived record.
		parent := ranked[i]
		elite := parent.Clone()
		elite.ID = uuid.New().String()
		elite.Generation++
		elite.ParentIDs = []string{parent.ID}
		elite.CreatedAt = time.Now().UTC()
		next = append(next, elite)
	}

	// Bounded attempts so a population that only yields duplicates cannot
	// spin forever.
	maxAttempts := s.populationSize * 10
	for attempts := 0; len(next) < s.populationSize && attempts < maxAttempts; attempts++ {
		offspring, err := s.breed(ranked)
		if err != nil {
			return nil, err
		}

		hash := graphhash.Hash(&offspring.Graph)
		if hashes[hash] {
			// Structurally identical to an existing member: a no-op
			// generation, not worth admitting.
			continue
		}
		if s.validator != nil {
			if result := s.validator.Validate(&offspring.Graph); !result.IsValid {
				s.logger.Debug("discarding invalid offspring", "errors", len(result.Errors))
				continue
			}
		}
		hashes[hash] = true
		next = append(next, offspring)
	}

	s.observer.Emit(telemetry.EventGeneration, map[string]any{
		"population": len(next), "elites": s.eliteCount,
	})
	return next, nil
}

// breed creates one offspring by crossover or mutation and runs the
// strict memory gate on it.
func (s *Service) breed(ranked []*models.Genome) (*models.Genome, error) {
	parent1 := s.tournament(ranked)

	if len(ranked) > 1 && s.rng.Float64() < s.crossoverRate {
		if parent2 := s.distinctPartner(ranked, parent1); parent2 != nil {
			draft := CombineDraft(s.rng, parent1.Graph, parent2.Graph)
			offspring := Crossover(parent1, parent2, draft, s.policy)
			if err := EnforceMemoryPreservation("crossover", &offspring.Graph, &parent1.Graph, &parent2.Graph); err != nil {
				return nil, err
			}
			return offspring, nil
		}
		// No distinct partner found; fall through to mutation.
	}

	draft := RandomDraft(s.rng, parent1.Graph, s.activeModels)
	offspring := Mutate(parent1, draft, s.policy)
	if err := EnforceMemoryPreservation("mutation", &offspring.Graph, &parent1.Graph); err != nil {
		return nil, err
	}
	return offspring, nil
}

// distinctPartner looks for a second parent different from the first. The
// draws are bounded so a degenerate population, one holding the same
// genome in every slot, cannot spin the search forever.
func (s *Service) distinctPartner(ranked []*models.Genome, parent1 *models.Genome) *models.Genome {
	for tries := 0; tries < 4*len(ranked); tries++ {
		if p := s.tournament(ranked); p != parent1 {
			return p
		}
	}
	return nil
}

// tournament picks the better of two random members.
func (s *Service) tournament(ranked []*models.Genome) *models.Genome {
	i := s.rng.Intn(len(ranked))
	j := s.rng.Intn(len(ranked))
	if i < j {
		return ranked[i]
	}
	return ranked[j]
}
