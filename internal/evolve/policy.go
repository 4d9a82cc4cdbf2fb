package evolve

// Precedence names which parent wins key conflicts during crossover
// memory merges.
type Precedence string

const (
	PrecedenceParent1 Precedence = "parent1"
	PrecedenceParent2 Precedence = "parent2"
)

// Policy carries the operator behaviors that are policy choices rather
// than derived rules: the crossover tie-break and whether genuinely new
// nodes inherit any memory.
type Policy struct {
	CrossoverPrecedence  Precedence
	InheritNewNodeMemory bool
}

// DefaultPolicy is parent1 winning conflicts and new nodes starting with
// empty memory.
func DefaultPolicy() Policy {
	return Policy{
		CrossoverPrecedence:  PrecedenceParent1,
		InheritNewNodeMemory: false,
	}
}
