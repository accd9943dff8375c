package domain

// Projection is the result of projecting an observed price vector onto the
// feasible polytope of a ConstraintSet.
type Projection struct {
	Feasible      []float64
	Distance      float64 // L2 distance from the observed vector
	Iterations    int
	Converged     bool
	LowConfidence bool // budget exhausted before convergence
}
