package components

// Position represents a particle's position in the periodic box.
type Position struct {
	X, Y, Z float64
}
