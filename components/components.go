// Package components defines ECS components for the particle world.
package components

// Mass is a particle's gravitating mass.
type Mass struct {
	Value float64
}

// Activity marks whether a particle is on the rung being integrated.
type Activity struct {
	Active bool
}

// Owner records which process owns a particle.
type Owner struct {
	Remote bool
	Chunk  int // Remote chunk index, -1 for local particles
}
