// Package sim provides reference collaborators for the walk engine: a
// synthetic particle world, a simple spatial tree, a simulated remote cache
// and a simulated offload executor.
package sim

import (
	"math/rand"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/treewalk/components"
	"github.com/pthm-cable/treewalk/config"
)

// Particle is a flat copy of a particle used by the tree.
type Particle struct {
	Pos    r3.Vec
	Mass   float64
	Active bool
	Entity ecs.Entity
}

// World owns the particles of one process and of the remote chunks it
// walks against.
type World struct {
	world *ecs.World
	rng   *rand.Rand

	particleMapper *ecs.Map4[
		components.Position,
		components.Mass,
		components.Activity,
		components.Owner,
	]
	particleFilter *ecs.Filter4[
		components.Position,
		components.Mass,
		components.Activity,
		components.Owner,
	]

	boxSize float64
	chunks  int
}

// NewWorld spawns cfg.Particles particles in the box, clustered by
// cfg.Clustering. Particles beyond the local slab belong to one of chunks
// remote chunks.
func NewWorld(cfg config.WorldConfig, chunks int, rng *rand.Rand) *World {
	world := ecs.NewWorld()

	w := &World{
		world: world,
		rng:   rng,
		particleMapper: ecs.NewMap4[
			components.Position,
			components.Mass,
			components.Activity,
			components.Owner,
		](world),
		particleFilter: ecs.NewFilter4[
			components.Position,
			components.Mass,
			components.Activity,
			components.Owner,
		](world),
		boxSize: cfg.BoxSize,
		chunks:  chunks,
	}

	field := newDensityField(rng, cfg.ClusterScale, cfg.Clustering)
	split := (1 - cfg.RemoteFrac) * cfg.BoxSize
	for i := 0; i < cfg.Particles; i++ {
		v := field.sample(rng, cfg.BoxSize)
		pos := components.Position{X: v.X, Y: v.Y, Z: v.Z}
		mass := components.Mass{Value: cfg.ParticleMass}
		act := components.Activity{Active: rng.Float64() < cfg.ActiveFrac}
		own := components.Owner{Chunk: -1}
		if pos.X >= split {
			own.Remote = true
			own.Chunk = w.chunkOf(pos.X, split)
		}
		w.particleMapper.NewEntity(&pos, &mass, &act, &own)
	}

	return w
}

func (w *World) chunkOf(x, split float64) int {
	width := w.boxSize - split
	if width <= 0 {
		return 0
	}
	c := int((x - split) / width * float64(w.chunks))
	if c >= w.chunks {
		c = w.chunks - 1
	}
	return c
}

// BoxSize returns the periodic box edge length.
func (w *World) BoxSize() float64 {
	return w.boxSize
}

// Chunks returns the number of remote chunks.
func (w *World) Chunks() int {
	return w.chunks
}

// Local returns the particles owned by this process.
func (w *World) Local() []Particle {
	return w.collect(func(o *components.Owner) bool { return !o.Remote })
}

// Remote returns the particles of remote chunk c.
func (w *World) Remote(c int) []Particle {
	return w.collect(func(o *components.Owner) bool { return o.Remote && o.Chunk == c })
}

func (w *World) collect(keep func(*components.Owner) bool) []Particle {
	var out []Particle
	query := w.particleFilter.Query()
	for query.Next() {
		pos, mass, act, own := query.Get()
		if !keep(own) {
			continue
		}
		out = append(out, Particle{
			Pos:    r3.Vec{X: pos.X, Y: pos.Y, Z: pos.Z},
			Mass:   mass.Value,
			Active: act.Active,
			Entity: query.Entity(),
		})
	}
	return out
}

// Replicas returns the periodic image shifts. Index 0 is always the
// unshifted box.
func Replicas(boxSize float64, periodic bool, n int) []r3.Vec {
	shifts := []r3.Vec{{}}
	if !periodic {
		return shifts
	}
	for x := -n; x <= n; x++ {
		for y := -n; y <= n; y++ {
			for z := -n; z <= n; z++ {
				if x == 0 && y == 0 && z == 0 {
					continue
				}
				shifts = append(shifts, r3.Vec{
					X: float64(x) * boxSize,
					Y: float64(y) * boxSize,
					Z: float64(z) * boxSize,
				})
			}
		}
	}
	return shifts
}
