package walk

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Generation is one traversal generation. It owns the shared request
// counters and every walk state created against them.
type Generation struct {
	id         uuid.UUID
	numBuckets int
	numChunks  int
	opts       []Option

	requests RequestCounters
	states   []State
	torn     bool
	logger   *slog.Logger
}

// NewGeneration starts a generation over numBuckets local buckets and
// numChunks remote chunks. opts are applied to every dual-tree state.
func NewGeneration(numBuckets, numChunks int, opts ...Option) *Generation {
	id := uuid.New()
	return &Generation{
		id:         id,
		numBuckets: numBuckets,
		numChunks:  numChunks,
		opts:       opts,
		logger:     slog.Default().With("generation", id.String()),
	}
}

// ID returns the generation identifier.
func (g *Generation) ID() uuid.UUID { return g.id }

// Requests returns the counters shared by the generation's walks.
func (g *Generation) Requests() *RequestCounters { return &g.requests }

// States returns every state created in this generation.
func (g *Generation) States() []State { return g.states }

// NewLocal creates the local walk. The local tree has a single chunk.
func (g *Generation) NewLocal() *DualTreeWalkState {
	s := NewDualTreeWalkState(KindLocal, &g.requests, g.numBuckets, 1, g.opts...)
	g.add(s)
	return s
}

// NewRemote creates a remote walk over every chunk.
func (g *Generation) NewRemote(resume bool) *DualTreeWalkState {
	kind := KindRemoteNoResume
	if resume {
		kind = KindRemoteResume
	}
	s := NewDualTreeWalkState(kind, &g.requests, g.numBuckets, g.numChunks, g.opts...)
	g.add(s)
	return s
}

// NewBatchBuffer creates an offload context for a walk of the given kind.
// It tracks no chunks; drivers alternate two of these per walk so that one
// accumulates while the other's request is in flight.
func (g *Generation) NewBatchBuffer(kind Kind, cfg OffloadConfig) *DualTreeWalkState {
	opts := append(append([]Option{}, g.opts...), WithOffload(cfg))
	s := NewDualTreeWalkState(kind, &g.requests, g.numBuckets, 0, opts...)
	g.add(s)
	return s
}

// NewPrefetch creates a counters-only prefetch walk.
func (g *Generation) NewPrefetch() *NullState {
	s := NewNullState(KindPrefetch, &g.requests)
	g.add(s)
	return s
}

func (g *Generation) add(s State) {
	invariant(!g.torn, "walk created after generation %s was torn down", g.id)
	g.states = append(g.states, s)
}

// Teardown releases the generation. It is rejected while any request is
// outstanding.
func (g *Generation) Teardown() error {
	if g.torn {
		return nil
	}
	if err := g.requests.Teardown(); err != nil {
		g.logger.Warn("teardown rejected", "requests", &g.requests)
		return fmt.Errorf("generation %s: %w", g.id, err)
	}
	for _, s := range g.states {
		if d, ok := s.(*DualTreeWalkState); ok {
			d.Free()
		}
	}
	g.torn = true
	g.logger.Debug("generation torn down", "walks", len(g.states))
	return nil
}
