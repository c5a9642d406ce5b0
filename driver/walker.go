package driver

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/treewalk/sim"
	"github.com/pthm-cable/treewalk/telemetry"
	"github.com/pthm-cable/treewalk/tree"
	"github.com/pthm-cable/treewalk/walk"
)

// walker drives one walk state over its chunks. It runs on a single
// goroutine; arrivals from the cache reach it over notify.
type walker struct {
	d     *Driver
	cache *sim.Cache
	s     *walk.DualTreeWalkState

	kind   walk.Kind
	chunks []int // chunks walked in order; the local walk uses chunk 0

	batches  *batchPair // nil without offload
	consumed []bool
	notify   chan sim.Arrival

	sum telemetry.WalkSummary
}

func (d *Driver) newWalker(gen *walk.Generation, cache *sim.Cache, s *walk.DualTreeWalkState, kind walk.Kind) *walker {
	w := &walker{
		d:        d,
		cache:    cache,
		s:        s,
		kind:     kind,
		chunks:   []int{0},
		consumed: make([]bool, d.local.NumBuckets()),
		notify:   make(chan sim.Arrival, 64),
	}
	w.sum.Walk = kind.String()
	w.sum.Buckets = s.NumBuckets()
	w.sum.Chunks = s.NumChunks()
	if d.cfg.Offload.Enabled {
		w.batches = d.newBatchPair(gen, kind)
	}
	return w
}

func (w *walker) remote() bool {
	return w.kind != walk.KindLocal
}

// source returns the tree walked for chunk.
func (w *walker) source(chunk int) *sim.Tree {
	if w.remote() {
		return w.d.remote[chunk]
	}
	return w.d.local
}

func (w *walker) run(ctx context.Context) error {
	start := time.Now()
	s := w.s
	if w.kind == walk.KindLocal {
		s.AddParticlesPending(len(w.d.local.Particles))
	}
	if w.kind == walk.KindRemoteNoResume {
		s.AddPendingChunks(len(w.chunks))
	}

	for _, chunk := range w.chunks {
		if err := w.walkChunk(ctx, chunk); err != nil {
			return err
		}
		if w.kind == walk.KindRemoteNoResume {
			s.AddPendingChunks(-1)
		}
	}
	if w.batches != nil {
		if err := w.batches.drain(ctx); err != nil {
			return err
		}
		w.sum.Flushes = w.batches.flushes
		w.sum.Offloaded = w.batches.items
		w.sum.NodeThreshold, w.sum.PartThreshold = w.batches.thresholds()
	}

	// The combiner flush runs once all chunks are done.
	s.BeginCompletion()
	s.FinishCompletion()

	w.sum.SetDuration(time.Since(start))
	return nil
}

func (w *walker) walkChunk(ctx context.Context, chunk int) error {
	s := w.s
	src := w.source(chunk)
	for i := range w.consumed {
		w.consumed[i] = false
	}

	roots := make([]walk.OffsetNode, len(w.d.shifts))
	for off := range w.d.shifts {
		roots[off] = walk.OffsetNode{
			Key:    src.Root().Key,
			Level:  0,
			Offset: off,
			Target: w.d.local.Root().Key,
		}
	}

	// Every bucket starts against the same chunk roots, targeted at the
	// local root, so bucket 0 inserts them and its process call classifies
	// the whole checklist. The remaining iterations only advance the
	// cursor past buckets whose roots are already placed and pick up
	// arrivals; per-bucket progress is tracked by consume.
	for b := 0; b < s.NumBuckets(); b++ {
		s.AdvanceBucket(b)
		if s.PlaceRoots(chunk, roots...) {
			w.sum.RootsPlaced++
		}
		if err := w.process(ctx, chunk); err != nil {
			return err
		}
	}

	for !s.Complete(chunk) {
		if err := w.process(ctx, chunk); err != nil {
			return err
		}
		if s.Complete(chunk) {
			break
		}
		if err := w.suspend(ctx, chunk); err != nil {
			return err
		}
		select {
		case a := <-w.notify:
			w.arrive(a)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.ReportComplete(chunk)

	for b := range w.consumed {
		if !w.consumed[b] {
			if err := w.consume(ctx, b); err != nil {
				return err
			}
		}
	}
	return nil
}

// process classifies checklist entries until the checklist is empty,
// picking up any arrivals that are already waiting.
func (w *walker) process(ctx context.Context, chunk int) error {
	for {
		w.poll()
		n, ok := w.s.Pop(chunk)
		if !ok {
			return nil
		}
		if err := w.classify(ctx, chunk, n); err != nil {
			return err
		}
	}
}

func (w *walker) poll() {
	for {
		select {
		case a := <-w.notify:
			w.arrive(a)
		default:
			return
		}
	}
}

func (w *walker) arrive(a sim.Arrival) {
	switch a.Kind {
	case sim.FetchNode:
		w.s.Requests.SatisfyChunk()
	case sim.FetchParticles:
		w.s.Requests.SatisfyBucket()
	}
	w.sum.Resumed += w.s.Resume(a.Chunk, a.Key)
}

// suspend records the shallowest node the remaining work hangs below and
// hands every bucket outside it to the kernel.
func (w *walker) suspend(ctx context.Context, chunk int) error {
	s := w.s
	und := s.Undecided(chunk)
	if len(und) == 0 {
		return nil
	}
	lca := und[0].Target
	for _, n := range und[1:] {
		lca = tree.CommonAncestor(lca, n.Target)
	}
	s.ResetLowest()
	s.RecordLowest(lca, lca.Level())

	lowest, _ := s.Lowest()
	for b, n := range w.d.local.Buckets {
		if w.consumed[b] || lowest.Contains(n.Key) {
			continue
		}
		if err := w.consume(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) classify(ctx context.Context, chunk int, n walk.OffsetNode) error {
	s := w.s
	srcTree := w.source(chunk)
	src, ok := srcTree.Node(n.Key)
	if !ok {
		return fmt.Errorf("chunk %d: source node %d not in tree", chunk, n.Key)
	}
	tgt, ok := w.d.local.Node(n.Target)
	if !ok {
		return fmt.Errorf("chunk %d: target node %d not in local tree", chunk, n.Target)
	}
	if src.Moments.Mass == 0 || tgt.End == tgt.First {
		return nil
	}

	shift := w.d.shifts[n.Offset]
	center := r3.Add(src.Moments.Center, shift)
	dist := r3.Norm(r3.Sub(center, tgt.Center()))
	if src.Moments.Radius+tgt.HalfDiagonal() < w.d.cfg.Walk.Theta*dist {
		w.d.local.BucketsUnder(tgt, func(b int) {
			s.AcceptNode(b, src.Moments, n.Offset)
			w.sum.Nodes++
		})
		return nil
	}

	if src.Leaf() && tgt.Leaf() {
		if w.remote() && !w.cache.Resident(chunk, src.Key) {
			return w.fetch(ctx, chunk, n, sim.FetchParticles)
		}
		for i := src.First; i < src.End; i++ {
			if w.remote() {
				p := srcTree.Particles[i]
				s.AcceptRemote(tgt.Bucket, tree.RemotePart{Pos: p.Pos, Mass: p.Mass}, n.Offset)
				w.sum.RemoteParts++
			} else {
				s.AcceptLocal(tgt.Bucket, tree.LocalPart{Index: i}, n.Offset)
				w.sum.LocalParts++
			}
		}
		return nil
	}

	if !tgt.Leaf() && (src.Leaf() || tgt.HalfDiagonal() >= src.Moments.Radius) {
		for _, c := range w.d.local.Children(tgt) {
			s.Push(chunk, walk.OffsetNode{Key: n.Key, Level: n.Level, Offset: n.Offset, Target: c.Key})
		}
		w.sum.Opened++
		return nil
	}

	if w.remote() && !w.cache.Resident(chunk, src.Key) {
		return w.fetch(ctx, chunk, n, sim.FetchNode)
	}
	for _, c := range srcTree.Children(src) {
		s.Push(chunk, walk.OffsetNode{Key: c.Key, Level: c.Level, Offset: n.Offset, Target: n.Target})
	}
	w.sum.Opened++
	return nil
}

// fetch parks n and asks the cache for its data. Only a newly issued fetch
// is counted, so each arrival satisfies exactly one request.
func (w *walker) fetch(ctx context.Context, chunk int, n walk.OffsetNode, kind sim.FetchKind) error {
	if err := w.s.Defer(chunk, n); err != nil {
		return err
	}
	w.sum.Deferred++
	if !w.cache.Request(ctx, chunk, n.Key, kind, w.notify) {
		return nil
	}
	switch kind {
	case sim.FetchNode:
		w.s.Requests.IssueChunk()
	case sim.FetchParticles:
		w.s.Requests.IssueBucket()
	}
	return nil
}

// consume hands bucket b's accepted work to the kernel, either directly or
// through the offload batches.
func (w *walker) consume(ctx context.Context, b int) error {
	s := w.s
	if w.batches != nil {
		if err := w.batches.collect(ctx, s, b); err != nil {
			return err
		}
	}
	s.ConsumeBucket(b)
	w.consumed[b] = true
	if w.kind == walk.KindLocal {
		s.AddParticlesPending(-w.d.local.BucketRange(b).Size)
	}
	return nil
}
