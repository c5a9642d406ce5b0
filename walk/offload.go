package walk

import (
	"slices"
	"time"

	"github.com/pthm-cable/treewalk/tree"
)

// BatchKind names one of the three offload batches.
type BatchKind uint8

const (
	BatchNodes BatchKind = iota
	BatchLocal
	BatchRemote
)

func (k BatchKind) String() string {
	switch k {
	case BatchNodes:
		return "nodes"
	case BatchLocal:
		return "local_parts"
	case BatchRemote:
		return "remote_parts"
	default:
		return "unknown"
	}
}

// BatchObserver is told how long each request took to assemble. It only
// observes; thresholds are changed through the setters on Offload.
type BatchObserver interface {
	BatchBuilt(kind BatchKind, items int, elapsed time.Duration)
}

// OffloadConfig configures the batching capability.
type OffloadConfig struct {
	NodeThreshold int
	PartThreshold int
	ReserveHint   int
	Observer      BatchObserver
}

// Offload accumulates accepted interactions into flat batches.
type Offload struct {
	nodeThreshold int
	partThreshold int
	observer      BatchObserver

	Moments         InteractionBatch[tree.Moments]
	LocalParticles  InteractionBatch[tree.LocalPart]
	RemoteParticles InteractionBatch[tree.RemotePart]

	// Buckets whose target particles go into the next local or remote
	// particle request.
	localMarks  markSet
	remoteMarks markSet
}

type markSet struct {
	marked []bool
	order  []int
}

func newMarkSet(numBuckets int) markSet {
	return markSet{marked: make([]bool, numBuckets)}
}

func (m *markSet) mark(bucket int) bool {
	invariant(bucket >= 0 && bucket < len(m.marked), "bucket %d out of range [0,%d)", bucket, len(m.marked))
	if m.marked[bucket] {
		return false
	}
	m.marked[bucket] = true
	m.order = append(m.order, bucket)
	return true
}

func (m *markSet) clear() {
	for _, b := range m.order {
		m.marked[b] = false
	}
	m.order = m.order[:0]
}

// sorted returns the marked buckets in bucket order.
func (m *markSet) sorted() []int {
	out := slices.Clone(m.order)
	slices.Sort(out)
	return out
}

func newOffload(cfg OffloadConfig, numBuckets int) *Offload {
	o := &Offload{
		nodeThreshold: cfg.NodeThreshold,
		partThreshold: cfg.PartThreshold,
		observer:      cfg.Observer,
		localMarks:    newMarkSet(numBuckets),
		remoteMarks:   newMarkSet(numBuckets),
	}
	o.Moments.Init(numBuckets, cfg.ReserveHint)
	o.LocalParticles.Init(numBuckets, cfg.ReserveHint)
	o.RemoteParticles.Init(numBuckets, cfg.ReserveHint)
	return o
}

// NodeThreshold returns the node batch threshold.
func (o *Offload) NodeThreshold() int { return o.nodeThreshold }

// PartThreshold returns the particle batch threshold.
func (o *Offload) PartThreshold() int { return o.partThreshold }

// SetNodeThreshold changes the node batch threshold.
func (o *Offload) SetNodeThreshold(t int) {
	invariant(t > 0, "node threshold must be positive, got %d", t)
	o.nodeThreshold = t
}

// SetPartThreshold changes the particle batch threshold.
func (o *Offload) SetPartThreshold(t int) {
	invariant(t > 0, "part threshold must be positive, got %d", t)
	o.partThreshold = t
}

// NodeOffloadReady reports whether the node batch reached its threshold.
func (o *Offload) NodeOffloadReady() bool {
	return o.Moments.Total >= o.nodeThreshold
}

// LocalPartOffloadReady reports whether the local particle batch reached
// its threshold.
func (o *Offload) LocalPartOffloadReady() bool {
	return o.LocalParticles.Total >= o.partThreshold
}

// RemotePartOffloadReady reports whether the remote particle batch reached
// its threshold.
func (o *Offload) RemotePartOffloadReady() bool {
	return o.RemoteParticles.Total >= o.partThreshold
}

func (o *Offload) marks(kind BatchKind) *markSet {
	switch kind {
	case BatchLocal:
		return &o.localMarks
	case BatchRemote:
		return &o.remoteMarks
	}
	invariant(false, "%s batch has no bucket marks", kind)
	return nil
}

// MarkBucket includes bucket's target particles in the next request of the
// given particle batch. It returns false if the bucket is already included,
// so a revisited bucket is sent once.
func (o *Offload) MarkBucket(kind BatchKind, bucket int) bool {
	return o.marks(kind).mark(bucket)
}

// Marked returns the buckets marked for kind in marking order.
func (o *Offload) Marked(kind BatchKind) []int {
	return o.marks(kind).order
}

// ClearMarks unmarks every bucket of kind.
func (o *Offload) ClearMarks(kind BatchKind) {
	o.marks(kind).clear()
}

// FlushNodes builds the node request and resets the node batch.
func (o *Offload) FlushNodes(meta tree.Metadata, active bool) Request[tree.Moments] {
	return flush(o, &o.Moments, BatchNodes, meta, active, nil)
}

// FlushLocal builds the local particle request over the marked buckets,
// resets the batch and clears its marks.
func (o *Offload) FlushLocal(meta tree.Metadata, active bool) Request[tree.LocalPart] {
	req := flush(o, &o.LocalParticles, BatchLocal, meta, active, &o.localMarks)
	o.localMarks.clear()
	return req
}

// FlushRemote builds the remote particle request over the marked buckets,
// resets the batch and clears its marks.
func (o *Offload) FlushRemote(meta tree.Metadata, active bool) Request[tree.RemotePart] {
	req := flush(o, &o.RemoteParticles, BatchRemote, meta, active, &o.remoteMarks)
	o.remoteMarks.clear()
	return req
}

// flush builds b's request. With marks, only marked buckets are included
// and an item in an unmarked bucket is an invariant violation.
func flush[T any](o *Offload, b *InteractionBatch[T], kind BatchKind, meta tree.Metadata, active bool, marks *markSet) Request[T] {
	build := func() Request[T] {
		if marks == nil {
			return b.BuildOffloadRequest(meta, active)
		}
		return b.BuildOffloadRequestFor(meta, active, marks.sorted())
	}

	if o.observer == nil {
		req := build()
		b.Reset()
		return req
	}

	start := time.Now()
	req := build()
	o.observer.BatchBuilt(kind, len(req.Items), time.Since(start))
	b.Reset()
	return req
}

func (o *Offload) reset() {
	o.Moments.Reset()
	o.LocalParticles.Reset()
	o.RemoteParticles.Reset()
	o.localMarks.clear()
	o.remoteMarks.clear()
}

func (o *Offload) free() {
	o.Moments.Free()
	o.LocalParticles.Free()
	o.RemoteParticles.Free()
	o.localMarks = markSet{}
	o.remoteMarks = markSet{}
}
