package walk

import (
	"fmt"

	"github.com/pthm-cable/treewalk/tree"
)

// OffsetNode is a checklist entry: a source node seen through one periodic
// image, to be classified against the Target bucket group.
type OffsetNode struct {
	Key    tree.Key
	Level  int
	Offset int
	Target tree.Key
}

// Accepted is an accepted interaction with its periodic offset.
type Accepted[T any] struct {
	Item   T
	Offset int
}

// Interactions is the accepted work recorded for one bucket, in discovery
// order.
type Interactions struct {
	Nodes  []Accepted[tree.Moments]
	Local  []Accepted[tree.LocalPart]
	Remote []Accepted[tree.RemotePart]
}

// Len returns the total number of recorded interactions.
func (in Interactions) Len() int {
	return len(in.Nodes) + len(in.Local) + len(in.Remote)
}

// DualTreeWalkState is the full bookkeeping of one concurrent walk.
type DualTreeWalkState struct {
	WalkState

	resume bool

	checklists [][]OffsetNode
	undecided  [][]OffsetNode

	nodes  [][]Accepted[tree.Moments]
	local  [][]Accepted[tree.LocalPart]
	remote [][]Accepted[tree.RemotePart]

	// placedRoots[c] is set once chunk c's root and replicas are on the
	// checklist.
	placedRoots []bool
	reported    []bool

	lowest tree.Key
	level  int

	offload *Offload
}

// Option configures a DualTreeWalkState at construction.
type Option func(*dualTreeOptions)

type dualTreeOptions struct {
	reserve int
	offload *OffloadConfig
}

// WithReserve pre-sizes every per-bucket interaction list.
func WithReserve(n int) Option {
	return func(o *dualTreeOptions) { o.reserve = n }
}

// WithOffload composes the batched offload capability into the state.
func WithOffload(cfg OffloadConfig) Option {
	return func(o *dualTreeOptions) { o.offload = &cfg }
}

// NewDualTreeWalkState creates a state for a walk over numBuckets buckets
// and numChunks chunks. Only KindRemoteResume walks may defer.
func NewDualTreeWalkState(kind Kind, requests *RequestCounters, numBuckets, numChunks int, opts ...Option) *DualTreeWalkState {
	invariant(numBuckets >= 0 && numChunks >= 0, "negative sizes: buckets=%d chunks=%d", numBuckets, numChunks)

	var o dualTreeOptions
	for _, opt := range opts {
		opt(&o)
	}

	s := &DualTreeWalkState{
		WalkState:   newWalkState(kind, requests),
		resume:      kind == KindRemoteResume,
		checklists:  make([][]OffsetNode, numChunks),
		undecided:   make([][]OffsetNode, numChunks),
		nodes:       make([][]Accepted[tree.Moments], numBuckets),
		local:       make([][]Accepted[tree.LocalPart], numBuckets),
		remote:      make([][]Accepted[tree.RemotePart], numBuckets),
		placedRoots: make([]bool, numChunks),
		reported:    make([]bool, numChunks),
		level:       -1,
	}
	if o.reserve > 0 {
		for i := 0; i < numBuckets; i++ {
			s.nodes[i] = make([]Accepted[tree.Moments], 0, o.reserve)
			s.local[i] = make([]Accepted[tree.LocalPart], 0, o.reserve)
			s.remote[i] = make([]Accepted[tree.RemotePart], 0, o.reserve)
		}
	}
	if o.offload != nil {
		s.offload = newOffload(*o.offload, numBuckets)
	}
	return s
}

// Capability implements State.
func (*DualTreeWalkState) Capability() Capability { return CapDualTree }

// Resumable reports whether deferred nodes survive suspension.
func (s *DualTreeWalkState) Resumable() bool {
	return s.resume
}

// Offload returns the batching capability, or nil when none is configured.
func (s *DualTreeWalkState) Offload() *Offload {
	return s.offload
}

// NumBuckets returns the number of buckets tracked.
func (s *DualTreeWalkState) NumBuckets() int {
	return len(s.nodes)
}

// NumChunks returns the number of chunks tracked.
func (s *DualTreeWalkState) NumChunks() int {
	return len(s.checklists)
}

func (s *DualTreeWalkState) checkChunk(chunk int) {
	invariant(chunk >= 0 && chunk < len(s.checklists), "chunk %d out of range [0,%d)", chunk, len(s.checklists))
}

func (s *DualTreeWalkState) checkBucket(bucket int) {
	invariant(bucket >= 0 && bucket < len(s.nodes), "bucket %d out of range [0,%d)", bucket, len(s.nodes))
}

// PlaceRoots puts the chunk root and its replicas on the chunk's checklist
// the first time it is called for chunk. Later calls do nothing and return
// false.
func (s *DualTreeWalkState) PlaceRoots(chunk int, roots ...OffsetNode) bool {
	s.checkChunk(chunk)
	if s.placedRoots[chunk] {
		return false
	}
	s.placedRoots[chunk] = true
	s.checklists[chunk] = append(s.checklists[chunk], roots...)
	return true
}

// RootsPlaced reports whether chunk's roots were inserted.
func (s *DualTreeWalkState) RootsPlaced(chunk int) bool {
	s.checkChunk(chunk)
	return s.placedRoots[chunk]
}

// Push adds n to chunk's checklist.
func (s *DualTreeWalkState) Push(chunk int, n OffsetNode) {
	s.checkChunk(chunk)
	s.checklists[chunk] = append(s.checklists[chunk], n)
}

// Pop removes the most recently pushed checklist entry of chunk.
func (s *DualTreeWalkState) Pop(chunk int) (OffsetNode, bool) {
	s.checkChunk(chunk)
	list := s.checklists[chunk]
	if len(list) == 0 {
		return OffsetNode{}, false
	}
	n := list[len(list)-1]
	s.checklists[chunk] = list[:len(list)-1]
	return n, true
}

// Checklist returns chunk's pending entries. The slice is owned by s.
func (s *DualTreeWalkState) Checklist(chunk int) []OffsetNode {
	s.checkChunk(chunk)
	return s.checklists[chunk]
}

// Undecided returns chunk's deferred entries. The slice is owned by s.
func (s *DualTreeWalkState) Undecided(chunk int) []OffsetNode {
	s.checkChunk(chunk)
	return s.undecided[chunk]
}

// Defer parks n until its data becomes resident. One-shot walks return
// ErrUnexpectedDefer and record nothing.
func (s *DualTreeWalkState) Defer(chunk int, n OffsetNode) error {
	s.checkChunk(chunk)
	if !s.resume {
		return fmt.Errorf("%s walk, chunk %d, node %d: %w", s.kind, chunk, n.Key, ErrUnexpectedDefer)
	}
	s.undecided[chunk] = append(s.undecided[chunk], n)
	return nil
}

// Resume moves every undecided entry of chunk with the given key back onto
// the checklist and returns how many moved.
func (s *DualTreeWalkState) Resume(chunk int, key tree.Key) int {
	s.checkChunk(chunk)
	kept := s.undecided[chunk][:0]
	moved := 0
	for _, n := range s.undecided[chunk] {
		if n.Key == key {
			s.checklists[chunk] = append(s.checklists[chunk], n)
			moved++
			continue
		}
		kept = append(kept, n)
	}
	s.undecided[chunk] = kept
	return moved
}

// ResumeAll moves every undecided entry of chunk back onto the checklist.
func (s *DualTreeWalkState) ResumeAll(chunk int) int {
	s.checkChunk(chunk)
	n := len(s.undecided[chunk])
	s.checklists[chunk] = append(s.checklists[chunk], s.undecided[chunk]...)
	s.undecided[chunk] = s.undecided[chunk][:0]
	return n
}

// AcceptNode records a node interaction for bucket.
func (s *DualTreeWalkState) AcceptNode(bucket int, m tree.Moments, offset int) {
	s.checkBucket(bucket)
	if s.offload != nil {
		s.offload.Moments.Append(bucket, m, offset)
		return
	}
	s.nodes[bucket] = append(s.nodes[bucket], Accepted[tree.Moments]{Item: m, Offset: offset})
}

// AcceptLocal records a local particle interaction for bucket.
func (s *DualTreeWalkState) AcceptLocal(bucket int, p tree.LocalPart, offset int) {
	s.checkBucket(bucket)
	if s.offload != nil {
		s.offload.LocalParticles.Append(bucket, p, offset)
		s.offload.MarkBucket(BatchLocal, bucket)
		return
	}
	s.local[bucket] = append(s.local[bucket], Accepted[tree.LocalPart]{Item: p, Offset: offset})
}

// AcceptRemote records a remote particle interaction for bucket.
func (s *DualTreeWalkState) AcceptRemote(bucket int, p tree.RemotePart, offset int) {
	s.checkBucket(bucket)
	if s.offload != nil {
		s.offload.RemoteParticles.Append(bucket, p, offset)
		s.offload.MarkBucket(BatchRemote, bucket)
		return
	}
	s.remote[bucket] = append(s.remote[bucket], Accepted[tree.RemotePart]{Item: p, Offset: offset})
}

// Interactions returns bucket's recorded interactions. When offload is
// configured the lists stay empty and the batches hold the work instead.
func (s *DualTreeWalkState) Interactions(bucket int) Interactions {
	s.checkBucket(bucket)
	return Interactions{
		Nodes:  s.nodes[bucket],
		Local:  s.local[bucket],
		Remote: s.remote[bucket],
	}
}

// ConsumeBucket empties bucket's lists once the kernel has used them.
func (s *DualTreeWalkState) ConsumeBucket(bucket int) {
	s.checkBucket(bucket)
	s.nodes[bucket] = s.nodes[bucket][:0]
	s.local[bucket] = s.local[bucket][:0]
	s.remote[bucket] = s.remote[bucket][:0]
}

// Complete reports whether chunk has nothing left to classify.
func (s *DualTreeWalkState) Complete(chunk int) bool {
	s.checkChunk(chunk)
	return len(s.checklists[chunk]) == 0 && len(s.undecided[chunk]) == 0
}

// ReportComplete returns true the first time chunk is observed complete
// and false on every later call.
func (s *DualTreeWalkState) ReportComplete(chunk int) bool {
	if !s.Complete(chunk) || s.reported[chunk] {
		return false
	}
	s.reported[chunk] = true
	return true
}

// RecordLowest offers a node reached by an incomplete bucket; the
// shallowest one is kept.
func (s *DualTreeWalkState) RecordLowest(key tree.Key, level int) {
	invariant(level >= 0, "negative level %d for node %d", level, key)
	if s.level < 0 || level < s.level {
		s.lowest = key
		s.level = level
	}
}

// Lowest returns the shallowest recorded node and its level, or
// (NoKey, -1) when nothing was recorded.
func (s *DualTreeWalkState) Lowest() (tree.Key, int) {
	return s.lowest, s.level
}

// ResetLowest forgets the recorded node.
func (s *DualTreeWalkState) ResetLowest() {
	s.lowest = tree.NoKey
	s.level = -1
}

// Reset prepares the state for the next generation, keeping storage.
func (s *DualTreeWalkState) Reset() {
	s.WalkState.reset()
	for i := range s.checklists {
		s.checklists[i] = s.checklists[i][:0]
		s.undecided[i] = s.undecided[i][:0]
		s.placedRoots[i] = false
		s.reported[i] = false
	}
	for i := range s.nodes {
		s.ConsumeBucket(i)
	}
	s.ResetLowest()
	if s.offload != nil {
		s.offload.reset()
	}
}

// Free releases all storage.
func (s *DualTreeWalkState) Free() {
	s.checklists = nil
	s.undecided = nil
	s.nodes = nil
	s.local = nil
	s.remote = nil
	s.placedRoots = nil
	s.reported = nil
	if s.offload != nil {
		s.offload.free()
	}
}
