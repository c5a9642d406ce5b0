// Package walk holds the per-walk bookkeeping of a resumable dual-tree
// gravity walk: shared progress counters, checklists and undecided lists,
// accepted-interaction lists and the optional batched offload capability.
//
// Walk states carry no locks. Exactly one goroutine drives a state at a
// time; only RequestCounters is shared between walks.
package walk

// Kind is the walk mode a state was created for.
type Kind uint8

const (
	KindLocal Kind = iota
	KindRemoteNoResume
	KindRemoteResume
	KindPrefetch
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindRemoteNoResume:
		return "remote"
	case KindRemoteResume:
		return "remote_resume"
	case KindPrefetch:
		return "prefetch"
	default:
		return "unknown"
	}
}

// Capability is the bookkeeping a state supports. It is fixed at
// construction.
type Capability uint8

const (
	// CapCounters exposes only the base counters.
	CapCounters Capability = iota
	// CapDualTree adds checklists, undecided lists and interaction lists.
	CapDualTree
)

// State is implemented by every walk state variant.
type State interface {
	Walk() *WalkState
	Capability() Capability
}

// WalkState holds the progress counters common to every walk.
type WalkState struct {
	kind Kind

	// PendingCompletion is true while a combiner-cache flush for this walk
	// is outstanding.
	PendingCompletion bool
	completed         bool

	// CurrentBucket is the last bucket the walk started on, -1 before start.
	// The prefetch pass reads it to pick the next subtree.
	CurrentBucket int

	// LocalParticlesPending is used by local walks only.
	LocalParticlesPending int

	// PendingChunks is used by non-resumable remote walks only.
	PendingChunks int

	// Requests is owned by the generation, shared by all its walks.
	Requests *RequestCounters
}

func newWalkState(kind Kind, requests *RequestCounters) WalkState {
	invariant(requests != nil, "walk state without request counters")
	return WalkState{
		kind:          kind,
		CurrentBucket: -1,
		Requests:      requests,
	}
}

// Kind returns the walk mode.
func (w *WalkState) Kind() Kind {
	return w.kind
}

// Walk returns w itself so that embedding types satisfy State.
func (w *WalkState) Walk() *WalkState {
	return w
}

// AdvanceBucket moves the bucket cursor to b.
func (w *WalkState) AdvanceBucket(b int) {
	invariant(b >= w.CurrentBucket, "bucket cursor moved backwards: %d -> %d", w.CurrentBucket, b)
	w.CurrentBucket = b
}

// BeginCompletion marks that the last active bucket finished and a
// combiner-cache flush was issued.
func (w *WalkState) BeginCompletion() {
	invariant(!w.PendingCompletion && !w.completed, "completion started twice (%s walk)", w.kind)
	w.PendingCompletion = true
}

// FinishCompletion clears the pending flag once the flush has landed.
func (w *WalkState) FinishCompletion() {
	invariant(w.PendingCompletion, "completion finished without being started (%s walk)", w.kind)
	w.PendingCompletion = false
	w.completed = true
}

// Completed reports whether the completion flush has landed.
func (w *WalkState) Completed() bool {
	return w.completed
}

// AddParticlesPending adjusts LocalParticlesPending by n and returns the
// new value.
func (w *WalkState) AddParticlesPending(n int) int {
	invariant(w.kind == KindLocal, "particles pending used by %s walk", w.kind)
	w.LocalParticlesPending += n
	invariant(w.LocalParticlesPending >= 0, "particles pending went negative (%d)", w.LocalParticlesPending)
	return w.LocalParticlesPending
}

// AddPendingChunks adjusts PendingChunks by n and returns the new value.
func (w *WalkState) AddPendingChunks(n int) int {
	invariant(w.kind == KindRemoteNoResume, "pending chunks used by %s walk", w.kind)
	w.PendingChunks += n
	invariant(w.PendingChunks >= 0, "pending chunks went negative (%d)", w.PendingChunks)
	return w.PendingChunks
}

func (w *WalkState) reset() {
	w.PendingCompletion = false
	w.completed = false
	w.CurrentBucket = -1
	w.LocalParticlesPending = 0
	w.PendingChunks = 0
}

// NullState carries only the base counters. Prefetch walks use it.
type NullState struct {
	WalkState
}

// NewNullState creates a counters-only state.
func NewNullState(kind Kind, requests *RequestCounters) *NullState {
	return &NullState{WalkState: newWalkState(kind, requests)}
}

// Capability implements State.
func (*NullState) Capability() Capability { return CapCounters }

// ListState is a counters-only state for walks that compute interactions
// immediately instead of recording them.
type ListState struct {
	WalkState
}

// NewListState creates a counters-only list walk state.
func NewListState(kind Kind, requests *RequestCounters) *ListState {
	return &ListState{WalkState: newWalkState(kind, requests)}
}

// Capability implements State.
func (*ListState) Capability() Capability { return CapCounters }

var (
	_ State = (*NullState)(nil)
	_ State = (*ListState)(nil)
	_ State = (*DualTreeWalkState)(nil)
)
