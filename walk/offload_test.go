package walk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/treewalk/tree"
)

type recordingObserver struct {
	kinds []BatchKind
	items []int
}

func (r *recordingObserver) BatchBuilt(kind BatchKind, items int, _ time.Duration) {
	r.kinds = append(r.kinds, kind)
	r.items = append(r.items, items)
}

func TestOffload_ThresholdFlushCycle(t *testing.T) {
	var c RequestCounters
	const buckets = 8
	s := NewDualTreeWalkState(KindLocal, &c, buckets, 1,
		WithOffload(OffloadConfig{NodeThreshold: 1000, PartThreshold: 1000, ReserveHint: 16}))
	o := s.Offload()
	require.NotNil(t, o)

	for i := 0; i < 999; i++ {
		s.AcceptNode(i%buckets, tree.Moments{Key: tree.Key(i + 1)}, 0)
	}
	assert.False(t, o.NodeOffloadReady())

	s.AcceptNode(3, tree.Moments{Key: 1000}, 0)
	assert.True(t, o.NodeOffloadReady(), "count == threshold is ready")

	req := o.FlushNodes(evenMeta(buckets, 16), false)
	assert.Len(t, req.Items, 1000)
	assert.Len(t, req.Buckets, buckets)
	assert.False(t, o.NodeOffloadReady())
	assert.Equal(t, 0, o.Moments.Total)

	// accepted work went to the batch, not the per-bucket lists
	assert.Equal(t, 0, s.Interactions(3).Len())
}

func TestOffload_ReadyBoundaries(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
		count     int
		want      bool
	}{
		{"below", 5, 4, false},
		{"equal", 5, 5, true},
		{"above", 5, 6, true},
		{"empty", 1, 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var c RequestCounters
			s := NewDualTreeWalkState(KindRemoteResume, &c, 2, 1,
				WithOffload(OffloadConfig{NodeThreshold: tc.threshold, PartThreshold: tc.threshold}))
			for i := 0; i < tc.count; i++ {
				s.AcceptNode(0, tree.Moments{}, 0)
				s.AcceptLocal(1, tree.LocalPart{Index: i}, 0)
				s.AcceptRemote(0, tree.RemotePart{}, 0)
			}
			o := s.Offload()
			assert.Equal(t, tc.want, o.NodeOffloadReady())
			assert.Equal(t, tc.want, o.LocalPartOffloadReady())
			assert.Equal(t, tc.want, o.RemotePartOffloadReady())
		})
	}
}

func TestOffload_MarkedBucketsClearedAfterFlush(t *testing.T) {
	var c RequestCounters
	s := NewDualTreeWalkState(KindRemoteResume, &c, 4, 1,
		WithOffload(OffloadConfig{NodeThreshold: 10, PartThreshold: 3}))
	o := s.Offload()

	s.AcceptRemote(2, tree.RemotePart{Mass: 1}, 0)
	s.AcceptRemote(2, tree.RemotePart{Mass: 2}, 0)
	s.AcceptRemote(0, tree.RemotePart{Mass: 3}, 1)

	assert.Equal(t, []int{2, 0}, o.Marked(BatchRemote))
	assert.False(t, o.MarkBucket(BatchRemote, 2), "revisited bucket is not marked twice")

	req := o.FlushRemote(evenMeta(4, 8), true)
	require.Len(t, req.Buckets, 2)
	assert.Equal(t, 0, req.Buckets[0].Bucket, "spans follow bucket order, not marking order")
	assert.Equal(t, 2, req.Buckets[1].Bucket)
	assert.Equal(t, 4, req.Buckets[1].Size)
	assert.Equal(t, 2, req.Buckets[1].ItemCount)
	assert.Empty(t, o.Marked(BatchRemote))
	assert.True(t, o.MarkBucket(BatchRemote, 2))
}

func TestOffload_MarksArePerParticleBatch(t *testing.T) {
	var c RequestCounters
	s := NewDualTreeWalkState(KindRemoteResume, &c, 4, 1,
		WithOffload(OffloadConfig{NodeThreshold: 10, PartThreshold: 10}))
	o := s.Offload()
	meta := evenMeta(4, 8)

	s.AcceptRemote(2, tree.RemotePart{Mass: 1}, 0)
	s.AcceptLocal(0, tree.LocalPart{Index: 4}, 0)
	assert.Equal(t, []int{0}, o.Marked(BatchLocal))
	assert.Equal(t, []int{2}, o.Marked(BatchRemote))

	local := o.FlushLocal(meta, false)
	require.Len(t, local.Buckets, 1)
	assert.Equal(t, 0, local.Buckets[0].Bucket)

	// the remote batch keeps its pending bucket
	assert.Equal(t, 1, o.RemoteParticles.Len(2))
	assert.Equal(t, []int{2}, o.Marked(BatchRemote))
	assert.False(t, o.MarkBucket(BatchRemote, 2))

	remote := o.FlushRemote(meta, false)
	require.Len(t, remote.Buckets, 1)
	assert.Equal(t, 2, remote.Buckets[0].Bucket)
	assert.Len(t, remote.Items, 1)
}

func TestOffload_UnmarkedParticlesRejected(t *testing.T) {
	var c RequestCounters
	s := NewDualTreeWalkState(KindRemoteResume, &c, 4, 1,
		WithOffload(OffloadConfig{NodeThreshold: 10, PartThreshold: 10}))
	o := s.Offload()

	// appended behind the accept path, so the bucket was never marked
	o.RemoteParticles.Append(1, tree.RemotePart{Mass: 1}, 0)

	defer func() {
		_, ok := recover().(InvariantViolation)
		assert.True(t, ok, "expected InvariantViolation")
	}()
	o.FlushRemote(evenMeta(4, 8), false)
}

func TestOffload_NodeBatchHasNoMarks(t *testing.T) {
	var c RequestCounters
	s := NewDualTreeWalkState(KindLocal, &c, 2, 1,
		WithOffload(OffloadConfig{NodeThreshold: 1, PartThreshold: 1}))
	assert.Panics(t, func() { s.Offload().MarkBucket(BatchNodes, 0) })
}

func TestOffload_ObserverAndThresholdSetters(t *testing.T) {
	obs := &recordingObserver{}
	var c RequestCounters
	s := NewDualTreeWalkState(KindLocal, &c, 2, 1,
		WithOffload(OffloadConfig{NodeThreshold: 2, PartThreshold: 2, Observer: obs}))
	o := s.Offload()
	meta := evenMeta(2, 4)

	s.AcceptNode(0, tree.Moments{}, 0)
	s.AcceptLocal(1, tree.LocalPart{}, 0)
	o.FlushNodes(meta, false)
	o.FlushLocal(meta, false)
	o.FlushRemote(meta, false)

	assert.Equal(t, []BatchKind{BatchNodes, BatchLocal, BatchRemote}, obs.kinds)
	assert.Equal(t, []int{1, 1, 0}, obs.items)

	o.SetNodeThreshold(7)
	o.SetPartThreshold(9)
	assert.Equal(t, 7, o.NodeThreshold())
	assert.Equal(t, 9, o.PartThreshold())
	assert.Panics(t, func() { o.SetNodeThreshold(0) })
}
