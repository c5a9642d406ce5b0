package walk

import "github.com/pthm-cable/treewalk/tree"

// InteractionBatch accumulates accepted interactions per bucket until they
// are flattened into one offload request.
type InteractionBatch[T any] struct {
	Items   [][]T
	Offsets [][]int
	Total   int
}

// Init allocates numBuckets inner lists, each reserved to reserveHint.
func (b *InteractionBatch[T]) Init(numBuckets, reserveHint int) {
	invariant(numBuckets >= 0, "negative bucket count %d", numBuckets)
	if reserveHint < 0 {
		reserveHint = 0
	}
	b.Items = make([][]T, numBuckets)
	b.Offsets = make([][]int, numBuckets)
	for i := range b.Items {
		b.Items[i] = make([]T, 0, reserveHint)
		b.Offsets[i] = make([]int, 0, reserveHint)
	}
	b.Total = 0
}

// Reset empties every bucket but keeps the backing storage.
func (b *InteractionBatch[T]) Reset() {
	for i := range b.Items {
		b.Items[i] = b.Items[i][:0]
		b.Offsets[i] = b.Offsets[i][:0]
	}
	b.Total = 0
}

// Free drops all storage. Only used at generation teardown.
func (b *InteractionBatch[T]) Free() {
	b.Items = nil
	b.Offsets = nil
	b.Total = 0
}

// Append adds item with its periodic offset to bucket's list.
func (b *InteractionBatch[T]) Append(bucket int, item T, offset int) {
	invariant(bucket >= 0 && bucket < len(b.Items), "bucket %d out of range [0,%d)", bucket, len(b.Items))
	b.Items[bucket] = append(b.Items[bucket], item)
	b.Offsets[bucket] = append(b.Offsets[bucket], offset)
	b.Total++
}

// Len returns the number of items queued for bucket.
func (b *InteractionBatch[T]) Len(bucket int) int {
	invariant(bucket >= 0 && bucket < len(b.Items), "bucket %d out of range [0,%d)", bucket, len(b.Items))
	return len(b.Items[bucket])
}

// NumBuckets returns the number of bucket lists.
func (b *InteractionBatch[T]) NumBuckets() int {
	return len(b.Items)
}

// Validate panics unless items and offsets have the same shape and Total
// matches their sum.
func (b *InteractionBatch[T]) Validate() {
	invariant(len(b.Items) == len(b.Offsets), "batch has %d item lists but %d offset lists", len(b.Items), len(b.Offsets))
	sum := 0
	for i := range b.Items {
		invariant(len(b.Items[i]) == len(b.Offsets[i]),
			"bucket %d has %d items but %d offsets", i, len(b.Items[i]), len(b.Offsets[i]))
		sum += len(b.Items[i])
	}
	invariant(sum == b.Total, "batch total %d != sum of bucket lengths %d", b.Total, sum)
}

// BucketSpan indexes one bucket inside a flattened request.
type BucketSpan struct {
	Bucket    int `msgpack:"bucket"`
	Start     int `msgpack:"start"`
	Size      int `msgpack:"size"`
	ItemStart int `msgpack:"item_start"`
	ItemCount int `msgpack:"item_count"`
}

// Request is a flattened batch ready for the offload executor.
type Request[T any] struct {
	Items   []T          `msgpack:"items"`
	Offsets []int        `msgpack:"offsets"`
	Buckets []BucketSpan `msgpack:"buckets"`
}

// BuildOffloadRequest flattens all non-empty buckets in bucket order. Bucket
// particle ranges come from meta: the active subset when active is set,
// the static range otherwise.
func (b *InteractionBatch[T]) BuildOffloadRequest(meta tree.Metadata, active bool) Request[T] {
	var buckets []int
	for bucket, items := range b.Items {
		if len(items) > 0 {
			buckets = append(buckets, bucket)
		}
	}
	return b.BuildOffloadRequestFor(meta, active, buckets)
}

// BuildOffloadRequestFor flattens the listed buckets, which must be strictly
// ascending. Every item in the batch must belong to a listed bucket.
func (b *InteractionBatch[T]) BuildOffloadRequestFor(meta tree.Metadata, active bool, buckets []int) Request[T] {
	b.Validate()

	req := Request[T]{
		Items:   make([]T, 0, b.Total),
		Offsets: make([]int, 0, b.Total),
	}
	prev := -1
	for _, bucket := range buckets {
		invariant(bucket > prev && bucket < len(b.Items), "bucket list not ascending within [0,%d) at %d", len(b.Items), bucket)
		prev = bucket
		items := b.Items[bucket]
		if len(items) == 0 {
			continue
		}

		var r tree.BucketRange
		if active {
			r = meta.ActiveBucketRange(bucket)
		} else {
			r = meta.BucketRange(bucket)
		}
		invariant(r.Start >= 0, "bucket %d has negative start %d", bucket, r.Start)

		req.Buckets = append(req.Buckets, BucketSpan{
			Bucket:    bucket,
			Start:     r.Start,
			Size:      r.Size,
			ItemStart: len(req.Items),
			ItemCount: len(items),
		})
		req.Items = append(req.Items, items...)
		req.Offsets = append(req.Offsets, b.Offsets[bucket]...)
	}
	invariant(len(req.Items) == b.Total, "request holds %d of %d batched items", len(req.Items), b.Total)
	return req
}
