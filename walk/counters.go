package walk

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// RequestCounters is the pair of request counters shared by every walk of
// one traversal generation. Slot 0 counts bucket requests, slot 1 chunk
// requests. The generation owns it; walks hold a pointer.
type RequestCounters struct {
	buckets atomic.Int64
	chunks  atomic.Int64
}

// IssueBucket records a new outstanding bucket request.
func (c *RequestCounters) IssueBucket() {
	c.buckets.Add(1)
}

// SatisfyBucket records that a bucket request completed.
func (c *RequestCounters) SatisfyBucket() {
	n := c.buckets.Add(-1)
	invariant(n >= 0, "bucket request counter went negative (%d)", n)
}

// IssueChunk records a new outstanding chunk request.
func (c *RequestCounters) IssueChunk() {
	c.chunks.Add(1)
}

// SatisfyChunk records that a chunk request completed.
func (c *RequestCounters) SatisfyChunk() {
	n := c.chunks.Add(-1)
	invariant(n >= 0, "chunk request counter went negative (%d)", n)
}

// Load returns the current bucket and chunk counts.
func (c *RequestCounters) Load() (buckets, chunks int64) {
	return c.buckets.Load(), c.chunks.Load()
}

// Outstanding reports whether any request is still in flight.
func (c *RequestCounters) Outstanding() bool {
	b, ch := c.Load()
	return b != 0 || ch != 0
}

// Teardown checks that the counters may be released.
func (c *RequestCounters) Teardown() error {
	b, ch := c.Load()
	if b != 0 || ch != 0 {
		return fmt.Errorf("%w: buckets=%d chunks=%d", ErrOutstandingRequests, b, ch)
	}
	return nil
}

// LogValue implements slog.LogValuer.
func (c *RequestCounters) LogValue() slog.Value {
	b, ch := c.Load()
	return slog.GroupValue(
		slog.Int64("bucket_requests", b),
		slog.Int64("chunk_requests", ch),
	)
}
