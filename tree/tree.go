// Package tree holds the node, particle and bucket types shared between the
// walk state layer and its collaborators.
package tree

import (
	"math/bits"

	"gonum.org/v1/gonum/spatial/r3"
)

// Key identifies a node of the distributed tree.
type Key uint64

// NoKey marks an absent node.
const NoKey Key = 0

// RootKey is the key of the global root. Children of k are 2k and 2k+1.
const RootKey Key = 1

// Child returns the key of child i (0 or 1) of k.
func (k Key) Child(i int) Key {
	return k<<1 | Key(i&1)
}

// Parent returns the key of k's parent, or NoKey for the root.
func (k Key) Parent() Key {
	return k >> 1
}

// Level returns the depth of k, 0 for the root.
func (k Key) Level() int {
	return bits.Len64(uint64(k)) - 1
}

// CommonAncestor returns the deepest key that is an ancestor of (or equal
// to) both a and b.
func CommonAncestor(a, b Key) Key {
	for a.Level() > b.Level() {
		a = a.Parent()
	}
	for b.Level() > a.Level() {
		b = b.Parent()
	}
	for a != b {
		a, b = a.Parent(), b.Parent()
	}
	return a
}

// Contains reports whether k is d or one of d's ancestors.
func (k Key) Contains(d Key) bool {
	for d.Level() > k.Level() {
		d = d.Parent()
	}
	return d == k
}

// Moments is the far-field summary of a node.
type Moments struct {
	Key    Key     `msgpack:"key"`
	Mass   float64 `msgpack:"mass"`
	Center r3.Vec  `msgpack:"center"`
	Radius float64 `msgpack:"radius"`
}

// LocalPart references a particle owned by this process.
type LocalPart struct {
	Index int `msgpack:"index"`
}

// RemotePart is a copy of a particle fetched from another process.
type RemotePart struct {
	Pos  r3.Vec  `msgpack:"pos"`
	Mass float64 `msgpack:"mass"`
}

// BucketRange locates a bucket's particles in the flat particle array.
type BucketRange struct {
	Start int
	Size  int
}

// Metadata is the authoritative source of bucket ranges.
type Metadata interface {
	// NumBuckets returns the number of buckets owned by this process.
	NumBuckets() int

	// BucketRange returns the static particle range of bucket b.
	BucketRange(b int) BucketRange

	// ActiveBucketRange returns the range of the active subset of bucket b.
	ActiveBucketRange(b int) BucketRange
}
