package sim

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/treewalk/tree"
)

// maxDepth keeps child keys inside a uint64.
const maxDepth = 62

// Node is one node of a Tree.
type Node struct {
	Key     tree.Key
	Level   int
	Box     r3.Box
	Moments tree.Moments
	First   int // Index of the first particle
	End     int // One past the last particle
	Bucket  int // Bucket index, -1 for internal nodes
}

// Leaf reports whether n is a bucket.
func (n *Node) Leaf() bool {
	return n.Bucket >= 0
}

// Center returns the centre of the node's bounding box.
func (n *Node) Center() r3.Vec {
	return r3.Scale(0.5, r3.Add(n.Box.Min, n.Box.Max))
}

// HalfDiagonal returns half the diagonal of the bounding box.
func (n *Node) HalfDiagonal() float64 {
	return r3.Norm(r3.Sub(n.Box.Max, n.Box.Min)) / 2
}

// Tree is a binary spatial tree over a particle slice. Buckets are sorted
// active-first so that the active subset of each bucket is contiguous.
type Tree struct {
	Particles []Particle
	Buckets   []*Node

	nodes  map[tree.Key]*Node
	active []int
}

// BuildTree splits particles on the longest axis until every leaf holds at
// most bucketSize particles. The slice is reordered in place.
func BuildTree(particles []Particle, bucketSize int) *Tree {
	t := &Tree{
		Particles: particles,
		nodes:     make(map[tree.Key]*Node),
	}
	t.build(tree.RootKey, 0, 0, len(particles), bucketSize)
	return t
}

func (t *Tree) build(key tree.Key, level, lo, hi, bucketSize int) *Node {
	n := &Node{
		Key:    key,
		Level:  level,
		Box:    bounds(t.Particles[lo:hi]),
		First:  lo,
		End:    hi,
		Bucket: -1,
	}
	n.Moments = moments(key, t.Particles[lo:hi])
	t.nodes[key] = n

	if hi-lo <= bucketSize || level >= maxDepth {
		bucket := t.Particles[lo:hi]
		sort.SliceStable(bucket, func(i, j int) bool {
			return bucket[i].Active && !bucket[j].Active
		})
		active := 0
		for _, p := range bucket {
			if p.Active {
				active++
			}
		}
		n.Bucket = len(t.Buckets)
		t.Buckets = append(t.Buckets, n)
		t.active = append(t.active, active)
		return n
	}

	axis := longestAxis(n.Box)
	part := t.Particles[lo:hi]
	sort.Slice(part, func(i, j int) bool {
		return component(part[i].Pos, axis) < component(part[j].Pos, axis)
	})
	mid := lo + (hi-lo)/2
	t.build(key.Child(0), level+1, lo, mid, bucketSize)
	t.build(key.Child(1), level+1, mid, hi, bucketSize)
	return n
}

// Root returns the root node.
func (t *Tree) Root() *Node {
	return t.nodes[tree.RootKey]
}

// Node looks up a node by key.
func (t *Tree) Node(k tree.Key) (*Node, bool) {
	n, ok := t.nodes[k]
	return n, ok
}

// Children returns the two children of an internal node.
func (t *Tree) Children(n *Node) [2]*Node {
	return [2]*Node{t.nodes[n.Key.Child(0)], t.nodes[n.Key.Child(1)]}
}

// BucketsUnder calls fn for every bucket in n's subtree.
func (t *Tree) BucketsUnder(n *Node, fn func(bucket int)) {
	if n.Leaf() {
		fn(n.Bucket)
		return
	}
	for _, c := range t.Children(n) {
		t.BucketsUnder(c, fn)
	}
}

// NumNodes returns the number of nodes.
func (t *Tree) NumNodes() int {
	return len(t.nodes)
}

// NumBuckets implements tree.Metadata.
func (t *Tree) NumBuckets() int {
	return len(t.Buckets)
}

// BucketRange implements tree.Metadata.
func (t *Tree) BucketRange(b int) tree.BucketRange {
	n := t.Buckets[b]
	return tree.BucketRange{Start: n.First, Size: n.End - n.First}
}

// ActiveBucketRange implements tree.Metadata.
func (t *Tree) ActiveBucketRange(b int) tree.BucketRange {
	return tree.BucketRange{Start: t.Buckets[b].First, Size: t.active[b]}
}

func bounds(ps []Particle) r3.Box {
	if len(ps) == 0 {
		return r3.Box{}
	}
	box := r3.Box{Min: ps[0].Pos, Max: ps[0].Pos}
	for _, p := range ps[1:] {
		box.Min = r3.Vec{X: math.Min(box.Min.X, p.Pos.X), Y: math.Min(box.Min.Y, p.Pos.Y), Z: math.Min(box.Min.Z, p.Pos.Z)}
		box.Max = r3.Vec{X: math.Max(box.Max.X, p.Pos.X), Y: math.Max(box.Max.Y, p.Pos.Y), Z: math.Max(box.Max.Z, p.Pos.Z)}
	}
	return box
}

func moments(key tree.Key, ps []Particle) tree.Moments {
	m := tree.Moments{Key: key}
	for _, p := range ps {
		m.Mass += p.Mass
		m.Center = r3.Add(m.Center, r3.Scale(p.Mass, p.Pos))
	}
	if m.Mass == 0 {
		return m
	}
	m.Center = r3.Scale(1/m.Mass, m.Center)
	for _, p := range ps {
		m.Radius = math.Max(m.Radius, r3.Norm(r3.Sub(p.Pos, m.Center)))
	}
	return m
}

func longestAxis(b r3.Box) int {
	d := r3.Sub(b.Max, b.Min)
	switch {
	case d.X >= d.Y && d.X >= d.Z:
		return 0
	case d.Y >= d.Z:
		return 1
	default:
		return 2
	}
}

func component(v r3.Vec, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}
