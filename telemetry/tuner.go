package telemetry

import (
	"math"

	"github.com/pthm-cable/treewalk/walk"
)

// Tuner picks offload thresholds so that assembling one request costs about
// TargetUS microseconds.
type Tuner struct {
	TargetUS float64
	Min, Max int
}

// Next returns the threshold to use after observing s. With no usable
// samples the current threshold is kept.
func (tu Tuner) Next(s BatchStats, current int) int {
	if s.Count == 0 || s.PerItemUS <= 0 || tu.TargetUS <= 0 {
		return current
	}
	next := int(math.Round(tu.TargetUS / s.PerItemUS))
	if next < tu.Min {
		next = tu.Min
	}
	if tu.Max > 0 && next > tu.Max {
		next = tu.Max
	}
	if next < 1 {
		next = 1
	}
	return next
}

// Apply retunes o from the timer's current windows. Particle batches share
// one threshold, so the slower of the two kinds decides it.
func (tu Tuner) Apply(o *walk.Offload, t *BatchTimer) (node, part int) {
	node = tu.Next(t.Stats(walk.BatchNodes), o.NodeThreshold())

	local := tu.Next(t.Stats(walk.BatchLocal), o.PartThreshold())
	remote := tu.Next(t.Stats(walk.BatchRemote), o.PartThreshold())
	part = min(local, remote)

	o.SetNodeThreshold(node)
	o.SetPartThreshold(part)
	return node, part
}
