package telemetry

import (
	"testing"
	"time"

	"github.com/pthm-cable/treewalk/walk"
)

func TestTuner_Next(t *testing.T) {
	tu := Tuner{TargetUS: 100, Min: 10, Max: 1000}

	tests := []struct {
		name    string
		stats   BatchStats
		current int
		want    int
	}{
		{"no samples keeps current", BatchStats{}, 77, 77},
		{"exact", BatchStats{Count: 3, PerItemUS: 0.5}, 77, 200},
		{"clamped low", BatchStats{Count: 3, PerItemUS: 50}, 77, 10},
		{"clamped high", BatchStats{Count: 3, PerItemUS: 0.01}, 77, 1000},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tu.Next(tc.stats, tc.current); got != tc.want {
				t.Errorf("Next = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestTuner_Apply(t *testing.T) {
	bt := NewBatchTimer(8)
	cfg := walk.OffloadConfig{NodeThreshold: 50, PartThreshold: 50, Observer: bt}

	var c walk.RequestCounters
	s := walk.NewDualTreeWalkState(walk.KindLocal, &c, 1, 1, walk.WithOffload(cfg))
	o := s.Offload()

	bt.BatchBuilt(walk.BatchNodes, 100, 100*time.Microsecond) // 1µs/item
	bt.BatchBuilt(walk.BatchLocal, 100, 400*time.Microsecond) // 4µs/item
	bt.BatchBuilt(walk.BatchRemote, 100, 200*time.Microsecond)

	tu := Tuner{TargetUS: 400, Min: 1, Max: 10000}
	node, part := tu.Apply(o, bt)

	if node != 400 || o.NodeThreshold() != 400 {
		t.Errorf("node threshold = %d/%d, want 400", node, o.NodeThreshold())
	}
	if part != 100 || o.PartThreshold() != 100 {
		t.Errorf("part threshold = %d/%d, want 100", part, o.PartThreshold())
	}
}
