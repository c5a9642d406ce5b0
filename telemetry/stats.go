package telemetry

import (
	"log/slog"
	"time"
)

// WalkSummary is the outcome of one walk in a generation.
type WalkSummary struct {
	Generation    string  `csv:"generation"`
	Walk          string  `csv:"walk"`
	Buckets       int     `csv:"buckets"`
	Chunks        int     `csv:"chunks"`
	Nodes         int     `csv:"nodes"`
	LocalParts    int     `csv:"local_parts"`
	RemoteParts   int     `csv:"remote_parts"`
	Opened        int     `csv:"opened"`
	Deferred      int     `csv:"deferred"`
	Resumed       int     `csv:"resumed"`
	RootsPlaced   int     `csv:"roots_placed"`
	Flushes       int     `csv:"flushes"`
	Offloaded     int     `csv:"offloaded"`
	NodeThreshold int     `csv:"node_threshold"`
	PartThreshold int     `csv:"part_threshold"`
	DurationMS    float64 `csv:"duration_ms"`
}

// Interactions returns the total number of accepted interactions.
func (s WalkSummary) Interactions() int {
	return s.Nodes + s.LocalParts + s.RemoteParts
}

// SetDuration records the wall time of the walk.
func (s *WalkSummary) SetDuration(d time.Duration) {
	s.DurationMS = float64(d) / float64(time.Millisecond)
}

// Add merges o's counters into s.
func (s *WalkSummary) Add(o WalkSummary) {
	s.Nodes += o.Nodes
	s.LocalParts += o.LocalParts
	s.RemoteParts += o.RemoteParts
	s.Opened += o.Opened
	s.Deferred += o.Deferred
	s.Resumed += o.Resumed
	s.RootsPlaced += o.RootsPlaced
	s.Flushes += o.Flushes
	s.Offloaded += o.Offloaded
}

// LogValue implements slog.LogValuer for structured logging.
func (s WalkSummary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("walk", s.Walk),
		slog.Int("nodes", s.Nodes),
		slog.Int("local_parts", s.LocalParts),
		slog.Int("remote_parts", s.RemoteParts),
		slog.Int("opened", s.Opened),
		slog.Int("deferred", s.Deferred),
		slog.Int("resumed", s.Resumed),
		slog.Int("roots_placed", s.RootsPlaced),
		slog.Int("flushes", s.Flushes),
		slog.Int("offloaded", s.Offloaded),
		slog.Float64("duration_ms", s.DurationMS),
	)
}

// LogStats logs the summary at info level.
func (s WalkSummary) LogStats() {
	slog.Info("walk", "generation", s.Generation, "summary", s)
}
