package driver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/treewalk/config"
	"github.com/pthm-cable/treewalk/sim"
	"github.com/pthm-cable/treewalk/telemetry"
	"github.com/pthm-cable/treewalk/tree"
	"github.com/pthm-cable/treewalk/walk"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.World.Particles = 400
	cfg.World.ParticleMass = 1.0 / 400
	cfg.Tree.BucketSize = 8
	cfg.Tree.Chunks = 2
	cfg.Cache.FetchLatencyUS = 20
	cfg.Cache.Workers = 4
	cfg.Offload.Enabled = false
	cfg.Offload.NodeThreshold = 64
	cfg.Offload.PartThreshold = 64
	cfg.Offload.MinThreshold = 16
	cfg.Offload.MaxThreshold = 4096
	cfg.Walk.Resume = true
	return cfg
}

func step(t *testing.T, cfg *config.Config) (Result, *Driver) {
	t.Helper()
	d := New(cfg, Options{Seed: 7})
	t.Cleanup(d.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res, err := d.Step(ctx)
	require.NoError(t, err)
	return res, d
}

func TestStep_ResumableRemoteWalks(t *testing.T) {
	cfg := testConfig(t)
	res, _ := step(t, cfg)

	require.Len(t, res.Walks, 1+cfg.Tree.Chunks)
	assert.Equal(t, "local", res.Walks[0].Walk)
	assert.Zero(t, res.Walks[0].Deferred, "local walk never defers")
	assert.Positive(t, res.Walks[0].LocalParts)

	for _, w := range res.Walks[1:] {
		assert.Equal(t, "remote_resume", w.Walk)
		assert.Positive(t, w.Deferred, "nothing remote is resident at start")
		assert.Equal(t, w.Deferred, w.Resumed, "every deferred entry is resumed exactly once")
		assert.Equal(t, 1, w.RootsPlaced)
		assert.Positive(t, w.RemoteParts)
	}
	assert.Equal(t, res.Total.Interactions(),
		res.Total.Nodes+res.Total.LocalParts+res.Total.RemoteParts)
}

func TestStep_OneShotMatchesResumable(t *testing.T) {
	cfg := testConfig(t)
	resumed, _ := step(t, cfg)

	cfg = testConfig(t)
	cfg.Walk.Resume = false
	oneShot, _ := step(t, cfg)

	require.Len(t, oneShot.Walks, 2)
	assert.Equal(t, "remote", oneShot.Walks[1].Walk)
	assert.Zero(t, oneShot.Total.Deferred, "prefetched chunks never defer")
	assert.Equal(t, cfg.Tree.Chunks, oneShot.Walks[1].RootsPlaced)

	assert.Equal(t, resumed.Total.Nodes, oneShot.Total.Nodes)
	assert.Equal(t, resumed.Total.LocalParts, oneShot.Total.LocalParts)
	assert.Equal(t, resumed.Total.RemoteParts, oneShot.Total.RemoteParts)
}

func TestStep_OneShotWithoutPrefetchFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Walk.Resume = false
	d := New(cfg, Options{Seed: 7})
	defer d.Close()
	d.skipPrefetch = true

	_, err := d.Step(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, walk.ErrUnexpectedDefer)
}

func TestStep_OffloadSendsEveryInteraction(t *testing.T) {
	cfg := testConfig(t)
	direct, _ := step(t, cfg)

	cfg = testConfig(t)
	cfg.Offload.Enabled = true
	cfg.Offload.Tune = false
	offloaded, _ := step(t, cfg)

	assert.Equal(t, direct.Total.Interactions(), offloaded.Total.Interactions())
	assert.Equal(t, offloaded.Total.Interactions(), offloaded.Total.Offloaded)
	assert.Equal(t, offloaded.Total.Interactions(), offloaded.Executor.Items)
	assert.Zero(t, offloaded.Executor.Errors)
	assert.Positive(t, offloaded.Total.Flushes)
	assert.Zero(t, direct.Total.Flushes)

	for _, w := range offloaded.Walks {
		assert.Equal(t, 64, w.NodeThreshold, "thresholds stay put without tuning")
		assert.Equal(t, 64, w.PartThreshold)
	}
}

func TestStep_OffloadMismatchedThresholds(t *testing.T) {
	tests := []struct {
		name       string
		node, part int
	}{
		{"small node batches", 16, 100000},
		{"small particle batches", 100000, 16},
		{"every interaction ready", 1, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Offload.Enabled = true
			cfg.Offload.Tune = false
			cfg.Offload.NodeThreshold = tc.node
			cfg.Offload.PartThreshold = tc.part
			res, _ := step(t, cfg)

			accepted := res.Total.Interactions()
			require.Positive(t, accepted)
			assert.Equal(t, accepted, res.Total.Offloaded, "every accepted interaction is offloaded")
			assert.Equal(t, accepted, res.Executor.Items)
		})
	}
}

func TestRun_TunedOffloadSendsEveryInteraction(t *testing.T) {
	cfg := testConfig(t)
	cfg.Offload.Enabled = true
	cfg.Offload.Tune = true
	cfg.Telemetry.Instrument = true
	cfg.Offload.MinThreshold = 1
	d := New(cfg, Options{Seed: 11})
	defer d.Close()

	results, err := d.Run(context.Background(), 3)
	require.NoError(t, err)
	items := 0
	for _, r := range results {
		assert.Equal(t, r.Total.Interactions(), r.Total.Offloaded, "generation %s", r.Generation)
		items += r.Total.Offloaded
	}
	assert.Equal(t, items, results[len(results)-1].Executor.Items)
}

func TestRun_TunesThresholdsAcrossGenerations(t *testing.T) {
	cfg := testConfig(t)
	cfg.Offload.Enabled = true
	cfg.Offload.Tune = true
	cfg.Telemetry.Instrument = true
	d := New(cfg, Options{Seed: 3})
	defer d.Close()

	results, err := d.Run(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 2, d.Generations())
	assert.NotEqual(t, results[0].Generation, results[1].Generation)

	for _, r := range results {
		assert.GreaterOrEqual(t, r.Total.NodeThreshold, cfg.Offload.MinThreshold)
		assert.LessOrEqual(t, r.Total.NodeThreshold, cfg.Offload.MaxThreshold)
		assert.GreaterOrEqual(t, r.Total.PartThreshold, cfg.Offload.MinThreshold)
		assert.LessOrEqual(t, r.Total.PartThreshold, cfg.Offload.MaxThreshold)
	}
}

func TestStep_CancelledContext(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.FetchLatencyUS = int(time.Hour / time.Microsecond)
	d := New(cfg, Options{Seed: 7})
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := d.Step(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, d.Generations())
}

func TestStep_WritesOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	om, err := telemetry.NewOutputManager(dir)
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.Offload.Enabled = true
	cfg.Telemetry.Instrument = true
	d := New(cfg, Options{Seed: 1, Output: om})
	defer d.Close()

	_, err = d.Run(context.Background(), 2)
	require.NoError(t, err)
	require.NoError(t, om.Close())

	data, err := os.ReadFile(filepath.Join(dir, "walks.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	// header plus (walks + total) rows per generation
	assert.Len(t, lines, 1+2*(1+cfg.Tree.Chunks+1))
	assert.True(t, strings.HasPrefix(lines[0], "generation,walk,"))

	batches, err := os.ReadFile(filepath.Join(dir, "batches.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(batches), "remote_parts")
}

func newTestWalker(t *testing.T, cfg *config.Config) (*walker, *walk.Generation) {
	t.Helper()
	d := New(cfg, Options{Seed: 7})
	t.Cleanup(d.Close)
	gen := walk.NewGeneration(d.local.NumBuckets(), len(d.remote))
	cache := sim.NewCache(0, 1)
	return d.newWalker(gen, cache, gen.NewLocal(), walk.KindLocal), gen
}

func TestWalker_MissingNodeIsAnError(t *testing.T) {
	w, _ := newTestWalker(t, testConfig(t))
	ctx := context.Background()

	err := w.classify(ctx, 0, walk.OffsetNode{Key: tree.RootKey, Target: tree.Key(1) << 40})
	assert.ErrorContains(t, err, "not in local tree")

	err = w.classify(ctx, 0, walk.OffsetNode{Key: tree.Key(1) << 40, Target: tree.RootKey})
	assert.ErrorContains(t, err, "not in tree")
}

func TestWalker_LocalWalkCoversEveryBucket(t *testing.T) {
	w, gen := newTestWalker(t, testConfig(t))
	require.NoError(t, w.run(context.Background()))

	nb := w.d.local.NumBuckets()
	assert.Equal(t, nb-1, w.s.CurrentBucket)
	assert.Equal(t, 1, w.sum.RootsPlaced)
	assert.Zero(t, w.s.LocalParticlesPending, "every bucket was consumed")
	for b, done := range w.consumed {
		assert.True(t, done, "bucket %d", b)
	}
	assert.True(t, w.s.Completed())
	require.NoError(t, gen.Teardown())
}
