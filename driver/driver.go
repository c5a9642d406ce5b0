// Package driver runs traversal generations against the simulated world:
// one local walk plus the remote walks, all sharing a generation's request
// counters.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/treewalk/config"
	"github.com/pthm-cable/treewalk/sim"
	"github.com/pthm-cable/treewalk/telemetry"
	"github.com/pthm-cable/treewalk/walk"
)

// Options configures a Driver.
type Options struct {
	Seed     int64
	LogStats bool
	Output   *telemetry.OutputManager // nil disables CSV output
}

// Driver owns the world, its trees and the simulated remote machinery.
type Driver struct {
	cfg  *config.Config
	opts Options

	world  *sim.World
	local  *sim.Tree
	remote []*sim.Tree
	shifts []r3.Vec

	exec  *sim.Executor
	timer *telemetry.BatchTimer
	tuner telemetry.Tuner

	// Thresholds carried between generations when tuning.
	nodeThreshold int
	partThreshold int

	generations int

	// skipPrefetch leaves one-shot walks without their bulk fetch.
	skipPrefetch bool
}

// Result is the outcome of one generation.
type Result struct {
	Generation string
	Walks      []telemetry.WalkSummary
	Total      telemetry.WalkSummary
	Executor   sim.ExecutorTotals
}

// New builds the world and trees described by cfg.
func New(cfg *config.Config, opts Options) *Driver {
	rng := rand.New(rand.NewSource(opts.Seed))
	w := sim.NewWorld(cfg.World, cfg.Tree.Chunks, rng)

	d := &Driver{
		cfg:           cfg,
		opts:          opts,
		world:         w,
		local:         sim.BuildTree(w.Local(), cfg.Tree.BucketSize),
		shifts:        sim.Replicas(cfg.World.BoxSize, cfg.World.Periodic, cfg.World.Replicas),
		nodeThreshold: cfg.Offload.NodeThreshold,
		partThreshold: cfg.Offload.PartThreshold,
		tuner: telemetry.Tuner{
			TargetUS: cfg.Offload.TargetBuildUS,
			Min:      cfg.Offload.MinThreshold,
			Max:      cfg.Offload.MaxThreshold,
		},
	}
	for c := 0; c < w.Chunks(); c++ {
		d.remote = append(d.remote, sim.BuildTree(w.Remote(c), cfg.Tree.BucketSize))
	}
	if cfg.Telemetry.Instrument {
		d.timer = telemetry.NewBatchTimer(cfg.Telemetry.Window)
	}
	if cfg.Offload.Enabled {
		d.exec = sim.NewExecutor(cfg.Cache.Workers, 0)
		d.exec.Start()
	}

	slog.Info("driver ready",
		"local_particles", len(d.local.Particles),
		"buckets", d.local.NumBuckets(),
		"chunks", len(d.remote),
		"replicas", len(d.shifts),
		"offload", cfg.Offload.Enabled,
		"resume", cfg.Walk.Resume,
	)
	return d
}

// Close stops the executor.
func (d *Driver) Close() {
	if d.exec != nil {
		d.exec.Stop()
	}
}

// Step runs one traversal generation to completion and tears it down.
func (d *Driver) Step(ctx context.Context) (Result, error) {
	start := time.Now()
	gen := walk.NewGeneration(d.local.NumBuckets(), len(d.remote), walk.WithReserve(d.cfg.Walk.ReserveHint))
	cache := sim.NewCache(time.Duration(d.cfg.Cache.FetchLatencyUS)*time.Microsecond, d.cfg.Cache.Workers)
	logger := slog.With("generation", gen.ID().String())

	// States are created up front: Generation is not safe for concurrent use.
	walkers := []*walker{d.newWalker(gen, cache, gen.NewLocal(), walk.KindLocal)}
	if d.cfg.Walk.Resume {
		for c := range d.remote {
			w := d.newWalker(gen, cache, gen.NewRemote(true), walk.KindRemoteResume)
			w.chunks = []int{c}
			walkers = append(walkers, w)
		}
	} else {
		if !d.skipPrefetch {
			d.prefetch(gen.NewPrefetch(), cache)
		}
		w := d.newWalker(gen, cache, gen.NewRemote(false), walk.KindRemoteNoResume)
		w.chunks = make([]int, len(d.remote))
		for c := range w.chunks {
			w.chunks[c] = c
		}
		walkers = append(walkers, w)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range walkers {
		g.Go(func() error {
			return w.run(gctx)
		})
	}
	err := g.Wait()
	cache.Wait()
	if err != nil {
		return Result{}, fmt.Errorf("generation %s: %w", gen.ID(), err)
	}

	res := Result{Generation: gen.ID().String()}
	for _, w := range walkers {
		w.sum.Generation = res.Generation
		res.Walks = append(res.Walks, w.sum)
		res.Total.Add(w.sum)
		if w.batches != nil {
			d.nodeThreshold, d.partThreshold = w.sum.NodeThreshold, w.sum.PartThreshold
		}
		if d.opts.LogStats {
			w.sum.LogStats()
		}
	}
	if err := gen.Teardown(); err != nil {
		return Result{}, err
	}
	if d.exec != nil {
		res.Executor = d.exec.Totals()
	}
	res.Total.Generation = res.Generation
	res.Total.Walk = "total"
	res.Total.Buckets = d.local.NumBuckets()
	res.Total.Chunks = len(d.remote)
	res.Total.NodeThreshold = d.nodeThreshold
	res.Total.PartThreshold = d.partThreshold
	res.Total.SetDuration(time.Since(start))
	d.generations++

	logger.Info("generation complete",
		"interactions", res.Total.Interactions(),
		"duration_ms", res.Total.DurationMS,
		"requests", gen.Requests(),
	)
	if err := d.writeOutput(res); err != nil {
		return res, err
	}
	return res, nil
}

// Run executes n generations, stopping at the first error.
func (d *Driver) Run(ctx context.Context, n int) ([]Result, error) {
	var results []Result
	for i := 0; i < n; i++ {
		res, err := d.Step(ctx)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Generations returns the number of completed generations.
func (d *Driver) Generations() int {
	return d.generations
}

// prefetch brings every remote chunk into the cache before a one-shot walk.
// The bucket cursor picks which chunk to fetch next.
func (d *Driver) prefetch(pf *walk.NullState, cache *sim.Cache) {
	nb := d.local.NumBuckets()
	fetched := make([]bool, len(d.remote))
	for b := 0; b < nb; b++ {
		pf.AdvanceBucket(b)
		c := pf.CurrentBucket * len(d.remote) / nb
		if fetched[c] {
			continue
		}
		fetched[c] = true
		pf.Requests.IssueChunk()
		cache.Prefetch(c, d.remote[c])
		pf.Requests.SatisfyChunk()
	}
	for c, done := range fetched {
		if !done {
			pf.Requests.IssueChunk()
			cache.Prefetch(c, d.remote[c])
			pf.Requests.SatisfyChunk()
		}
	}
}

func (d *Driver) writeOutput(res Result) error {
	if d.opts.Output == nil {
		return nil
	}
	if err := d.opts.Output.WriteWalks(append(res.Walks, res.Total)); err != nil {
		return err
	}
	if d.timer != nil {
		records := d.timer.Drain()
		for i := range records {
			records[i].Threshold = d.partThreshold
			if records[i].Kind == walk.BatchNodes.String() {
				records[i].Threshold = d.nodeThreshold
			}
		}
		if err := d.opts.Output.WriteBatches(records); err != nil {
			return err
		}
	}
	return nil
}
