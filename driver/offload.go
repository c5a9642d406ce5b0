package driver

import (
	"context"
	"fmt"

	"github.com/pthm-cable/treewalk/sim"
	"github.com/pthm-cable/treewalk/walk"
)

// batchPair double-buffers a walk's offload batches: one buffer accumulates
// while requests built from the other are in flight.
type batchPair struct {
	d      *Driver
	bufs   [2]*walk.DualTreeWalkState
	cur    int
	active bool // build requests over the active subset of each bucket

	inflight [2][]<-chan sim.Result
	flushes  int
	items    int
}

func (d *Driver) newBatchPair(gen *walk.Generation, kind walk.Kind) *batchPair {
	cfg := walk.OffloadConfig{
		NodeThreshold: d.nodeThreshold,
		PartThreshold: d.partThreshold,
		ReserveHint:   d.cfg.Walk.ReserveHint,
	}
	if d.timer != nil {
		cfg.Observer = d.timer
	}
	p := &batchPair{d: d, active: d.cfg.World.ActiveFrac < 1}
	for i := range p.bufs {
		p.bufs[i] = gen.NewBatchBuffer(kind, cfg)
	}
	return p
}

// collect moves bucket b's accepted work from s into the accumulating
// buffer and flushes whatever reached its threshold.
func (p *batchPair) collect(ctx context.Context, s *walk.DualTreeWalkState, b int) error {
	buf := p.bufs[p.cur]
	in := s.Interactions(b)
	for _, a := range in.Nodes {
		buf.AcceptNode(b, a.Item, a.Offset)
	}
	for _, a := range in.Local {
		buf.AcceptLocal(b, a.Item, a.Offset)
	}
	for _, a := range in.Remote {
		buf.AcceptRemote(b, a.Item, a.Offset)
	}
	return p.flush(ctx, false)
}

// flush sends the accumulating buffer once any of its batches reached its
// threshold, or unconditionally when force is set. Every non-empty batch
// goes out together, so the buffer is empty when the pair swaps.
func (p *batchPair) flush(ctx context.Context, force bool) error {
	o := p.bufs[p.cur].Offload()
	ready := o.NodeOffloadReady() || o.LocalPartOffloadReady() || o.RemotePartOffloadReady()
	if !ready && !force {
		return nil
	}

	meta := p.d.local
	sent := false
	if o.Moments.Total > 0 {
		if err := p.track(sim.Submit(p.d.exec, walk.BatchNodes, o.FlushNodes(meta, p.active))); err != nil {
			return err
		}
		sent = true
	}
	if o.LocalParticles.Total > 0 {
		if err := p.track(sim.Submit(p.d.exec, walk.BatchLocal, o.FlushLocal(meta, p.active))); err != nil {
			return err
		}
		sent = true
	}
	if o.RemoteParticles.Total > 0 {
		if err := p.track(sim.Submit(p.d.exec, walk.BatchRemote, o.FlushRemote(meta, p.active))); err != nil {
			return err
		}
		sent = true
	}
	if !sent {
		return nil
	}

	p.flushes++
	if p.d.cfg.Offload.Tune && p.d.timer != nil {
		node, part := p.d.tuner.Apply(o, p.d.timer)
		other := p.bufs[p.cur^1].Offload()
		other.SetNodeThreshold(node)
		other.SetPartThreshold(part)
	}
	p.cur ^= 1
	return p.wait(ctx, p.cur)
}

func (p *batchPair) track(done <-chan sim.Result, err error) error {
	if err != nil {
		return err
	}
	p.inflight[p.cur] = append(p.inflight[p.cur], done)
	return nil
}

// wait blocks until every request built from buffer i has completed.
func (p *batchPair) wait(ctx context.Context, i int) error {
	for _, done := range p.inflight[i] {
		select {
		case res := <-done:
			if res.Err != nil {
				return fmt.Errorf("%s request: %w", res.Kind, res.Err)
			}
			p.items += res.Items
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.inflight[i] = p.inflight[i][:0]
	return nil
}

// drain sends what is left, even below threshold, and waits for both
// buffers.
func (p *batchPair) drain(ctx context.Context) error {
	if err := p.flush(ctx, true); err != nil {
		return err
	}
	for i := range p.inflight {
		if err := p.wait(ctx, i); err != nil {
			return err
		}
		if n := p.pending(i); n > 0 {
			return fmt.Errorf("offload buffer %d still holds %d interactions after drain", i, n)
		}
	}
	return nil
}

// pending returns the number of interactions batched in buffer i.
func (p *batchPair) pending(i int) int {
	o := p.bufs[i].Offload()
	return o.Moments.Total + o.LocalParticles.Total + o.RemoteParticles.Total
}

func (p *batchPair) thresholds() (node, part int) {
	o := p.bufs[p.cur].Offload()
	return o.NodeThreshold(), o.PartThreshold()
}
