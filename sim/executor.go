package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pthm-cable/treewalk/walk"
)

// Result is the completion of one offload request.
type Result struct {
	Kind    walk.BatchKind
	Items   int
	Buckets int
	Bytes   int
	Err     error
}

// job is one encoded request waiting for a worker.
type job struct {
	kind    walk.BatchKind
	payload []byte
	decode  func([]byte) (items, buckets int, err error)
	done    chan Result
}

// ExecutorTotals summarises every completed request.
type ExecutorTotals struct {
	Requests int
	Items    int
	Bytes    int
	Errors   int
}

// Executor simulates an accelerator: requests are serialised with msgpack,
// handed to a pool of workers, decoded and acknowledged after a transfer
// latency.
type Executor struct {
	numWorkers int
	latency    time.Duration

	workChan chan job
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool

	mu     sync.Mutex
	totals ExecutorTotals
}

// NewExecutor creates an executor with numWorkers workers.
func NewExecutor(numWorkers int, latency time.Duration) *Executor {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Executor{numWorkers: numWorkers, latency: latency}
}

// Start launches persistent worker goroutines.
func (e *Executor) Start() {
	if e.running {
		return
	}

	e.workChan = make(chan job, e.numWorkers)
	e.stopChan = make(chan struct{})
	e.running = true

	for i := 0; i < e.numWorkers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
}

// Stop signals all workers to exit and waits for them. Jobs still queued
// are acknowledged with an error.
func (e *Executor) Stop() {
	if !e.running {
		return
	}

	close(e.stopChan)
	e.wg.Wait()
	close(e.workChan)
	for j := range e.workChan {
		j.done <- Result{Kind: j.kind, Err: fmt.Errorf("executor stopped")}
	}
	e.running = false
}

func (e *Executor) worker() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopChan:
			return
		case j, ok := <-e.workChan:
			if !ok {
				return
			}
			if e.latency > 0 {
				time.Sleep(e.latency)
			}
			items, buckets, err := j.decode(j.payload)
			res := Result{Kind: j.kind, Items: items, Buckets: buckets, Bytes: len(j.payload), Err: err}
			e.record(res)
			j.done <- res
		}
	}
}

func (e *Executor) record(r Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totals.Requests++
	e.totals.Items += r.Items
	e.totals.Bytes += r.Bytes
	if r.Err != nil {
		e.totals.Errors++
	}
}

// Totals returns a snapshot of completed work.
func (e *Executor) Totals() ExecutorTotals {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totals
}

// Submit encodes req and queues it. The returned channel receives exactly
// one Result.
func Submit[T any](e *Executor, kind walk.BatchKind, req walk.Request[T]) (<-chan Result, error) {
	if !e.running {
		return nil, fmt.Errorf("submitting %s request: executor not running", kind)
	}
	payload, err := msgpack.Marshal(&req)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", kind, err)
	}

	done := make(chan Result, 1)
	e.workChan <- job{
		kind:    kind,
		payload: payload,
		decode:  decodeRequest[T],
		done:    done,
	}
	return done, nil
}

func decodeRequest[T any](payload []byte) (items, buckets int, err error) {
	var req walk.Request[T]
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		return 0, 0, fmt.Errorf("decoding request: %w", err)
	}
	if len(req.Items) != len(req.Offsets) {
		return 0, 0, fmt.Errorf("request has %d items but %d offsets", len(req.Items), len(req.Offsets))
	}
	for _, b := range req.Buckets {
		if b.ItemStart+b.ItemCount > len(req.Items) {
			return 0, 0, fmt.Errorf("bucket %d span [%d,%d) exceeds %d items",
				b.Bucket, b.ItemStart, b.ItemStart+b.ItemCount, len(req.Items))
		}
	}
	return len(req.Items), len(req.Buckets), nil
}
