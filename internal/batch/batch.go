// Package batch decodes archive folders, optionally in parallel, and
// delivers them to a handler in folder order. It also provides the sinks
// extraction writes file contents through.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/meigma/sevenz/internal/sizing"
	"github.com/meigma/sevenz/internal/sztype"
)

const (
	// parallelMinAvgBytes is the minimum average folder size to decode in
	// parallel when the worker count is automatic.
	parallelMinAvgBytes = 64 << 10
)

// DecodeFunc decodes one folder and returns its verified output.
type DecodeFunc func(index int) ([]byte, error)

// HandleFunc receives decoded folders in index order.
type HandleFunc func(index int, data []byte) error

// Processor decodes a set of folders.
type Processor struct {
	decode  DecodeFunc
	sizeOf  func(index int) uint64
	workers int // 0 = auto, <0 = serial, >0 = fixed count
	budget  uint64
	logger  *slog.Logger
}

// log returns the logger, falling back to a discard logger if nil.
func (p *Processor) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithWorkers sets the number of folders decoded concurrently.
// Values < 0 force serial decoding. Zero uses automatic heuristics.
// Values > 0 force a specific worker count.
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		p.workers = n
	}
}

// WithMemoryBudget caps the decoded bytes held by in-flight folders.
// A folder larger than the budget runs alone. Zero disables the cap.
func WithMemoryBudget(limit uint64) ProcessorOption {
	return func(p *Processor) {
		p.budget = limit
	}
}

// WithProcessorLogger sets the logger for batch processing operations.
// If not set, logging is disabled.
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// NewProcessor creates a processor that decodes folders with decode.
// sizeOf reports the declared output size of a folder and drives both the
// worker heuristic and the memory budget.
func NewProcessor(decode DecodeFunc, sizeOf func(index int) uint64, opts ...ProcessorOption) *Processor {
	p := &Processor{decode: decode, sizeOf: sizeOf}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run decodes the folders in indices and calls handle for each, in the
// order given. It stops on the first decode or handler error. The context
// is checked between folders; a folder decode in progress is not
// interrupted.
func (p *Processor) Run(ctx context.Context, indices []int, handle HandleFunc) error {
	if len(indices) == 0 {
		return nil
	}
	workers := p.workerCount(indices)
	p.log().Debug("batch decoding", "folders", len(indices), "workers", workers)
	if workers < 2 {
		return p.runSequential(ctx, indices, handle)
	}
	return p.runPipelined(ctx, indices, handle, workers)
}

func (p *Processor) runSequential(ctx context.Context, indices []int, handle HandleFunc) error {
	for _, idx := range indices {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := p.decode(idx)
		if err != nil {
			return err
		}
		if err := handle(idx, data); err != nil {
			return err
		}
	}
	return nil
}

// task is a pending folder decode.
type task struct {
	seq    int
	index  int
	weight int64
}

// result is a decoded folder waiting for its turn.
type result struct {
	task
	data []byte
}

//nolint:gocognit // pipeline coordinates producer, workers and reassembly
func (p *Processor) runPipelined(ctx context.Context, indices []int, handle HandleFunc, workers int) error {
	var budget *semaphore.Weighted
	var limit int64
	if p.budget > 0 {
		var err error
		limit, err = sizing.ToInt64(min(p.budget, math.MaxInt64), sztype.ErrSizeOverflow)
		if err != nil {
			return fmt.Errorf("batch: %w", err)
		}
		budget = semaphore.NewWeighted(limit)
	}

	taskCh := make(chan task)
	readyCh := make(chan result, workers)
	eg, ctx := errgroup.WithContext(ctx)

	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		eg.Go(func() error {
			defer wg.Done()
			for t := range taskCh {
				if err := ctx.Err(); err != nil {
					if budget != nil {
						budget.Release(t.weight)
					}
					return err
				}
				data, err := p.decode(t.index)
				if err != nil {
					if budget != nil {
						budget.Release(t.weight)
					}
					return err
				}
				select {
				case readyCh <- result{task: t, data: data}:
				case <-ctx.Done():
					if budget != nil {
						budget.Release(t.weight)
					}
					return ctx.Err()
				}
			}
			return nil
		})
	}

	eg.Go(func() error {
		defer close(taskCh)
		for seq, idx := range indices {
			t := task{seq: seq, index: idx}
			// Budget is acquired in folder order so the folder the
			// reassembler waits for is never starved by later ones.
			if budget != nil {
				t.weight = weight(p.sizeOf(idx), limit)
				if err := budget.Acquire(ctx, t.weight); err != nil {
					return err
				}
			}
			select {
			case taskCh <- t:
			case <-ctx.Done():
				if budget != nil {
					budget.Release(t.weight)
				}
				return ctx.Err()
			}
		}
		return nil
	})

	go func() {
		wg.Wait()
		close(readyCh)
	}()

	eg.Go(func() error {
		next := 0
		pending := make(map[int]result, workers)
		for next < len(indices) {
			select {
			case res, ok := <-readyCh:
				if !ok {
					if err := ctx.Err(); err != nil {
						return err
					}
					return errors.New("batch: decode pipeline ended unexpectedly")
				}
				pending[res.seq] = res
				for {
					res, ok := pending[next]
					if !ok {
						break
					}
					delete(pending, next)
					err := handle(res.index, res.data)
					if budget != nil {
						budget.Release(res.weight)
					}
					if err != nil {
						return err
					}
					next++
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	return eg.Wait()
}

// weight clamps a folder size to the budget so that a single large folder
// can still acquire it.
func weight(size uint64, limit int64) int64 {
	if size >= uint64(limit) { //nolint:gosec // limit is positive
		return limit
	}
	return max(int64(size), 1) //nolint:gosec // size < limit
}

// workerCount determines the number of folders to decode concurrently.
func (p *Processor) workerCount(indices []int) int {
	if len(indices) < 2 || p.workers < 0 {
		return 1
	}

	workers := p.workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
		if workers < 2 {
			return 1
		}
		var total uint64
		for _, idx := range indices {
			next, ok := sizing.AddUint64(total, p.sizeOf(idx))
			if !ok {
				total = ^uint64(0)
				break
			}
			total = next
		}
		if total/uint64(len(indices)) < parallelMinAvgBytes {
			return 1
		}
	}

	return min(workers, len(indices))
}
