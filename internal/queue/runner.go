// Package queue runs the dispatch loop of a device: it pulls requests from
// the device's request queue in elevator order and executes them against
// the backend.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ehrlich-b/go-iosched/internal/constants"
	"github.com/ehrlich-b/go-iosched/internal/interfaces"
	"github.com/ehrlich-b/go-iosched/internal/logging"
	"github.com/ehrlich-b/go-iosched/internal/request"
)

// ErrShortBuffer is returned when a read or write request carries less
// data than NrSectors describes
var ErrShortBuffer = errors.New("request data shorter than transfer length")

// RunnerState is the lifecycle state of a runner
type RunnerState int

const (
	RunnerStateCreated RunnerState = iota // NewRunner returned, loop not started
	RunnerStateRunning                    // loop goroutine active
	RunnerStateStopped                    // loop exited
)

// Source hands out the next request to execute. It is the device request
// queue; Dispatch must be safe to call from the runner goroutine. Dispatch
// may report nothing while Pending is still nonzero.
type Source interface {
	Dispatch() (*request.Request, bool)
	Pending() int
}

// Observer receives per-request completion statistics
type Observer interface {
	ObserveIO(op request.Op, bytes uint64, latencyNs uint64, success bool)
}

type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type Config struct {
	DevID    uint32
	Source   Source
	Backend  interfaces.Backend
	Logger   Logger
	Observer Observer
}

// Runner executes dispatched requests for one device
type Runner struct {
	devID    uint32
	source   Source
	backend  interfaces.Backend
	logger   Logger
	observer Observer

	ctx    context.Context
	cancel context.CancelFunc
	kick   chan struct{}
	done   chan struct{}

	mu    sync.Mutex
	state RunnerState
}

// NewRunner creates a runner; call Start to begin dispatching
func NewRunner(ctx context.Context, config Config) (*Runner, error) {
	if config.Source == nil {
		return nil, fmt.Errorf("runner for device %d: nil source", config.DevID)
	}
	if config.Backend == nil {
		return nil, fmt.Errorf("runner for device %d: nil backend", config.DevID)
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Runner{
		devID:    config.DevID,
		source:   config.Source,
		backend:  config.Backend,
		logger:   config.Logger,
		observer: config.Observer,
		ctx:      ctx,
		cancel:   cancel,
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the dispatch loop
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RunnerStateCreated {
		return fmt.Errorf("runner for device %d already started", r.devID)
	}
	r.state = RunnerStateRunning

	if r.logger != nil {
		r.logger.Debugf("starting dispatch loop for device %d", r.devID)
	}
	go r.loop()
	return nil
}

// Kick wakes the loop. Kicks coalesce; one pending kick drains everything
// queued before it.
func (r *Runner) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// State returns the current lifecycle state
func (r *Runner) State() RunnerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Close stops the loop and waits up to RunnerStopTimeout for the request
// in flight to finish. Requests still queued are left to the caller.
func (r *Runner) Close() error {
	r.mu.Lock()
	started := r.state == RunnerStateRunning
	if r.state == RunnerStateCreated {
		r.state = RunnerStateStopped
	}
	r.mu.Unlock()

	r.cancel()
	if !started {
		return nil
	}

	select {
	case <-r.done:
		return nil
	case <-time.After(constants.RunnerStopTimeout):
		return fmt.Errorf("runner for device %d did not stop within %v", r.devID, constants.RunnerStopTimeout)
	}
}

func (r *Runner) loop() {
	defer func() {
		r.mu.Lock()
		r.state = RunnerStateStopped
		r.mu.Unlock()
		close(r.done)
	}()

	for {
		select {
		case <-r.ctx.Done():
			if r.logger != nil {
				r.logger.Debugf("dispatch loop for device %d stopping", r.devID)
			}
			return
		case <-r.kick:
			r.drain()
		}
	}
}

// drain dispatches until the source is empty. A single empty dispatch with
// requests still pending is retried; two in a row end the pass.
func (r *Runner) drain() {
	misses := 0
	for r.ctx.Err() == nil {
		rq, ok := r.source.Dispatch()
		if !ok {
			misses++
			if misses > 1 || r.source.Pending() == 0 {
				return
			}
			continue
		}
		misses = 0

		start := time.Now()
		err := r.Execute(rq)
		latency := uint64(time.Since(start).Nanoseconds())

		if r.observer != nil {
			r.observer.ObserveIO(rq.Op, transferBytes(rq), latency, err == nil)
		}
		if err != nil && r.logger != nil {
			r.logFailure(rq, err)
		}
		rq.Complete(err)
	}
}

func (r *Runner) logFailure(rq *request.Request, err error) {
	if l, ok := r.logger.(*logging.Logger); ok {
		l.WithRequest(rq.Op.String(), rq.Sector, rq.NrSectors).WithError(err).
			Warn("request failed", "device_id", r.devID)
		return
	}
	r.logger.Printf("device %d: %s at sector %d failed: %v", r.devID, rq.Op, rq.Sector, err)
}

// Execute performs rq against the backend
func (r *Runner) Execute(rq *request.Request) error {
	off := int64(rq.Sector) * constants.SectorSize
	length := int64(transferBytes(rq))

	switch rq.Op {
	case request.OpRead:
		if int64(len(rq.Data)) < length {
			return ErrShortBuffer
		}
		_, err := r.backend.ReadAt(rq.Data[:length], off)
		return err
	case request.OpWrite:
		if int64(len(rq.Data)) < length {
			return ErrShortBuffer
		}
		_, err := r.backend.WriteAt(rq.Data[:length], off)
		return err
	case request.OpFlush:
		// A flush with a range only needs that range on stable storage
		if b, ok := r.backend.(interfaces.SyncBackend); ok && rq.NrSectors > 0 {
			return b.SyncRange(off, int64(rq.NrSectors)*constants.SectorSize)
		}
		return r.backend.Flush()
	case request.OpDiscard:
		if b, ok := r.backend.(interfaces.DiscardBackend); ok {
			return b.Discard(off, length)
		}
		return r.writeZeroes(off, length)
	case request.OpWriteZeroes:
		if b, ok := r.backend.(interfaces.WriteZeroesBackend); ok {
			return b.WriteZeroes(off, length)
		}
		return r.writeZeroes(off, length)
	default:
		return fmt.Errorf("unsupported operation: %s", rq.Op)
	}
}

// zeroChunk is the source for emulated discard and write-zeroes. WriteAt
// may not modify its argument, so every runner shares it read-only.
var zeroChunk = make([]byte, 1<<20)

// writeZeroes emulates zeroing in zeroChunk-sized backend writes
func (r *Runner) writeZeroes(off, length int64) error {
	for length > 0 {
		n, err := r.backend.WriteAt(zeroChunk[:min(length, int64(len(zeroChunk)))], off)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		off += int64(n)
		length -= int64(n)
	}
	return nil
}

func transferBytes(rq *request.Request) uint64 {
	if rq.Op == request.OpFlush {
		return 0
	}
	return uint64(rq.NrSectors) * constants.SectorSize
}
