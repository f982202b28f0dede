// Package scheduler provides the two execution modes the backup pipeline runs
// on: a single exclusive lane serialized with the host's mutation of live
// worlds, and bounded background work that may run alongside it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"golang.org/x/sync/semaphore"

	"world-archivist/internal/logging"
)

// ErrStopped is the result of exclusive work dropped because the scheduler
// was cancelled before it started.
var ErrStopped = errors.New("scheduler stopped")

// Task is a unit of work. ctx is cancelled by CancelAll.
type Task = func(ctx context.Context)

// Config configures a Scheduler.
type Config struct {
	// MaxConcurrent bounds the number of background tasks running at once.
	MaxConcurrent int
	// QueueSize is the capacity of the exclusive lane's queue.
	QueueSize int
	Clock     clock.Clock
	Logger    *logging.Logger
}

type laneKey struct{}

const (
	jobQueued int32 = iota
	jobRunning
	jobAbandoned
)

type exclusiveJob struct {
	ctx   context.Context
	fn    func(ctx context.Context) error
	done  chan error
	state int32
}

// Scheduler runs tasks on an exclusive lane or in the background.
type Scheduler struct {
	clock  clock.Clock
	logger *logging.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	lane     chan *exclusiveJob
	laneDone chan struct{}
	// laneMu is held while exclusive work runs, on the lane goroutine or
	// inline after cancellation.
	laneMu sync.Mutex
	sem    *semaphore.Weighted

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// New creates a scheduler and starts its exclusive lane.
func New(cfg Config) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDefaultLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		lane:     make(chan *exclusiveJob, cfg.QueueSize),
		laneDone: make(chan struct{}),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
	go s.runLane()
	return s
}

func (s *Scheduler) runLane() {
	defer close(s.laneDone)
	for {
		select {
		case <-s.ctx.Done():
			// Drain: work bound to the scheduler's context is dropped, calls
			// whose own context is still live run.
			for {
				select {
				case job := <-s.lane:
					if !atomic.CompareAndSwapInt32(&job.state, jobQueued, jobRunning) {
						continue
					}
					if job.ctx.Err() != nil {
						job.done <- ErrStopped
						continue
					}
					job.done <- s.runLocked(job.ctx, job.fn)
				default:
					return
				}
			}
		case job := <-s.lane:
			if !atomic.CompareAndSwapInt32(&job.state, jobQueued, jobRunning) {
				continue
			}
			if err := job.ctx.Err(); err != nil {
				job.done <- err
				continue
			}
			job.done <- s.runLocked(job.ctx, job.fn)
		}
	}
}

// runLocked runs fn as exclusive work.
func (s *Scheduler) runLocked(ctx context.Context, fn func(ctx context.Context) error) error {
	s.laneMu.Lock()
	defer s.laneMu.Unlock()
	laneCtx := context.WithValue(ctx, laneKey{}, s)
	return s.invoke("exclusive", func() error { return fn(laneCtx) })
}

// callAfterStop runs fn inline once the lane no longer accepts work, unless
// ctx has already ended.
func (s *Scheduler) callAfterStop(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.runLocked(ctx, fn)
}

func (s *Scheduler) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// RunExclusive queues task on the exclusive lane without waiting for it.
// Tasks still queued when the scheduler is cancelled are dropped.
func (s *Scheduler) RunExclusive(task Task) {
	job := &exclusiveJob{
		ctx:  s.ctx,
		fn:   func(ctx context.Context) error { task(ctx); return nil },
		done: make(chan error, 1),
	}
	select {
	case s.lane <- job:
	case <-s.ctx.Done():
		s.logger.Debug("Dropping exclusive task submitted after cancellation")
	}
}

// CallExclusive runs fn on the exclusive lane and returns its error. A call
// made from a task that is already on the lane runs fn inline. If ctx ends
// before fn starts, ctx's error is returned and fn does not run; once fn has
// started the call waits for it. CancelAll does not refuse calls: with a
// live ctx they still run, one at a time, so cleanup such as re-enabling
// a world's auto-persist can finish during shutdown.
func (s *Scheduler) CallExclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, _ := ctx.Value(laneKey{}).(*Scheduler); owner == s {
		return s.invoke("exclusive", func() error { return fn(ctx) })
	}
	if s.isStopped() {
		return s.callAfterStop(ctx, fn)
	}

	job := &exclusiveJob{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case s.lane <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return s.callAfterStop(ctx, fn)
	}

	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		if atomic.CompareAndSwapInt32(&job.state, jobQueued, jobAbandoned) {
			return ctx.Err()
		}
		// Already running; its result is the answer.
		return <-job.done
	case <-s.laneDone:
		select {
		case err := <-job.done:
			return err
		default:
		}
		// Queued after the lane drained.
		if atomic.CompareAndSwapInt32(&job.state, jobQueued, jobRunning) {
			return s.callAfterStop(ctx, fn)
		}
		return <-job.done
	}
}

// RunBackground runs task on its own goroutine once one of MaxConcurrent
// slots is free. A task that cannot get a slot because the scheduler was
// cancelled still runs, with a cancelled context, so callers waiting on it
// are released.
func (s *Scheduler) RunBackground(task Task) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		go s.invoke("background", func() error { task(s.ctx); return nil })
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			s.invoke("background", func() error { task(s.ctx); return nil })
			return
		}
		defer s.sem.Release(1)
		s.invoke("background", func() error { task(s.ctx); return nil })
	}()
}

// RepeatBackground runs task after delay and then every period until the
// scheduler is cancelled. A non-positive period runs task once. Repeating
// tasks do not occupy a background slot; runs of the same task never
// overlap.
func (s *Scheduler) RepeatBackground(task Task, delay, period time.Duration) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		timer := s.clock.NewTimer(delay)
		defer timer.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-timer.Chan():
			}

			s.invoke("repeating", func() error { task(s.ctx); return nil })
			if period <= 0 {
				return
			}
			timer.Reset(period)
		}
	}()
}

// CancelAll cancels every task's context, stops repeating tasks and drops
// queued exclusive tasks. It does not wait; call Wait for that.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
}

// Wait blocks until the exclusive lane has stopped and every tracked
// background and repeating task has returned. It only returns after
// CancelAll.
func (s *Scheduler) Wait() {
	<-s.laneDone
	s.wg.Wait()
}

// Context returns the context handed to tasks.
func (s *Scheduler) Context() context.Context {
	return s.ctx
}

func (s *Scheduler) invoke(mode string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			s.logger.WithFields(map[string]interface{}{
				"mode":  mode,
				"panic": fmt.Sprint(r),
			}).Error("Recovered from task panic")
		}
	}()
	return fn()
}
