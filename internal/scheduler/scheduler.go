// Package scheduler runs stream pollers one at a time from a priority list,
// pacing them with one shared interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/odvcencio/issuestream/internal/models"
	"github.com/odvcencio/issuestream/internal/poller"
)

const (
	defaultInterval    = 10 * time.Second
	defaultMaxInterval = time.Minute
	defaultStep        = time.Second
	refreshPriority    = 1
)

var ErrUnknownStream = errors.New("scheduler: stream has no poller")

// Settings is the configuration snapshot handed to every cycle.
type Settings struct {
	Interval     time.Duration
	MaxInterval  time.Duration
	IntervalStep time.Duration
	Poller       poller.Settings
}

func (s Settings) normalized() Settings {
	if s.Interval <= 0 {
		s.Interval = defaultInterval
	}
	if s.MaxInterval < s.Interval {
		s.MaxInterval = max(defaultMaxInterval, s.Interval)
	}
	if s.IntervalStep <= 0 {
		s.IntervalStep = defaultStep
	}
	return s
}

// Runner is one stream's poller.
type Runner interface {
	StreamID() int64
	Priority() int
	Exec(ctx context.Context, s poller.Settings) poller.ExecResult
	Queries(ctx context.Context, s poller.Settings) ([]string, error)
}

// Factory builds the runner of a stream.
type Factory func(stream models.Stream) (Runner, error)

// StreamSource loads stream definitions.
type StreamSource interface {
	ListStreams(ctx context.Context) ([]models.Stream, error)
	GetStream(ctx context.Context, id int64) (*models.Stream, error)
}

type Options struct {
	Streams StreamSource
	Factory Factory
	Logger  *slog.Logger
	Metrics *Metrics
}

type task struct {
	runner   Runner
	priority int
}

type Scheduler struct {
	streams StreamSource
	factory Factory
	logger  *slog.Logger
	metrics *Metrics

	mu         sync.Mutex
	settings   Settings
	interval   time.Duration
	tasks      []task
	registry   map[int64]Runner
	generation uint64
	parent     context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	started    bool
}

func New(opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = DefaultMetrics()
	}
	return &Scheduler{
		streams:  opts.Streams,
		factory:  opts.Factory,
		logger:   logger,
		metrics:  metrics,
		registry: make(map[int64]Runner),
	}
}

// Start loads every polled stream and begins the loop under a new
// generation. Starting a started scheduler is a no-op.
func (s *Scheduler) Start(parent context.Context, settings Settings) error {
	if s == nil || s.streams == nil || s.factory == nil {
		return fmt.Errorf("scheduler is not configured")
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	runners, err := s.loadRunners(parent)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.parent = parent
	s.settings = settings.normalized()
	s.interval = s.settings.Interval
	s.tasks = nil
	s.registry = make(map[int64]Runner, len(runners))
	for _, r := range runners {
		s.registry[r.StreamID()] = r
		s.tasks = insertTask(s.tasks, task{runner: r, priority: r.Priority()})
	}
	s.launchLocked()
	s.logger.Info("scheduler started", "pollers", len(runners), "interval", s.interval, "generation", s.generation)
	return nil
}

// Stop bumps the generation and cancels the loop, then waits for it to
// exit until ctx is done. A stale iteration never re-queues its poller.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	done := s.done
	s.fenceLocked()
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Restart replaces every poller and the settings snapshot without waiting
// for the superseded loop.
func (s *Scheduler) Restart(settings Settings) error {
	s.mu.Lock()
	parent := s.parent
	if s.started {
		s.fenceLocked()
	}
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	return s.Start(parent, settings)
}

// fenceLocked retires the running generation. Cancelling its context cuts
// short an in-flight exec; the merge rolls back and the poller is not frozen.
func (s *Scheduler) fenceLocked() {
	s.generation++
	s.cancel()
	s.started = false
	s.cancel = nil
	s.done = nil
	s.tasks = nil
}

func (s *Scheduler) launchLocked() {
	s.generation++
	ctx, cancel := context.WithCancel(s.parent)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.started = true
	s.metrics.interval.Set(s.interval.Seconds())
	s.metrics.queueLength.Set(float64(len(s.tasks)))
	go s.run(ctx, s.generation, done)
}

func (s *Scheduler) loadRunners(ctx context.Context) ([]Runner, error) {
	streams, err := s.streams.ListStreams(ctx)
	if err != nil {
		return nil, fmt.Errorf("load streams: %w", err)
	}
	runners := make([]Runner, 0, len(streams))
	for _, st := range streams {
		if !st.Enabled || !st.Kind.Polled() {
			continue
		}
		r, err := s.factory(st)
		if err != nil {
			s.logger.Warn("skipping stream without poller", "stream_id", st.ID, "error", err)
			continue
		}
		runners = append(runners, r)
	}
	return runners, nil
}

func (s *Scheduler) run(ctx context.Context, gen uint64, done chan<- struct{}) {
	defer close(done)
	for {
		if ctx.Err() != nil {
			return
		}
		r, settings, ok, current := s.pop(gen)
		if !current {
			return
		}
		if ok {
			start := time.Now()
			res := r.Exec(ctx, settings.Poller)
			s.metrics.observe(res, time.Since(start))
			if !s.requeue(gen, r, res) {
				return
			}
		}
		if !sleepOrDone(ctx, s.Interval()) {
			return
		}
	}
}

// pop takes the head task. current is false once gen is superseded.
func (s *Scheduler) pop(gen uint64) (Runner, Settings, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return nil, Settings{}, false, false
	}
	if len(s.tasks) == 0 {
		return nil, s.settings, false, true
	}
	head := s.tasks[0]
	s.tasks = s.tasks[1:]
	s.metrics.queueLength.Set(float64(len(s.tasks)))
	return head.runner, s.settings, true, true
}

// requeue re-inserts r if it is still registered and grows the interval
// when the remote signalled rate-limit exhaustion.
func (s *Scheduler) requeue(gen uint64, r Runner, res poller.ExecResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	if s.registry[r.StreamID()] == r {
		s.tasks = insertTask(s.tasks, task{runner: r, priority: r.Priority()})
	}
	if res.RateLimited {
		next := min(s.interval+s.settings.IntervalStep, s.settings.MaxInterval)
		if next != s.interval {
			s.logger.Warn("rate limit exhausted; slowing down", "interval", next)
			s.interval = next
		}
	}
	s.metrics.interval.Set(s.interval.Seconds())
	s.metrics.queueLength.Set(float64(len(s.tasks)))
	return true
}

// RefreshStream drops the stream's poller and, when the stream is still
// enabled, queues a fresh one at elevated priority.
func (s *Scheduler) RefreshStream(ctx context.Context, id int64) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}

	st, err := s.streams.GetStream(ctx, id)
	if err != nil {
		return fmt.Errorf("load stream %d: %w", id, err)
	}
	var r Runner
	if st.Enabled && st.Kind.Polled() {
		if r, err = s.factory(*st); err != nil {
			return fmt.Errorf("build poller for stream %d: %w", id, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
	if r != nil {
		s.registry[id] = r
		s.tasks = insertTask(s.tasks, task{runner: r, priority: refreshPriority})
	}
	s.metrics.queueLength.Set(float64(len(s.tasks)))
	return nil
}

// DeleteStream drops the stream's poller. A running exec finishes and is
// not re-queued.
func (s *Scheduler) DeleteStream(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
	s.metrics.queueLength.Set(float64(len(s.tasks)))
}

func (s *Scheduler) removeLocked(id int64) {
	delete(s.registry, id)
	kept := s.tasks[:0]
	for _, t := range s.tasks {
		if t.runner.StreamID() != id {
			kept = append(kept, t)
		}
	}
	s.tasks = kept
}

// QueriesForStream returns the search queries the stream's poller runs.
func (s *Scheduler) QueriesForStream(ctx context.Context, id int64) ([]string, error) {
	s.mu.Lock()
	r, ok := s.registry[id]
	settings := s.settings
	s.mu.Unlock()
	if !ok {
		return nil, ErrUnknownStream
	}
	return r.Queries(ctx, settings.Poller)
}

// Interval is the current pause between execs.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Queue lists stream ids in execution order.
func (s *Scheduler) Queue() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, len(s.tasks))
	for i, t := range s.tasks {
		ids[i] = t.runner.StreamID()
	}
	return ids
}

// insertTask places t right after the last task whose priority is at least
// t's, keeping tiers FIFO.
func insertTask(tasks []task, t task) []task {
	idx := 0
	for i, existing := range tasks {
		if existing.priority >= t.priority {
			idx = i + 1
		}
	}
	tasks = append(tasks, task{})
	copy(tasks[idx+1:], tasks[idx:])
	tasks[idx] = t
	return tasks
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
