package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jaennil/guide_helper/tilestream/pkg/config"
	"github.com/jaennil/guide_helper/tilestream/pkg/logger"
	"github.com/jaennil/guide_helper/tilestream/pkg/metrics"
	"github.com/jaennil/guide_helper/tilestream/pkg/telemetry"
)

var (
	ErrUnknownProtocol   = errors.New("unknown protocol")
	ErrDuplicateProtocol = errors.New("protocol already registered")
	ErrDefinitiveError   = errors.New("requester is in definitive error")
	ErrNilCommand        = errors.New("nil command")
	ErrProviderPanic     = errors.New("provider panicked")
)

// Executor runs commands of one protocol. It is called from its own
// goroutine and must honour ctx to be abortable.
type Executor interface {
	ExecuteCommand(ctx context.Context, cmd *Command) (any, error)
}

type completion struct {
	cmd   *Command
	value any
	err   error
}

// Scheduler orders commands by priority and runs at most MaxConcurrency of
// them at once. It is driven by a single goroutine: Submit, Cancel,
// Dispatch and Poll must not be called concurrently. The counters may be
// read from anywhere.
type Scheduler struct {
	maxConcurrency int
	executors      map[string]Executor
	queue          commandQueue
	queued         map[Handle]*Command
	inflight       map[Handle]*Command
	seq            uint64

	pending atomic.Int64
	running atomic.Int64

	done chan completion
	wake chan struct{}

	logger logger.Logger
	tracer trace.Tracer
}

func New(cfg config.Scheduler, l logger.Logger) *Scheduler {
	limit := cfg.MaxConcurrency
	if limit <= 0 {
		limit = 1
	}
	return &Scheduler{
		maxConcurrency: limit,
		executors:      make(map[string]Executor),
		queued:         make(map[Handle]*Command),
		inflight:       make(map[Handle]*Command),
		done:           make(chan completion, limit),
		wake:           make(chan struct{}, 1),
		logger:         l,
		tracer:         telemetry.Tracer(),
	}
}

func (s *Scheduler) Register(protocol string, e Executor) error {
	if e == nil {
		return fmt.Errorf("register %q: nil executor", protocol)
	}
	if _, ok := s.executors[protocol]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateProtocol, protocol)
	}
	s.executors[protocol] = e
	return nil
}

func (s *Scheduler) HasProtocol(protocol string) bool {
	_, ok := s.executors[protocol]
	return ok
}

func (s *Scheduler) MaxConcurrency() int {
	return s.maxConcurrency
}

func (s *Scheduler) PendingCount() int {
	return int(s.pending.Load())
}

func (s *Scheduler) RunningCount() int {
	return int(s.running.Load())
}

// Completions signals that results are waiting for Poll.
func (s *Scheduler) Completions() <-chan struct{} {
	return s.wake
}

// Submit queues cmd. Requests for a requester in definitive error are
// refused until its tracker is reset.
func (s *Scheduler) Submit(cmd *Command) (Handle, error) {
	if cmd == nil {
		return 0, ErrNilCommand
	}
	if _, ok := s.executors[cmd.Protocol]; !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownProtocol, cmd.Protocol)
	}
	if cmd.Tracker != nil && cmd.Tracker.Definitive() {
		return 0, fmt.Errorf("%w: %s", ErrDefinitiveError, cmd.Key)
	}

	s.seq++
	cmd.handle = Handle(s.seq)
	if cmd.PriorityFunc != nil {
		cmd.Priority = cmd.PriorityFunc()
	}
	cmd.setState(StateQueued)
	heap.Push(&s.queue, cmd)
	s.queued[cmd.handle] = cmd
	s.pending.Add(1)
	if cmd.Tracker != nil {
		cmd.Tracker.Pending()
	}

	metrics.CommandsSubmitted.WithLabelValues(cmd.Protocol).Inc()
	metrics.CommandsPending.Set(float64(s.pending.Load()))
	return cmd.handle, nil
}

// Cancel drops a queued command, or aborts a dispatched one whose result
// will then be discarded. It reports whether the command was still live.
func (s *Scheduler) Cancel(h Handle) bool {
	if cmd, ok := s.queued[h]; ok {
		heap.Remove(&s.queue, cmd.index)
		s.dropQueued(cmd)
		return true
	}
	if cmd, ok := s.inflight[h]; ok {
		cmd.aborted = true
		cmd.cancel()
		return true
	}
	return false
}

// Dispatch re-evaluates queued priorities and cancellation predicates and
// hands as many commands to their providers as free slots allow. It also
// aborts running commands whose requester went away. It returns the number
// of commands started.
func (s *Scheduler) Dispatch(ctx context.Context) int {
	for _, cmd := range s.inflight {
		if !cmd.aborted && cmd.isCancelled() {
			cmd.aborted = true
			cmd.cancel()
		}
	}

	s.refresh()

	started := 0
	for s.running.Load() < int64(s.maxConcurrency) && s.queue.Len() > 0 {
		cmd := heap.Pop(&s.queue).(*Command)
		if cmd.isCancelled() || (cmd.Tracker != nil && cmd.Tracker.Definitive()) {
			s.dropQueued(cmd)
			continue
		}
		delete(s.queued, cmd.handle)
		s.pending.Add(-1)
		s.launch(ctx, cmd)
		started++
	}

	metrics.CommandsPending.Set(float64(s.pending.Load()))
	metrics.CommandsRunning.Set(float64(s.running.Load()))
	return started
}

// Poll applies every result received so far. Callbacks run on the calling
// goroutine. It returns the number of completions applied.
func (s *Scheduler) Poll() int {
	applied := 0
	for {
		select {
		case c := <-s.done:
			s.apply(c)
			applied++
		default:
			if applied > 0 {
				metrics.CommandsRunning.Set(float64(s.running.Load()))
			}
			return applied
		}
	}
}

// refresh drops cancelled commands from the queue and re-sorts the rest
// with up to date priorities.
func (s *Scheduler) refresh() {
	kept := s.queue[:0]
	for _, cmd := range s.queue {
		if cmd.isCancelled() {
			s.dropQueued(cmd)
			continue
		}
		if cmd.PriorityFunc != nil {
			cmd.Priority = cmd.PriorityFunc()
		}
		kept = append(kept, cmd)
	}
	for i := len(kept); i < len(s.queue); i++ {
		s.queue[i] = nil
	}
	s.queue = kept
	for i, cmd := range s.queue {
		cmd.index = i
	}
	heap.Init(&s.queue)
}

func (s *Scheduler) dropQueued(cmd *Command) {
	delete(s.queued, cmd.handle)
	s.pending.Add(-1)
	cmd.setState(StateCancelled)
	if cmd.Tracker != nil {
		cmd.Tracker.Cancelled()
	}
	metrics.CommandsFinished.WithLabelValues(cmd.Protocol, StateCancelled.String()).Inc()
}

func (s *Scheduler) launch(ctx context.Context, cmd *Command) {
	exec := s.executors[cmd.Protocol]
	runCtx, cancel := context.WithCancel(ctx)
	cmd.cancel = cancel
	cmd.started = time.Now()
	cmd.setState(StateDispatched)
	s.inflight[cmd.handle] = cmd
	s.running.Add(1)

	go s.execute(runCtx, exec, cmd)
}

func (s *Scheduler) execute(ctx context.Context, exec Executor, cmd *Command) {
	ctx, span := s.tracer.Start(ctx, "scheduler.execute", trace.WithAttributes(
		attribute.String("protocol", cmd.Protocol),
		attribute.String("layer", cmd.Layer),
		attribute.String("key", cmd.Key),
	))
	defer span.End()

	c := completion{cmd: cmd}
	func() {
		defer func() {
			if r := recover(); r != nil {
				c.err = fmt.Errorf("%w: %v", ErrProviderPanic, r)
			}
		}()
		c.value, c.err = exec.ExecuteCommand(ctx, cmd)
	}()

	if c.err != nil {
		span.RecordError(c.err)
		span.SetStatus(codes.Error, c.err.Error())
	}

	s.done <- c
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) apply(c completion) {
	cmd := c.cmd
	cmd.cancel()
	delete(s.inflight, cmd.handle)
	s.running.Add(-1)
	metrics.CommandLatency.WithLabelValues(cmd.Protocol).Observe(time.Since(cmd.started).Seconds())

	// the requester may have gone away while the provider was busy
	if cmd.isCancelled() {
		cmd.setState(StateCancelled)
		if cmd.Tracker != nil {
			cmd.Tracker.Cancelled()
		}
		metrics.CommandsFinished.WithLabelValues(cmd.Protocol, StateCancelled.String()).Inc()
		return
	}

	if c.err != nil {
		cmd.setState(StateFailed)
		if cmd.Tracker != nil {
			cmd.Tracker.Failure(c.err)
		}
		metrics.CommandsFinished.WithLabelValues(cmd.Protocol, StateFailed.String()).Inc()
		s.logger.Warn("command failed", "protocol", cmd.Protocol, "layer", cmd.Layer, "key", cmd.Key, "error", c.err)
		if cmd.OnError != nil {
			cmd.OnError(c.err)
		}
		return
	}

	cmd.setState(StateResolved)
	if cmd.Tracker != nil {
		cmd.Tracker.Success()
	}
	metrics.CommandsFinished.WithLabelValues(cmd.Protocol, StateResolved.String()).Inc()
	if cmd.OnResult != nil {
		cmd.OnResult(c.value)
	}
}
