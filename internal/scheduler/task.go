package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type Status string

const (
	StatusAwait   Status = "await"
	StatusProcess Status = "process"
	StatusPause   Status = "pause"
	StatusDone    Status = "done"
)

const defaultType = "missing"

// Work is the unit of work a task runs on every firing.
type Work func(ctx context.Context) (any, error)

type DoneFunc func(resp any, r *Result)

type ErrorFunc func(err error, r *Result)

// Params is the parameter object accepted by NewTask.
//
// One of PlannedTime, Cron or Interval must resolve a fire time. Triggers
// bounds the number of firings of a repeating task; zero or less means
// unbounded.
type Params struct {
	Type          string
	Params        any
	PlannedTime   time.Time
	Cron          string
	Interval      time.Duration
	Triggers      int
	Inform        bool
	IsInterval    bool
	NextAfterDone bool
	Work          Work
	OnDone        DoneFunc
	OnError       ErrorFunc
}

// Result describes one execution of a task.
type Result struct {
	ID       string
	Type     string
	Created  time.Time
	Params   any
	Response any
	Err      error

	// Delay is how late the work function was invoked relative to the fire
	// time in effect when the execution started.
	Delay         time.Duration
	ExecutionTime time.Duration
	NextExecute   time.Time
	Task          *Task
}

type intervalState struct {
	every         time.Duration
	nextAfterDone bool
	infinite      bool
	remaining     int
	triggered     int
}

// Task is one schedulable unit. All mutable state is guarded by the owning
// Scheduler's mutex.
type Task struct {
	s *Scheduler

	id         string
	typ        string
	created    time.Time
	params     any
	work       Work
	cron       string
	inform     bool
	isInterval bool

	status      Status
	nextExecute time.Time
	interval    intervalState
	timer       Timer
	timerGen    uint64
	onDone      DoneFunc
	onError     ErrorFunc
}

// NewTask validates p, computes the first fire time and registers the task.
func (s *Scheduler) NewTask(p Params) (*Task, error) {
	now := s.clock.Now()
	planned := p.PlannedTime
	every := p.Interval

	if every < 0 {
		return nil, fmt.Errorf("%w: negative interval %s", ErrInvalidParams, every)
	}
	if p.Cron != "" && planned.IsZero() {
		next, err := NextFireTime(p.Cron, now.In(s.loc))
		if err != nil {
			return nil, err
		}
		planned = next
	}
	if planned.IsZero() && every > 0 {
		planned = now.Add(every)
	}
	if p.Work == nil {
		return nil, fmt.Errorf("%w: work function", ErrInvalidParams)
	}
	if planned.IsZero() {
		return nil, fmt.Errorf("%w: fire time", ErrInvalidParams)
	}
	if p.IsInterval && every == 0 && p.Cron == "" {
		every = planned.Sub(now)
		if every <= 0 {
			return nil, fmt.Errorf("%w: planned time %s is not in the future", ErrInvalidParams, planned.Format(time.RFC3339))
		}
	}

	typ := p.Type
	if typ == "" {
		typ = defaultType
	}
	t := &Task{
		s:          s,
		typ:        typ,
		created:    now,
		params:     p.Params,
		work:       p.Work,
		cron:       p.Cron,
		inform:     p.Inform,
		isInterval: p.IsInterval,

		status:      StatusAwait,
		nextExecute: planned,
		interval: intervalState{
			every:         every,
			nextAfterDone: p.NextAfterDone,
			infinite:      p.IsInterval && p.Triggers <= 0,
			remaining:     p.Triggers,
		},
		onDone:  p.OnDone,
		onError: p.OnError,
	}

	s.mu.Lock()
	t.id = s.registry.GenerateID()
	if s.mode == ModeTimeout {
		t.armLocked(now)
	}
	s.registry.Insert(s.registry.FindInsertionIndex(planned, t.id), t)
	s.mu.Unlock()

	s.log.Debug().
		Str("task_id", t.id).
		Str("task_type", t.typ).
		Bool("interval", t.isInterval).
		Time("next_execute", planned).
		Msg("task registered")
	return t, nil
}

func (t *Task) ID() string { return t.id }

func (t *Task) Type() string { return t.typ }

func (t *Task) Created() time.Time { return t.created }

func (t *Task) Params() any { return t.params }

func (t *Task) IsInterval() bool { return t.isInterval }

func (t *Task) Status() Status {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.status
}

// NextExecute is the instant at which the task is eligible to run.
func (t *Task) NextExecute() time.Time {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.nextExecute
}

func (t *Task) TriggeringQuantity() int {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.interval.triggered
}

// RemainingTriggers is meaningless for unbounded tasks.
func (t *Task) RemainingTriggers() int {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.interval.remaining
}

// Info is a point-in-time copy of a task's state.
type Info struct {
	ID            string
	Type          string
	Created       time.Time
	Status        Status
	NextExecute   time.Time
	Cron          string
	Interval      time.Duration
	IsInterval    bool
	Infinite      bool
	NextAfterDone bool
	Remaining     int
	Triggered     int
	Inform        bool
	Armed         bool
}

func (t *Task) Info() Info {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.infoLocked()
}

func (t *Task) infoLocked() Info {
	return Info{
		ID:            t.id,
		Type:          t.typ,
		Created:       t.created,
		Status:        t.status,
		NextExecute:   t.nextExecute,
		Cron:          t.cron,
		Interval:      t.interval.every,
		IsInterval:    t.isInterval,
		Infinite:      t.interval.infinite,
		NextAfterDone: t.interval.nextAfterDone,
		Remaining:     t.interval.remaining,
		Triggered:     t.interval.triggered,
		Inform:        t.inform,
		Armed:         t.timer != nil,
	}
}

// OnDone sets the callback invoked after a successful execution.
func (t *Task) OnDone(fn DoneFunc) *Task {
	t.s.mu.Lock()
	t.onDone = fn
	t.s.mu.Unlock()
	return t
}

// OnError sets the callback invoked when the work function fails.
func (t *Task) OnError(fn ErrorFunc) *Task {
	t.s.mu.Lock()
	t.onError = fn
	t.s.mu.Unlock()
	return t
}

// Destroy cancels any pending timer and removes the task from the registry.
// An execution already in flight is not interrupted, but the task will not
// fire again.
func (t *Task) Destroy() {
	t.s.mu.Lock()
	t.stopTimerLocked()
	t.s.registry.Remove(t)
	t.status = StatusDone
	t.s.mu.Unlock()

	t.s.log.Debug().Str("task_id", t.id).Msg("task destroyed")
}

// UseTimeout forces a per-task timer for the task, whatever the dispatch mode.
func (t *Task) UseTimeout() *Task {
	t.s.mu.Lock()
	if t.timer == nil && (t.status == StatusAwait || t.status == StatusPause) {
		t.armLocked(t.s.clock.Now())
	}
	t.s.mu.Unlock()
	return t
}

// Execute runs the task now, outside its schedule, and returns the result.
// Errors from the work function are reported in Result.Err; the returned
// error is only set when the task cannot be executed at all. The run goes
// through the execution pool, so it waits for a free slot and fails with
// ErrClosed while the scheduler is closed.
func (t *Task) Execute(ctx context.Context) (*Result, error) {
	t.s.mu.Lock()
	prev := t.status
	switch prev {
	case StatusProcess:
		t.s.mu.Unlock()
		return nil, ErrTaskBusy
	case StatusDone:
		t.s.mu.Unlock()
		return nil, ErrTaskDone
	}
	old := t.claimLocked(t.s.clock.Now())
	t.s.mu.Unlock()

	var res *Result
	done := make(chan struct{})
	if !t.s.pool.Go(func() {
		defer close(done)
		res = t.execute(ctx, old, true)
	}) {
		t.s.mu.Lock()
		t.releaseLocked(old, prev)
		t.s.mu.Unlock()
		return nil, ErrClosed
	}
	<-done
	return res, nil
}

func (t *Task) setPaused(paused bool) (bool, error) {
	if !t.isInterval {
		return false, ErrNotInterval
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if paused {
		if t.status != StatusAwait {
			return false, nil
		}
		t.status = StatusPause
		return true, nil
	}
	if t.status != StatusPause {
		return false, nil
	}
	t.status = StatusAwait
	if t.s.mode == ModeTimeout && t.timer == nil {
		t.armLocked(t.s.clock.Now())
	}
	return true, nil
}

// armLocked replaces any pending timer with one firing at nextExecute.
func (t *Task) armLocked(now time.Time) {
	t.stopTimerLocked()
	gen := t.timerGen
	d := max(t.nextExecute.Sub(now), 0)
	t.timer = t.s.clock.AfterFunc(d, func() { t.s.fireTimer(t, gen) })
}

// stopTimerLocked cancels the pending timer. Bumping the generation makes a
// callback that already started ignore itself.
func (t *Task) stopTimerLocked() {
	t.timerGen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// claimLocked moves the task into process and returns the fire time that
// was in effect. Unless the next run is measured from completion, the next
// fire time is computed here, before the work runs.
func (t *Task) claimLocked(now time.Time) time.Time {
	old := t.nextExecute
	t.status = StatusProcess
	t.stopTimerLocked()
	if t.isInterval && !t.interval.nextAfterDone {
		t.setNextExecuteLocked(now)
		t.s.registry.Relocate(t)
	}
	return old
}

// releaseLocked undoes a claim whose execution never started.
func (t *Task) releaseLocked(old time.Time, prev Status) {
	if t.status != StatusProcess {
		return
	}
	t.status = prev
	t.nextExecute = old
	t.s.registry.Relocate(t)
	if t.s.mode == ModeTimeout {
		t.armLocked(t.s.clock.Now())
	}
}

// setNextExecuteLocked recomputes the fire time of a repeating task. An
// unusable cron expression terminates the task.
func (t *Task) setNextExecuteLocked(now time.Time) {
	if t.cron == "" {
		t.nextExecute = now.Add(t.interval.every)
		return
	}
	next, err := NextFireTime(t.cron, now.In(t.s.loc))
	if err != nil {
		t.s.log.Error().Err(err).Str("task_id", t.id).Str("cron", t.cron).Msg("cannot compute next fire time")
		t.status = StatusDone
		return
	}
	t.nextExecute = next
}

// settleLocked advances the repeat bookkeeping after the work returned and
// either retires the task or puts it back in line.
func (t *Task) settleLocked(now time.Time) {
	if t.isInterval {
		t.interval.triggered++
		if !t.interval.infinite {
			t.interval.remaining--
		}
		if t.interval.nextAfterDone {
			t.setNextExecuteLocked(now)
		}
	}

	again := t.interval.infinite || t.interval.remaining > 0
	if t.isInterval && again && t.status == StatusProcess {
		t.status = StatusAwait
	} else {
		t.status = StatusDone
	}

	if t.status == StatusDone {
		t.stopTimerLocked()
		t.s.registry.Remove(t)
		return
	}
	t.s.registry.Relocate(t)
	if t.s.mode == ModeTimeout {
		t.armLocked(now)
	}
}

func (t *Task) invoke(ctx context.Context) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.work(ctx)
}

// execute runs a claimed task. It returns nil when want is false and nothing
// consumes the result.
func (t *Task) execute(ctx context.Context, oldPlanned time.Time, want bool) *Result {
	s := t.s
	start := s.clock.Now()
	resp, err := t.invoke(ctx)
	end := s.clock.Now()

	s.mu.Lock()
	t.settleLocked(end)
	onDone, onError := t.onDone, t.onError
	next := t.nextExecute
	status := t.status
	s.mu.Unlock()

	var ev *zerolog.Event
	if err != nil {
		ev = s.log.Warn().Err(err)
	} else {
		ev = s.log.Debug()
	}
	ev.Str("task_id", t.id).
		Str("task_type", t.typ).
		Dur("took", end.Sub(start)).
		Str("status", string(status)).
		Msg("task executed")

	if !want && !t.inform && onDone == nil && onError == nil {
		return nil
	}

	r := &Result{
		ID:            t.id,
		Type:          t.typ,
		Created:       t.created,
		Params:        t.params,
		Delay:         start.Sub(oldPlanned),
		ExecutionTime: end.Sub(start),
		NextExecute:   next,
		Task:          t,
	}
	if err != nil {
		r.Err = err
		if onError != nil {
			s.safeCall("on_error", t, func() { onError(err, r) })
		}
		if t.inform {
			s.events.publish(Event{Kind: EventException, Err: err, Result: r})
		}
		return r
	}

	r.Response = resp
	if onDone != nil {
		s.safeCall("on_done", t, func() { onDone(resp, r) })
	}
	if t.inform {
		s.events.publish(Event{Kind: EventResponse, Response: resp, Result: r})
	}
	return r
}
