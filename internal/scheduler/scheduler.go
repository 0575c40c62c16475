package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"taskclock/internal/worker"
)

type Mode string

const (
	ModeNotWork  Mode = "not_work"
	ModeTimeout  Mode = "timeout"
	ModeInterval Mode = "interval"
)

const DefaultSweepInterval = time.Second

type Config struct {
	Logger *zerolog.Logger
	Clock  Clock
	// Workers bounds concurrent executions; zero means unbounded.
	Workers       int
	SweepInterval time.Duration
	// Location is used to evaluate cron expressions without CRON_TZ.
	Location *time.Location
}

// Scheduler is an independent scheduling context: a task registry, the
// dispatch state and the notification channel.
type Scheduler struct {
	mu sync.Mutex

	log      zerolog.Logger
	clock    Clock
	loc      *time.Location
	registry *Manager
	events   *Events
	pool     *worker.Pool
	lateWarn *rate.Limiter

	mode       Mode
	sweepEvery time.Duration
	sweep      Timer

	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a scheduler in ModeNotWork: tasks can be registered but
// nothing fires until UseTimeouts or UseInterval is called.
func New(cfg Config) *Scheduler {
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "scheduler").Logger()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	every := cfg.SweepInterval
	if every <= 0 {
		every = DefaultSweepInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		log:        log,
		clock:      clock,
		loc:        loc,
		registry:   newManager(),
		events:     newEvents(log),
		pool:       worker.NewPool(cfg.Workers),
		lateWarn:   rate.NewLimiter(rate.Every(time.Second), 3),
		mode:       ModeNotWork,
		sweepEvery: every,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Scheduler) Events() *Events { return s.events }

func (s *Scheduler) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Scheduler) SweepInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepEvery
}

// InFlight returns the number of executions currently running.
func (s *Scheduler) InFlight() int { return s.pool.InFlight() }

// UseTimeouts switches to per-task timers. The periodic sweep is cancelled
// and every live task without a timer gets one for its current fire time.
func (s *Scheduler) UseTimeouts() {
	s.mu.Lock()
	s.reopenLocked()
	s.stopSweepLocked()
	now := s.clock.Now()
	armed := 0
	s.registry.ExecuteAll(func(t *Task) {
		if t.timer == nil && (t.status == StatusAwait || t.status == StatusPause) {
			t.armLocked(now)
			armed++
		}
	})
	s.mode = ModeTimeout
	s.mu.Unlock()

	s.log.Info().Str("mode", string(ModeTimeout)).Int("armed", armed).Msg("dispatch mode selected")
}

// UseInterval switches to a single periodic sweep running every d. A non
// positive d keeps the current sweep interval. Per-task timers are left
// alone.
func (s *Scheduler) UseInterval(d time.Duration) {
	s.mu.Lock()
	if d <= 0 {
		d = s.sweepEvery
	}
	s.reopenLocked()
	s.stopSweepLocked()
	s.mode = ModeInterval
	s.sweepEvery = d
	s.sweep = s.clock.Tick(d, s.runSweep)
	s.mu.Unlock()

	s.log.Info().Str("mode", string(ModeInterval)).Dur("interval", d).Msg("dispatch mode selected")
}

// Close stops all dispatch, cancels every pending timer and waits for the
// executions in flight. The context passed to running work is cancelled.
// Tasks stay registered; selecting a mode again resumes dispatch with a
// fresh context.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.stopSweepLocked()
	s.registry.ExecuteAll(func(t *Task) { t.stopTimerLocked() })
	s.mode = ModeNotWork
	s.cancel()
	s.pool.Stop()
	s.mu.Unlock()

	s.pool.Wait()
	s.log.Info().Msg("scheduler closed")
}

// reopenLocked undoes a previous Close.
func (s *Scheduler) reopenLocked() {
	if s.ctx.Err() == nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.pool.Reopen()
}

func (s *Scheduler) stopSweepLocked() {
	if s.sweep != nil {
		s.sweep.Stop()
		s.sweep = nil
	}
}

// runSweep is the periodic tick of interval mode.
func (s *Scheduler) runSweep() {
	type claimed struct {
		t   *Task
		old time.Time
	}
	var runs []claimed

	s.mu.Lock()
	if s.mode != ModeInterval {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	now := s.clock.Now()
	s.registry.Sweep(now, func(t *Task) {
		s.warnLate(t, now)
		runs = append(runs, claimed{t: t, old: t.claimLocked(now)})
	})
	s.mu.Unlock()

	for _, r := range runs {
		s.dispatch(ctx, r.t, r.old)
	}
}

// fireTimer is the callback of a per-task timer.
func (s *Scheduler) fireTimer(t *Task, gen uint64) {
	s.mu.Lock()
	if gen != t.timerGen {
		s.mu.Unlock()
		return
	}
	t.timer = nil
	now := s.clock.Now()

	switch t.status {
	case StatusAwait:
	case StatusPause:
		// A paused task skips this occurrence and waits for the next one.
		t.setNextExecuteLocked(now)
		if t.status == StatusDone {
			s.registry.Remove(t)
		} else {
			s.registry.Relocate(t)
			if s.mode == ModeTimeout {
				t.armLocked(now)
			}
		}
		s.mu.Unlock()
		return
	default:
		s.mu.Unlock()
		return
	}

	if now.Before(t.nextExecute) {
		if s.mode == ModeTimeout {
			t.armLocked(now)
		}
		s.mu.Unlock()
		return
	}
	s.warnLate(t, now)
	ctx := s.ctx
	old := t.claimLocked(now)
	s.mu.Unlock()

	s.dispatch(ctx, t, old)
}

// dispatch runs a claimed task on the pool. A claim that lost the race with
// Close is handed back so the task fires once dispatch resumes.
func (s *Scheduler) dispatch(ctx context.Context, t *Task, old time.Time) {
	if s.pool.Go(func() { t.execute(ctx, old, false) }) {
		return
	}
	s.mu.Lock()
	t.releaseLocked(old, StatusAwait)
	s.mu.Unlock()
	s.log.Debug().Str("task_id", t.id).Msg("dispatch after close; claim released")
}

func (s *Scheduler) warnLate(t *Task, now time.Time) {
	late := now.Sub(t.nextExecute)
	if late <= 2*s.sweepEvery || !s.lateWarn.Allow() {
		return
	}
	s.log.Warn().Str("task_id", t.id).Str("task_type", t.typ).Dur("late", late).Msg("task fired late")
}

func (s *Scheduler) safeCall(name string, t *Task, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("task_id", t.id).Str("callback", name).Msg("task callback panicked")
		}
	}()
	fn()
}

// Lookup returns the live task with the given id, or nil.
func (s *Scheduler) Lookup(id string) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Lookup(id)
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Len()
}

// Tasks returns the live tasks in fire time order.
func (s *Scheduler) Tasks() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, s.registry.Len())
	for _, t := range s.registry.Snapshot() {
		out = append(out, t.infoLocked())
	}
	return out
}

func (s *Scheduler) Destroy(id string) error {
	t := s.Lookup(id)
	if t == nil {
		return ErrNotFound
	}
	t.Destroy()
	return nil
}

// Pause suspends a repeating task. It reports whether the status changed.
func (s *Scheduler) Pause(id string) (bool, error) {
	t := s.Lookup(id)
	if t == nil {
		return false, ErrNotFound
	}
	return t.setPaused(true)
}

func (s *Scheduler) Unpause(id string) (bool, error) {
	t := s.Lookup(id)
	if t == nil {
		return false, ErrNotFound
	}
	return t.setPaused(false)
}
