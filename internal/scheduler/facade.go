package scheduler

import (
	"fmt"
	"time"
)

// Options holds the settings shared by the Timeout and Interval
// constructors. Triggers and NextAfterDone only apply to intervals.
type Options struct {
	Type          string
	Params        any
	Triggers      int
	Inform        bool
	NextAfterDone bool
	OnDone        DoneFunc
	OnError       ErrorFunc
}

func (o Options) params(p Params) Params {
	p.Type = o.Type
	p.Params = o.Params
	p.Inform = o.Inform
	p.OnDone = o.OnDone
	p.OnError = o.OnError
	if p.IsInterval {
		p.Triggers = o.Triggers
		p.NextAfterDone = o.NextAfterDone
	}
	return p
}

// Timeout is a task that fires once.
type Timeout struct {
	*Task
}

// Interval is a task that fires repeatedly until its trigger budget runs out.
type Interval struct {
	*Task
}

// NewTimeout fires work once, after delay.
func (s *Scheduler) NewTimeout(work Work, delay time.Duration, opt Options) (*Timeout, error) {
	return s.newTimeout(opt.params(Params{Work: work, Interval: delay}))
}

// NewTimeoutAt fires work once, at the given instant.
func (s *Scheduler) NewTimeoutAt(at time.Time, work Work, opt Options) (*Timeout, error) {
	return s.newTimeout(opt.params(Params{Work: work, PlannedTime: at}))
}

// NewTimeoutCron fires work once, at the next instant matching expr.
func (s *Scheduler) NewTimeoutCron(expr string, work Work, opt Options) (*Timeout, error) {
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidCron)
	}
	return s.newTimeout(opt.params(Params{Work: work, Cron: expr}))
}

func (s *Scheduler) newTimeout(p Params) (*Timeout, error) {
	t, err := s.NewTask(p)
	if err != nil {
		return nil, err
	}
	return &Timeout{Task: t}, nil
}

// NewInterval fires work every period, starting one period from now.
func (s *Scheduler) NewInterval(work Work, every time.Duration, opt Options) (*Interval, error) {
	return s.newInterval(opt.params(Params{Work: work, Interval: every, IsInterval: true}))
}

// NewIntervalAt fires work first at the given instant and then repeatedly
// with the distance between now and that instant as the period.
func (s *Scheduler) NewIntervalAt(at time.Time, work Work, opt Options) (*Interval, error) {
	return s.newInterval(opt.params(Params{Work: work, PlannedTime: at, IsInterval: true}))
}

// NewIntervalCron fires work at every instant matching expr.
func (s *Scheduler) NewIntervalCron(expr string, work Work, opt Options) (*Interval, error) {
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidCron)
	}
	return s.newInterval(opt.params(Params{Work: work, Cron: expr, IsInterval: true}))
}

func (s *Scheduler) newInterval(p Params) (*Interval, error) {
	t, err := s.NewTask(p)
	if err != nil {
		return nil, err
	}
	return &Interval{Task: t}, nil
}

// Pause stops the interval from firing until Unpause. It reports whether
// the task was awaiting its next run and is now paused.
func (i *Interval) Pause() bool {
	ok, _ := i.setPaused(true)
	return ok
}

// Unpause resumes a paused interval.
func (i *Interval) Unpause() bool {
	ok, _ := i.setPaused(false)
	return ok
}
