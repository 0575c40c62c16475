// Package jobs builds scheduler tasks that run registered payload handlers.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"taskclock/internal/domain"
	"taskclock/internal/scheduler"
	"taskclock/internal/worker"
)

var ErrUnknownHandler = errors.New("unknown handler")

type Catalog struct {
	sched    *scheduler.Scheduler
	handlers map[string]worker.Handler
}

func NewCatalog(sched *scheduler.Scheduler, handlers map[string]worker.Handler) *Catalog {
	return &Catalog{sched: sched, handlers: handlers}
}

// Handlers returns the registered handler names, sorted.
func (c *Catalog) Handlers() []string {
	names := make([]string, 0, len(c.handlers))
	for name := range c.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Create registers a task for spec. Every task built here broadcasts its
// outcomes so the journal and the event bridge see them.
func (c *Catalog) Create(spec domain.TaskSpec) (*scheduler.Task, error) {
	h, ok := c.handlers[spec.Handler]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownHandler, spec.Handler)
	}
	payload := spec.Payload
	work := func(ctx context.Context) (any, error) {
		return h.Handle(ctx, payload)
	}
	typ := spec.Type
	if typ == "" {
		typ = spec.Handler
	}
	opt := scheduler.Options{
		Type:          typ,
		Params:        payload,
		Triggers:      spec.Triggers,
		Inform:        true,
		NextAfterDone: spec.AfterDone,
	}

	switch spec.Kind {
	case "timeout", "":
		switch {
		case spec.Cron != "":
			return timeout(c.sched.NewTimeoutCron(spec.Cron, work, opt))
		case spec.PlannedTime != nil:
			return timeout(c.sched.NewTimeoutAt(*spec.PlannedTime, work, opt))
		case spec.DelayMs > 0:
			return timeout(c.sched.NewTimeout(work, ms(spec.DelayMs), opt))
		}
	case "interval":
		switch {
		case spec.Cron != "":
			return interval(c.sched.NewIntervalCron(spec.Cron, work, opt))
		case spec.PlannedTime != nil:
			return interval(c.sched.NewIntervalAt(*spec.PlannedTime, work, opt))
		case spec.IntervalMs > 0:
			return interval(c.sched.NewInterval(work, ms(spec.IntervalMs), opt))
		}
	default:
		return nil, fmt.Errorf("%w: kind %q", scheduler.ErrInvalidParams, spec.Kind)
	}
	return nil, fmt.Errorf("%w: no fire time for %s task", scheduler.ErrInvalidParams, spec.Kind)
}

func ms(n int64) time.Duration { return time.Duration(n) * time.Millisecond }

func timeout(t *scheduler.Timeout, err error) (*scheduler.Task, error) {
	if err != nil {
		return nil, err
	}
	return t.Task, nil
}

func interval(t *scheduler.Interval, err error) (*scheduler.Task, error) {
	if err != nil {
		return nil, err
	}
	return t.Task, nil
}
