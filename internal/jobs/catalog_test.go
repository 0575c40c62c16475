package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"taskclock/internal/domain"
	"taskclock/internal/scheduler"
	"taskclock/internal/worker"
)

type echo struct{}

func (echo) Handle(_ context.Context, payload json.RawMessage) (any, error) {
	return string(payload), nil
}

func newCatalog(t *testing.T) (*Catalog, *scheduler.Scheduler) {
	t.Helper()
	s := scheduler.New(scheduler.Config{})
	t.Cleanup(s.Close)
	return NewCatalog(s, map[string]worker.Handler{"echo": echo{}, "noop": echo{}}), s
}

func TestCreate(t *testing.T) {
	t.Parallel()
	c, s := newCatalog(t)
	at := time.Now().Add(time.Hour)

	tests := []struct {
		name     string
		spec     domain.TaskSpec
		interval bool
		cron     string
	}{
		{"delay", domain.TaskSpec{Handler: "echo", DelayMs: 500}, false, ""},
		{"timeout at", domain.TaskSpec{Handler: "echo", Kind: "timeout", PlannedTime: &at}, false, ""},
		{"timeout cron", domain.TaskSpec{Handler: "echo", Kind: "timeout", Cron: "@hourly"}, false, "@hourly"},
		{"every", domain.TaskSpec{Handler: "echo", Kind: "interval", IntervalMs: 1000, Triggers: 2}, true, ""},
		{"interval at", domain.TaskSpec{Handler: "echo", Kind: "interval", PlannedTime: &at}, true, ""},
		{"interval cron", domain.TaskSpec{Handler: "echo", Kind: "interval", Cron: "*/5 * * * *"}, true, "*/5 * * * *"},
	}
	for _, tt := range tests {
		task, err := c.Create(tt.spec)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		info := task.Info()
		if info.IsInterval != tt.interval || info.Cron != tt.cron || !info.Inform || info.Type != "echo" {
			t.Errorf("%s: info = %+v", tt.name, info)
		}
	}
	if s.Len() != len(tests) {
		t.Fatalf("registered %d tasks, want %d", s.Len(), len(tests))
	}
}

func TestCreateRunsHandler(t *testing.T) {
	t.Parallel()
	c, _ := newCatalog(t)
	task, err := c.Create(domain.TaskSpec{Handler: "echo", Type: "greeting", DelayMs: 10, Payload: json.RawMessage(`{"hi":1}`)})
	if err != nil {
		t.Fatal(err)
	}
	res, err := task.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Response != `{"hi":1}` || res.Type != "greeting" {
		t.Fatalf("result = %+v", res)
	}
}

func TestCreateRejects(t *testing.T) {
	t.Parallel()
	c, s := newCatalog(t)

	if _, err := c.Create(domain.TaskSpec{Handler: "missing", DelayMs: 1}); !errors.Is(err, ErrUnknownHandler) {
		t.Fatalf("err = %v, want ErrUnknownHandler", err)
	}
	if _, err := c.Create(domain.TaskSpec{Handler: "echo", Kind: "sometimes", DelayMs: 1}); !errors.Is(err, scheduler.ErrInvalidParams) {
		t.Fatalf("err = %v, want ErrInvalidParams", err)
	}
	if _, err := c.Create(domain.TaskSpec{Handler: "echo", Kind: "interval"}); !errors.Is(err, scheduler.ErrInvalidParams) {
		t.Fatalf("err = %v, want ErrInvalidParams", err)
	}
	if _, err := c.Create(domain.TaskSpec{Handler: "echo", Cron: "nope"}); !errors.Is(err, scheduler.ErrInvalidCron) {
		t.Fatalf("err = %v, want ErrInvalidCron", err)
	}
	if s.Len() != 0 {
		t.Fatal("rejected specs must not register tasks")
	}
	if got := c.Handlers(); len(got) != 2 || got[0] != "echo" || got[1] != "noop" {
		t.Fatalf("handlers = %v", got)
	}
}
