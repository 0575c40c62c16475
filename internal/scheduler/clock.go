package scheduler

import (
	"sync"
	"time"
)

// Timer is a pending single-shot or periodic callback.
type Timer interface {
	Stop() bool
}

// Clock supplies the time source and timer primitives used for dispatch.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	Tick(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

func (realClock) Tick(d time.Duration, f func()) Timer {
	t := &ticker{stop: make(chan struct{})}
	go t.run(d, f)
	return t
}

type ticker struct {
	stop chan struct{}
	once sync.Once
}

func (t *ticker) run(d time.Duration, f func()) {
	tk := time.NewTicker(d)
	defer tk.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-tk.C:
			f()
		}
	}
}

func (t *ticker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		close(t.stop)
		stopped = true
	})
	return stopped
}
