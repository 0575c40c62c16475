package worker

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
)

// Handler turns a JSON payload into a unit of work.
type Handler interface {
	Handle(ctx context.Context, payload json.RawMessage) (any, error)
}

// Pool runs functions on their own goroutines, at most size at a time.
// A size of zero or less means unbounded.
type Pool struct {
	mu       sync.Mutex
	closed   bool
	sem      chan struct{}
	wg       sync.WaitGroup
	inFlight atomic.Int64
}

func NewPool(size int) *Pool {
	p := &Pool{}
	if size > 0 {
		p.sem = make(chan struct{}, size)
	}
	return p
}

// Go blocks while the pool is full, then runs fn asynchronously. It reports
// false without running fn once the pool is closed.
func (p *Pool) Go(fn func()) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.wg.Add(1)
	p.mu.Unlock()

	if p.sem != nil {
		p.sem <- struct{}{}
	}
	p.inFlight.Add(1)
	go func() {
		defer func() {
			p.inFlight.Add(-1)
			if p.sem != nil {
				<-p.sem
			}
			p.wg.Done()
		}()
		fn()
	}()
	return true
}

// Wait blocks until every function started with Go has returned.
func (p *Pool) Wait() { p.wg.Wait() }

// Stop makes Go reject new functions. Running ones are not affected.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Close stops accepting functions and waits for the running ones.
func (p *Pool) Close() {
	p.Stop()
	p.wg.Wait()
}

// Reopen accepts functions again after Close.
func (p *Pool) Reopen() {
	p.mu.Lock()
	p.closed = false
	p.mu.Unlock()
}

func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) InFlight() int { return int(p.inFlight.Load()) }

// Size returns the concurrency limit, zero when unbounded.
func (p *Pool) Size() int { return cap(p.sem) }
