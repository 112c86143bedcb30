// Package pool provides the fixed-size worker pool that all forwarding
// tasks run on. The pool size bounds OS-level parallelism; logical tasks
// (accept loops, relays, session readers) are multiplexed over it, so a
// task blocked on I/O never starves the others.
package pool

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
)

type Pool struct {
	workers int
	log     logrus.FieldLogger
	wg      sync.WaitGroup
}

// New creates a pool with the given number of workers. A count of zero or
// less means one worker per logical CPU. The size is fixed for the lifetime
// of the pool.
func New(workers int, log logrus.FieldLogger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	runtime.GOMAXPROCS(workers)
	return &Pool{workers: workers, log: log}
}

func (p *Pool) Workers() int {
	return p.workers
}

// Go runs f as a tracked task. A panicking task is logged and absorbed so
// one broken flow cannot take the process down.
func (p *Pool) Go(f func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.log.Errorf("task panic: %v\n%s", r, debug.Stack())
			}
		}()
		f()
	}()
}

// Wait blocks until every task started with Go has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
