package command

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/codewandler/aggstore/internal/shard"
)

// pool runs async dispatches on a fixed number of lanes. Every lane works
// off its own FIFO queue, so tasks with the same key run one after the other
// in submission order. Scheduling never blocks.
type pool struct {
	ctx      context.Context
	cancel   context.CancelFunc
	log      *slog.Logger
	sharder  shard.Sharder
	lanes    []*lane
	inflight atomic.Int32
	metrics  Metrics
	wg       sync.WaitGroup
}

type task struct {
	run   func()
	abort func()
}

type lane struct {
	mu     sync.Mutex
	queue  []task
	closed bool
	wake   chan struct{}
}

func newPool(size int, log *slog.Logger, metrics Metrics) *pool {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &pool{
		ctx:     ctx,
		cancel:  cancel,
		log:     log,
		sharder: shard.Distributed(size),
		lanes:   make([]*lane, size),
		metrics: metrics,
	}
	for i := range p.lanes {
		l := &lane{wake: make(chan struct{}, 1)}
		p.lanes[i] = l
		p.wg.Add(1)
		go p.work(l)
	}
	return p
}

// schedule queues f on the lane of key. abort is called instead if the pool
// shuts down before f started.
func (p *pool) schedule(key string, f func(), abort func()) bool {
	l := p.lanes[p.sharder.GetShardForKey(key)]
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, task{run: f, abort: abort})
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *lane) pop() (task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return task{}, false
	}
	t := l.queue[0]
	l.queue[0] = task{}
	l.queue = l.queue[1:]
	return t, true
}

// shutdown marks the lane closed and returns what was still queued.
func (l *lane) shutdown() []task {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	rest := l.queue
	l.queue = nil
	return rest
}

func (p *pool) work(l *lane) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			rest := l.shutdown()
			if len(rest) > 0 {
				p.log.Debug("aborting queued commands", slog.Int("count", len(rest)))
			}
			for _, t := range rest {
				t.abort()
			}
			return
		case <-l.wake:
		}

		for p.ctx.Err() == nil {
			t, ok := l.pop()
			if !ok {
				break
			}
			p.metrics.CommandsInflight(int(p.inflight.Add(1)))
			t.run()
			p.metrics.CommandsInflight(int(p.inflight.Add(-1)))
		}
	}
}

func (p *pool) close() {
	p.cancel()
	p.wg.Wait()
}

// Future is the pending outcome of DispatchAsync.
type Future struct {
	done chan struct{}
	res  Result
	err  error
}

func newFuture() *Future { return &Future{done: make(chan struct{})} }

func (f *Future) resolve(res Result, err error) {
	f.res, f.err = res, err
	close(f.done)
}

// Done is closed once the command finished.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the command finished or ctx is done.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func recoverPanic(typ string, log *slog.Logger, err *error) {
	if r := recover(); r != nil {
		log.Error("command handler panicked", slog.String("cmd_type", typ), slog.Any("recovered", r))
		*err = fmt.Errorf("command %s panicked: %v", typ, r)
	}
}
