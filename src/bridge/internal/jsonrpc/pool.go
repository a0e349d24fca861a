package jsonrpc

import "sync"

const defaultPoolSize = 8

// pool runs tasks on a fixed set of workers. Submission blocks once the
// queue fills, which pushes backpressure onto the read loop.
type pool struct {
	tasks chan func()
	quit  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

func newPool(size int) *pool {
	if size <= 0 {
		size = defaultPoolSize
	}
	p := &pool{
		tasks: make(chan func(), size*4),
		quit:  make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task := <-p.tasks:
			task()
		case <-p.quit:
			return
		}
	}
}

// submit enqueues a task. Tasks submitted after stop are dropped.
func (p *pool) submit(task func()) {
	select {
	case p.tasks <- task:
	case <-p.quit:
	}
}

// stop halts the workers. Queued tasks that no worker picked up are dropped.
func (p *pool) stop() {
	p.once.Do(func() {
		close(p.quit)
	})
	p.wg.Wait()
}
