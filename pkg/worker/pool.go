package worker

import (
	"sync"
	"sync/atomic"
)

// task is one claimed process awaiting execution. Only the uuid is
// carried; the executor reloads the row so nothing stale crosses the
// dispatch boundary.
type task struct {
	processUUID string
}

// execPool is the bounded executor pool. Each slot is a goroutine that
// rebuilds all job state from the store and registry on every run;
// slots may be recycled after a fixed number of jobs.
type execPool struct {
	tasks     chan task
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	run       func(task)
	maxJobs   int
	accepting atomic.Bool
}

func newExecPool(slots, maxJobsPerSlot, backlog int, run func(task)) *execPool {
	p := &execPool{
		tasks:   make(chan task, backlog),
		stop:    make(chan struct{}),
		run:     run,
		maxJobs: maxJobsPerSlot,
	}
	p.accepting.Store(true)
	for i := 0; i < slots; i++ {
		p.spawn()
	}
	return p
}

func (p *execPool) spawn() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		done := 0
		for {
			// Checked separately so a stopped pool never picks up more
			// backlog; the remaining tasks are reaped by shutdown.
			select {
			case <-p.stop:
				return
			default:
			}
			select {
			case <-p.stop:
				return
			case t := <-p.tasks:
				p.run(t)
				done++
				if p.maxJobs > 0 && done >= p.maxJobs {
					// Recycle the slot to bound growth in long-lived
					// executors.
					p.spawn()
					return
				}
			}
		}
	}()
}

// submit hands a task to the pool without blocking. Returns false when
// the pool is no longer accepting or the backlog is full.
func (p *execPool) submit(t task) bool {
	if !p.accepting.Load() {
		return false
	}
	select {
	case p.tasks <- t:
		return true
	default:
		return false
	}
}

// shutdown stops accepting work, waits for in-flight runs to finish,
// then drains and returns the tasks that never started.
func (p *execPool) shutdown() []task {
	p.accepting.Store(false)
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()

	var orphans []task
	for {
		select {
		case t := <-p.tasks:
			orphans = append(orphans, t)
		default:
			return orphans
		}
	}
}
