package gosocketio

import "sync"

// mailbox runs jobs one at a time, in the order they were pushed. Each
// socket owns one, which serializes its handler invocations without
// holding up the read loop. The queue is unbounded so a slow handler
// never drops frames.
type mailbox struct {
	mu      sync.Mutex
	cond    *sync.Cond
	jobs    []func()
	closed  bool
	stopped chan struct{}
}

func newMailbox() *mailbox {
	m := &mailbox{stopped: make(chan struct{})}
	m.cond = sync.NewCond(&m.mu)
	go m.run()
	return m
}

// push queues a job. It reports false once the mailbox is closed.
func (m *mailbox) push(job func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	m.jobs = append(m.jobs, job)
	m.cond.Signal()
	return true
}

// close stops accepting jobs. Jobs already queued still run.
func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Signal()
	m.mu.Unlock()
}

// done is closed when the last job has run after close.
func (m *mailbox) done() <-chan struct{} {
	return m.stopped
}

func (m *mailbox) run() {
	defer close(m.stopped)

	for {
		m.mu.Lock()
		for len(m.jobs) == 0 && !m.closed {
			m.cond.Wait()
		}
		if len(m.jobs) == 0 {
			m.mu.Unlock()
			return
		}
		job := m.jobs[0]
		m.jobs[0] = nil
		m.jobs = m.jobs[1:]
		m.mu.Unlock()

		job()
	}
}
