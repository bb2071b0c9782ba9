package peer

import "sync"

// mailbox is an unbounded FIFO with a single consumer. Producers never block,
// so transport callbacks may post into it from any goroutine, including the
// consumer's own.
type mailbox struct {
	sync.Mutex
	queue  []interface{}
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		notify: make(chan struct{}, 1),
	}
}

func (m *mailbox) push(msg interface{}) {
	m.Lock()
	m.queue = append(m.queue, msg)
	m.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) take() []interface{} {
	m.Lock()
	defer m.Unlock()
	q := m.queue
	m.queue = nil
	return q
}
