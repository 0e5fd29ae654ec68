package session

import "sync"

// pendingTable correlates issued telephony operations with their
// acknowledgements: one single-shot channel per correlation id, removed on
// fulfilment or session teardown.
type pendingTable struct {
	mu     sync.Mutex
	ops    map[string]chan struct{}
	closed bool
}

func newPendingTable() *pendingTable {
	return &pendingTable{ops: make(map[string]chan struct{})}
}

// Add registers a correlation id and returns the channel that closes when
// the operation is acknowledged. After table teardown the returned channel
// is already closed.
func (p *pendingTable) Add(id string) <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan struct{})
	if p.closed {
		close(ch)
		return ch
	}
	p.ops[id] = ch
	return ch
}

// Resolve acknowledges an operation and reports whether the id was known.
// Unknown ids are ignored: the ack may race session teardown, or belong to
// an utterance nothing waits on.
func (p *pendingTable) Resolve(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.ops[id]
	if ok {
		close(ch)
		delete(p.ops, id)
	}
	return ok
}

// Remove drops an operation without acknowledging it.
func (p *pendingTable) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.ops, id)
}

// Len reports outstanding operations.
func (p *pendingTable) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ops)
}

// Close releases every waiter and rejects future Adds.
func (p *pendingTable) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, ch := range p.ops {
		close(ch)
		delete(p.ops, id)
	}
}
