package kernel

import "sync"

// pending tracks in-flight requests by id. Reply channels are buffered so
// the reader never blocks on a waiter that already gave up.
type pending struct {
	mu sync.Mutex
	m  map[string]chan message
}

func newPending() *pending {
	return &pending{m: make(map[string]chan message)}
}

// add registers a waiter for the given request id.
func (p *pending) add(id string) <-chan message {
	ch := make(chan message, 1)
	p.mu.Lock()
	p.m[id] = ch
	p.mu.Unlock()
	return ch
}

// drop abandons a waiter. The kernel-side request keeps running; a late
// reply simply finds no waiter and is discarded.
func (p *pending) drop(id string) {
	p.mu.Lock()
	delete(p.m, id)
	p.mu.Unlock()
}

// resolve delivers a reply to its waiter, if one is still registered.
func (p *pending) resolve(id string, msg message) bool {
	p.mu.Lock()
	ch, ok := p.m[id]
	if ok {
		delete(p.m, id)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	ch <- msg
	return true
}

// len reports the number of requests still awaiting replies.
func (p *pending) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
