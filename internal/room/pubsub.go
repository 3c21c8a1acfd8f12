package room

import "sync"

// PubSub is a one-shot publish/subscribe signal. Each subscriber gets a
// capacity-1 channel; a publish delivers the message to every current
// subscriber and resets the list, so late re-subscribers wait for the next
// publish.
type PubSub[T any] struct {
	mu   sync.Mutex
	subs []chan T
}

// Subscribe registers for the next published message.
func (p *PubSub[T]) Subscribe() <-chan T {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan T, 1)
	p.subs = append(p.subs, ch)
	return ch
}

// Publish delivers msg to every current subscriber. The capacity-1 channels
// make this non-blocking.
func (p *PubSub[T]) Publish(msg T) {
	p.mu.Lock()
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	for _, ch := range subs {
		ch <- msg
	}
}
