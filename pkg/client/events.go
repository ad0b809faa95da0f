package client

import (
	"github.com/conveyorhq/conveyor/pkg/core"
)

// Events returns a channel for receiving queue events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (c *Client) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	c.mu.Lock()
	c.eventSubs = append(c.eventSubs, ch)
	c.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
// The channel is not closed; callers must stop reading before calling
// Unsubscribe. After Unsubscribe returns, no further events will be
// sent to the channel.
func (c *Client) Unsubscribe(ch <-chan core.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, sub := range c.eventSubs {
		if sub == ch {
			c.eventSubs = append(c.eventSubs[:i], c.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit emits an event to all subscribers.
func (c *Client) Emit(e core.Event) {
	c.mu.RLock()
	// Copy the slice so a concurrent Events() call cannot race the
	// iteration.
	subs := make([]chan core.Event, len(c.eventSubs))
	copy(subs, c.eventSubs)
	c.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			// Slow consumers lose events rather than block the emitter.
		}
	}
}
