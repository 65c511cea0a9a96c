// File: match/test_utils.go
package match

import (
	"errors"
	"sync"
	"time"
)

// recordedEvent is one SendEvent call captured by fakeConn.
type recordedEvent struct {
	Event   string
	Payload interface{}
}

// fakeConn is an in-memory ClientConn capturing everything sent to it. Tests
// inspect the recorded events instead of a real socket.
type fakeConn struct {
	mu     sync.Mutex
	events []recordedEvent
	failed bool
	closed bool
	addr   string
}

func newFakeConn(addr string) *fakeConn {
	return &fakeConn{addr: addr}
}

func (c *fakeConn) SendEvent(event string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return errors.New("connection gone")
	}
	c.events = append(c.events, recordedEvent{Event: event, Payload: payload})
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) RemoteAddr() string {
	return c.addr
}

// fail makes every subsequent SendEvent return an error, simulating a dead
// transport.
func (c *fakeConn) fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = true
}

// recorded returns a copy of everything sent so far.
func (c *fakeConn) recorded() []recordedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]recordedEvent, len(c.events))
	copy(out, c.events)
	return out
}

// eventsNamed filters the recorded events by name.
func (c *fakeConn) eventsNamed(event string) []recordedEvent {
	var out []recordedEvent
	for _, ev := range c.recorded() {
		if ev.Event == event {
			out = append(out, ev)
		}
	}
	return out
}

// waitForEvent polls until at least one event with the given name arrives or
// the timeout expires.
func (c *fakeConn) waitForEvent(event string, timeout time.Duration) (recordedEvent, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if evs := c.eventsNamed(event); len(evs) > 0 {
			return evs[0], true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return recordedEvent{}, false
}
