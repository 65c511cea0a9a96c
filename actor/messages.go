package actor

// --- System Messages ---

// Started is delivered to an actor after its goroutine has started.
type Started struct{}

// Stopping is delivered to an actor to signal it should finish its current
// work and clean up. No more user messages are delivered after Stopping.
type Stopping struct{}

// Stopped is the final message an actor receives before its goroutine exits.
type Stopped struct{}

// envelope wraps a user message with sender and optional request metadata.
type envelope struct {
	Sender    *PID
	Message   interface{}
	RequestID string
	ReplyCh   chan interface{}
}
