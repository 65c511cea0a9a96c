package actor

// Actor is implemented by anything that can process messages.
type Actor interface {
	Receive(ctx Context)
}

// Context provides information and capabilities to an Actor while it
// processes a single message.
type Context interface {
	// Engine returns the engine managing this actor.
	Engine() *Engine
	// Self returns the PID of the actor processing the message.
	Self() *PID
	// Sender returns the PID of the actor that sent the message, if known.
	Sender() *PID
	// Message returns the message being processed.
	Message() interface{}
	// RequestID returns a non-empty id when the message arrived via Ask.
	RequestID() string
	// Reply answers an Ask request. It is a no-op for plain Send messages.
	Reply(response interface{})
}

type context struct {
	engine    *Engine
	self      *PID
	sender    *PID
	message   interface{}
	requestID string
	replyCh   chan interface{}
	replied   bool
}

func (c *context) Engine() *Engine      { return c.engine }
func (c *context) Self() *PID           { return c.self }
func (c *context) Sender() *PID         { return c.sender }
func (c *context) Message() interface{} { return c.message }
func (c *context) RequestID() string    { return c.requestID }

func (c *context) Reply(response interface{}) {
	if c.replyCh == nil || c.replied {
		return
	}
	c.replied = true
	select {
	case c.replyCh <- response:
	default:
		// Asker gave up (timeout); drop the reply.
	}
}
