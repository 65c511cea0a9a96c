package actor

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

const defaultMailboxSize = 1024

// process is the running instance of an actor: its mailbox and goroutine.
type process struct {
	engine   *Engine
	pid      *PID
	actor    Actor
	mailbox  chan *envelope
	props    *Props
	stopCh   chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool
}

// closeStop closes stopCh exactly once; safe from any goroutine.
func (p *process) closeStop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func newProcess(engine *Engine, pid *PID, props *Props) *process {
	return &process{
		engine:  engine,
		pid:     pid,
		props:   props,
		mailbox: make(chan *envelope, defaultMailboxSize),
		stopCh:  make(chan struct{}),
	}
}

// sendMessage enqueues a message into the actor's mailbox without blocking.
func (p *process) sendMessage(env *envelope) {
	_, isStopping := env.Message.(Stopping)
	_, isStopped := env.Message.(Stopped)
	if p.stopped.Load() && !isStopping && !isStopped {
		return
	}

	select {
	case p.mailbox <- env:
	default:
		fmt.Printf("actor %s mailbox full, dropping message type %T\n", p.pid.ID, env.Message)
	}
}

// run is the main loop for the actor process.
func (p *process) run() {
	defer func() {
		p.stopped.Store(true)
		if p.actor != nil {
			func() {
				defer func() {
					if r := recover(); r != nil {
						fmt.Printf("actor %s panicked during Stopped processing: %v\n", p.pid.ID, r)
					}
				}()
				p.invokeReceive(&envelope{Message: Stopped{}})
			}()
		}
		p.engine.remove(p.pid)
	}()

	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("actor %s panicked: %v\n%s\n", p.pid.ID, r, string(debug.Stack()))
			p.stopped.Store(true)
			p.closeStop()
		}
	}()

	p.actor = p.props.Produce()
	if p.actor == nil {
		panic(fmt.Sprintf("actor %s producer returned nil actor", p.pid.ID))
	}

	for {
		select {
		case <-p.stopCh:
			if p.stopped.CompareAndSwap(false, true) {
				p.invokeReceive(&envelope{Message: Stopping{}})
			}
			return

		case env := <-p.mailbox:
			_, isStopping := env.Message.(Stopping)
			_, isStoppedMsg := env.Message.(Stopped)
			if p.stopped.Load() && !isStopping && !isStoppedMsg {
				continue
			}

			switch env.Message.(type) {
			case Stopping:
				if p.stopped.CompareAndSwap(false, true) {
					p.invokeReceive(env)
					p.closeStop()
				}
			default:
				p.invokeReceive(env)
			}
		}
	}
}

// invokeReceive calls the actor's Receive method within a protected context.
func (p *process) invokeReceive(env *envelope) {
	ctx := &context{
		engine:    p.engine,
		self:      p.pid,
		sender:    env.Sender,
		message:   env.Message,
		requestID: env.RequestID,
		replyCh:   env.ReplyCh,
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				fmt.Printf("actor %s panicked during Receive(%T): %v\n%s\n", p.pid.ID, env.Message, r, string(debug.Stack()))
				ctx.Reply(fmt.Errorf("actor panicked: %v", r))
			}
		}()
		p.actor.Receive(ctx)
	}()
}
