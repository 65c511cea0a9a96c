// File: server/connection_handler.go
package server

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"

	"github.com/phalanx-mp/phalanx/actor"
	"github.com/phalanx-mp/phalanx/match"
	"github.com/phalanx-mp/phalanx/utils"
)

// inboundFrame carries one raw websocket message from the read loop into the
// handler's mailbox.
type inboundFrame struct {
	Payload []byte
}

// readLoopExit tells the handler its read loop finished, i.e. the transport
// is gone.
type readLoopExit struct{}

// ConnectionHandlerActor owns one websocket connection end to end: it runs
// the read loop, enforces the inbound rate limit, resolves the player
// identity, and routes parsed events to the matchmaker or the assigned match.
type ConnectionHandlerActor struct {
	cfg  utils.Config
	conn *wsConn
	ws   *websocket.Conn
	log  zerolog.Logger

	engine        *actor.Engine
	matchmakerPID *actor.PID
	matchPID      *actor.PID
	matchID       string
	selfPID       *actor.PID

	identity Identity
	playerID string
	queued   bool

	limiter *rate.Limiter

	stopReadLoop   chan struct{}
	readLoopExited chan struct{}
	done           chan struct{}
	closeOnce      sync.Once
}

// ConnectionHandlerArgs holds arguments for creating the handler.
type ConnectionHandlerArgs struct {
	Cfg           utils.Config
	WS            *websocket.Conn
	Engine        *actor.Engine
	MatchmakerPID *actor.PID
	Identity      Identity
	Log           zerolog.Logger
	Done          chan struct{}
}

// NewConnectionHandlerProducer creates a producer for ConnectionHandlerActor.
func NewConnectionHandlerProducer(args ConnectionHandlerArgs) actor.Producer {
	return func() actor.Actor {
		conn := newWSConn(args.WS)
		return &ConnectionHandlerActor{
			cfg:            args.Cfg,
			conn:           conn,
			ws:             args.WS,
			log:            args.Log.With().Str("actor", "conn").Str("remote", conn.RemoteAddr()).Logger(),
			engine:         args.Engine,
			matchmakerPID:  args.MatchmakerPID,
			identity:       args.Identity,
			playerID:       args.Identity.PlayerID,
			limiter:        rate.NewLimiter(rate.Limit(args.Cfg.InboundEventRate), args.Cfg.InboundEventBurst),
			stopReadLoop:   make(chan struct{}),
			readLoopExited: make(chan struct{}),
			done:           args.Done,
		}
	}
}

// Receive handles messages for the ConnectionHandlerActor.
func (a *ConnectionHandlerActor) Receive(ctx actor.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("panic in connection handler")
			a.teardown(true)
		}
	}()

	if a.selfPID == nil {
		a.selfPID = ctx.Self()
	}

	switch msg := ctx.Message().(type) {
	case actor.Started:
		go a.readLoop(a.engine, a.selfPID)

	case inboundFrame:
		a.handleFrame(msg.Payload)

	case match.MatchAssigned:
		a.matchPID = msg.MatchPID
		a.matchID = msg.MatchID
		a.queued = false
		a.log.Debug().Str("match", msg.MatchID).Str("player", a.playerID).Msg("assigned to match")

	case readLoopExit:
		a.teardown(true)

	case actor.Stopping:
		a.stopReading()
		a.teardown(false)

	case actor.Stopped:
		a.closeOnce.Do(func() {
			if a.done != nil {
				close(a.done)
			}
		})

	default:
		a.log.Warn().Str("type", fmt.Sprintf("%T", msg)).Msg("unknown message")
	}
}

// handleFrame parses one inbound envelope and routes it. Every inbound frame,
// well-formed or not, counts as player activity for liveness.
func (a *ConnectionHandlerActor) handleFrame(payload []byte) {
	if !a.limiter.Allow() {
		a.sendError("rate-limited", "too many events, slow down")
		return
	}
	a.touchMatchActivity()

	var env match.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		a.sendError("malformed", "message is not a valid event envelope")
		return
	}

	switch env.Event {
	case match.EvQueueJoin:
		a.handleQueueJoin(env.Data)

	case match.EvQueueLeave:
		if a.playerID != "" {
			a.engine.Send(a.matchmakerPID, match.QueueLeave{PlayerID: a.playerID}, a.selfPID)
			a.queued = false
		}

	case match.EvSubmitCommands:
		a.handleSubmitCommands(env.Data)

	case match.EvStateHash:
		a.handleStateHash(env.Data)

	case match.EvReconnectMatch:
		a.handleReconnect(env.Data)

	default:
		a.sendError("unknown-event", fmt.Sprintf("unknown event %q", env.Event))
	}
}

func (a *ConnectionHandlerActor) handleQueueJoin(data []byte) {
	var p match.QueueJoinPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			a.sendError("malformed", "invalid queue-join payload")
			return
		}
	}

	// A verified identity always wins over whatever the payload declares.
	if !a.identity.Anonymous() {
		p.PlayerID = a.identity.PlayerID
		if a.identity.Username != "" {
			p.Username = a.identity.Username
		}
	}
	if p.PlayerID == "" {
		p.PlayerID = utils.NewPlayerID()
	}
	if p.Username == "" {
		p.Username = p.PlayerID
	}
	a.playerID = p.PlayerID
	a.queued = true

	a.engine.Send(a.matchmakerPID, match.QueueJoin{
		PlayerID:   p.PlayerID,
		Username:   p.Username,
		Conn:       a.conn,
		HandlerPID: a.selfPID,
	}, a.selfPID)
}

func (a *ConnectionHandlerActor) handleSubmitCommands(data []byte) {
	if a.matchPID == nil {
		a.sendError("no-match", "not in a match")
		return
	}
	var p match.SubmitCommandsPayload
	if err := json.Unmarshal(data, &p); err != nil {
		a.sendError("malformed", "invalid submit-commands payload")
		return
	}
	a.engine.Send(a.matchPID, match.SubmitCommands{
		PlayerID: a.playerID,
		Tick:     p.Tick,
		Commands: p.Commands,
		Conn:     a.conn,
	}, a.selfPID)
}

func (a *ConnectionHandlerActor) handleStateHash(data []byte) {
	if a.matchPID == nil {
		return
	}
	var p match.StateHashPayload
	if err := json.Unmarshal(data, &p); err != nil {
		a.sendError("malformed", "invalid state-hash payload")
		return
	}
	a.engine.Send(a.matchPID, match.SubmitStateHash{
		PlayerID: a.playerID,
		Tick:     p.Tick,
		Hash:     p.Hash,
	}, a.selfPID)
}

func (a *ConnectionHandlerActor) handleReconnect(data []byte) {
	var p match.ReconnectMatchPayload
	if err := json.Unmarshal(data, &p); err != nil {
		a.sendError("malformed", "invalid reconnect-match payload")
		return
	}
	if !a.identity.Anonymous() {
		p.PlayerID = a.identity.PlayerID
	}
	if p.PlayerID == "" || p.MatchID == "" {
		_ = a.conn.SendEvent(match.EvReconnectStatus, match.ReconnectStatusPayload{Success: false, Reason: "playerId and matchId required"})
		return
	}
	a.playerID = p.PlayerID

	// The registry lookup is a fast in-memory Ask; blocking this one
	// connection's mailbox for it is fine.
	reply, err := a.engine.Ask(a.matchmakerPID, match.FindMatchRequest{MatchID: p.MatchID}, 2*time.Second)
	if err != nil {
		a.log.Warn().Err(err).Str("match", p.MatchID).Msg("registry lookup failed")
		_ = a.conn.SendEvent(match.EvReconnectStatus, match.ReconnectStatusPayload{Success: false, Reason: "lookup failed"})
		return
	}
	resp, ok := reply.(match.FindMatchResponse)
	if !ok || !resp.Exists {
		_ = a.conn.SendEvent(match.EvReconnectStatus, match.ReconnectStatusPayload{Success: false, Reason: "unknown match"})
		return
	}

	a.engine.Send(resp.PID, match.ReconnectRequest{
		PlayerID:   p.PlayerID,
		Conn:       a.conn,
		HandlerPID: a.selfPID,
	}, a.selfPID)
}

// touchMatchActivity forwards liveness to the assigned match, if any. Events
// the match handles itself refresh activity there too; doubling up is
// harmless.
func (a *ConnectionHandlerActor) touchMatchActivity() {
	if a.matchPID != nil && a.playerID != "" {
		a.engine.Send(a.matchPID, match.PlayerActivity{PlayerID: a.playerID}, a.selfPID)
	}
}

func (a *ConnectionHandlerActor) sendError(code, message string) {
	_ = a.conn.SendEvent(match.EvError, match.ErrorPayload{Code: code, Message: message})
}

// readLoop pumps raw frames from the socket into the mailbox until the
// transport dies or the handler stops.
func (a *ConnectionHandlerActor) readLoop(engine *actor.Engine, selfPID *actor.PID) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Msg("panic in read loop")
		}
		close(a.readLoopExited)
		engine.Send(selfPID, readLoopExit{}, nil)
	}()

	for {
		select {
		case <-a.stopReadLoop:
			return
		default:
		}

		var message json.RawMessage
		if err := websocket.JSON.Receive(a.ws, &message); err != nil {
			return
		}
		engine.Send(selfPID, inboundFrame{Payload: []byte(message)}, nil)
	}
}

// stopReading signals the read loop and unblocks it by closing the socket,
// then waits briefly for it to exit.
func (a *ConnectionHandlerActor) stopReading() {
	select {
	case <-a.stopReadLoop:
		return
	default:
		close(a.stopReadLoop)
	}
	_ = a.conn.Close()

	select {
	case <-a.readLoopExited:
	case <-time.After(2 * time.Second):
		a.log.Warn().Msg("timeout waiting for read loop to exit")
	}
}

// teardown propagates the disconnect and optionally stops the actor. The
// matchmaker learns about queued players; the match learns about assigned
// ones and keeps their slot for a reconnect.
func (a *ConnectionHandlerActor) teardown(stopSelf bool) {
	a.stopReading()

	if a.queued && a.playerID != "" {
		a.engine.Send(a.matchmakerPID, match.HandlerGone{PlayerID: a.playerID}, a.selfPID)
		a.queued = false
	}
	if stopSelf && a.matchPID != nil && a.playerID != "" {
		a.engine.Send(a.matchPID, match.PlayerDisconnect{PlayerID: a.playerID}, a.selfPID)
	}
	a.matchPID = nil

	if stopSelf && a.engine != nil && a.selfPID != nil {
		a.engine.Stop(a.selfPID)
	}
}
