// File: match/broadcaster_actor.go
package match

import (
	"github.com/rs/zerolog"

	"github.com/phalanx-mp/phalanx/actor"
	"github.com/phalanx-mp/phalanx/metrics"
)

// BroadcasterActor fans enveloped events out to every live connection of one
// match. A failed write reports the player back to the MatchActor as
// disconnected; the write failure never disturbs the other recipients.
// Connections are registered, never closed, here: they belong to their
// connection handlers and outlive the match.
type BroadcasterActor struct {
	clients  map[string]ClientConn
	matchPID *actor.PID
	selfPID  *actor.PID
	log      zerolog.Logger
}

// NewBroadcasterProducer creates a producer for BroadcasterActor.
func NewBroadcasterProducer(matchPID *actor.PID, log zerolog.Logger) actor.Producer {
	return func() actor.Actor {
		return &BroadcasterActor{
			clients:  make(map[string]ClientConn),
			matchPID: matchPID,
			log:      log.With().Str("actor", "broadcaster").Logger(),
		}
	}
}

// Receive handles messages for the BroadcasterActor.
func (a *BroadcasterActor) Receive(ctx actor.Context) {
	if a.selfPID == nil {
		a.selfPID = ctx.Self()
	}

	switch msg := ctx.Message().(type) {
	case actor.Started:

	case AddClient:
		if msg.Conn != nil {
			a.clients[msg.PlayerID] = msg.Conn
		}

	case RemoveClient:
		delete(a.clients, msg.PlayerID)

	case BroadcastEvent:
		a.broadcast(ctx, msg.Event, msg.Payload)

	case actor.Stopping:
		a.clients = make(map[string]ClientConn)

	case actor.Stopped:

	default:
		a.log.Warn().Str("type", typeName(msg)).Msg("unknown message")
	}
}

func (a *BroadcasterActor) broadcast(ctx actor.Context, event string, payload interface{}) {
	var failed []string
	for playerID, conn := range a.clients {
		if err := conn.SendEvent(event, payload); err != nil {
			a.log.Debug().Err(err).Str("player", playerID).Str("event", event).Msg("write failed, dropping client")
			failed = append(failed, playerID)
			continue
		}
		metrics.BroadcastsTotal.Inc()
	}

	for _, playerID := range failed {
		delete(a.clients, playerID)
		if a.matchPID != nil {
			ctx.Engine().Send(a.matchPID, PlayerDisconnect{PlayerID: playerID}, a.selfPID)
		}
	}
}
