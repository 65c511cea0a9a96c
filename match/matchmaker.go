// File: match/matchmaker.go
package match

import (
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/phalanx-mp/phalanx/actor"
	"github.com/phalanx-mp/phalanx/metrics"
	"github.com/phalanx-mp/phalanx/utils"
)

// queued is one waiting player in FIFO order.
type queued struct {
	playerID   string
	username   string
	conn       ClientConn
	handlerPID *actor.PID
	enqueued   time.Time
}

// registryEntry tracks one live match.
type registryEntry struct {
	pid     *actor.PID
	mode    utils.GameMode
	created time.Time
}

// MatchmakerActor owns the waiting queue and the match registry. Formation
// runs on a fixed interval rather than on every join, so a burst of joins
// forms as many matches as the queue can fill in one pass.
type MatchmakerActor struct {
	cfg utils.Config
	log zerolog.Logger
	bus *Bus

	queue   []*queued
	inQueue map[string]bool

	registry map[string]*registryEntry

	engine  *actor.Engine
	selfPID *actor.PID

	formTicker *time.Ticker
	stopFormCh chan struct{}
}

// NewMatchmakerProducer creates a producer for the MatchmakerActor.
func NewMatchmakerProducer(engine *actor.Engine, cfg utils.Config, bus *Bus, log zerolog.Logger) actor.Producer {
	return func() actor.Actor {
		return &MatchmakerActor{
			cfg:        cfg,
			log:        log.With().Str("actor", "matchmaker").Logger(),
			bus:        bus,
			inQueue:    make(map[string]bool),
			registry:   make(map[string]*registryEntry),
			engine:     engine,
			stopFormCh: make(chan struct{}),
		}
	}
}

// Receive is the main message handler for the MatchmakerActor.
func (a *MatchmakerActor) Receive(ctx actor.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("panic in matchmaker")
		}
	}()

	if a.selfPID == nil {
		a.selfPID = ctx.Self()
	}

	switch msg := ctx.Message().(type) {
	case actor.Started:
		a.startFormationTicker()

	case formationTick:
		a.formMatches()

	case QueueJoin:
		a.handleQueueJoin(msg)

	case QueueLeave:
		a.removeFromQueue(msg.PlayerID)

	case HandlerGone:
		a.removeFromQueue(msg.PlayerID)

	case FindMatchRequest:
		a.handleFindMatch(ctx, msg)

	case RegistryQuery:
		ctx.Reply(a.snapshot())

	case MatchOver:
		a.handleMatchOver(msg)

	case actor.Stopping:
		a.stopFormationTicker()

	case actor.Stopped:

	default:
		a.log.Warn().Str("type", typeName(msg)).Msg("unknown message")
	}
}

// handleQueueJoin enqueues one player. A player already waiting gets a
// queue-error and keeps their original position.
func (a *MatchmakerActor) handleQueueJoin(msg QueueJoin) {
	if a.inQueue[msg.PlayerID] {
		if msg.Conn != nil {
			_ = msg.Conn.SendEvent(EvQueueError, QueueErrorPayload{Message: "already queued"})
		}
		return
	}

	a.queue = append(a.queue, &queued{
		playerID:   msg.PlayerID,
		username:   msg.Username,
		conn:       msg.Conn,
		handlerPID: msg.HandlerPID,
		enqueued:   time.Now(),
	})
	a.inQueue[msg.PlayerID] = true
	metrics.QueueSize.Set(float64(len(a.queue)))

	if msg.Conn != nil {
		_ = msg.Conn.SendEvent(EvQueueStatus, QueueStatusPayload{Position: len(a.queue), QueueSize: len(a.queue)})
	}
	a.bus.Publish(Event{Kind: EventQueueJoined, PlayerID: msg.PlayerID})
	a.log.Debug().Str("player", msg.PlayerID).Int("queue", len(a.queue)).Msg("player queued")
}

// removeFromQueue drops a player from the waiting line. Silent whether or not
// they were queued.
func (a *MatchmakerActor) removeFromQueue(playerID string) {
	if !a.inQueue[playerID] {
		return
	}
	delete(a.inQueue, playerID)
	for i, q := range a.queue {
		if q.playerID == playerID {
			a.queue = append(a.queue[:i], a.queue[i+1:]...)
			break
		}
	}
	metrics.QueueSize.Set(float64(len(a.queue)))
	a.bus.Publish(Event{Kind: EventQueueLeft, PlayerID: playerID})
	a.log.Debug().Str("player", playerID).Int("queue", len(a.queue)).Msg("player left queue")
}

// formMatches repeatedly takes the head of the queue while enough players are
// waiting to fill a match. Strict FIFO: no skill, region or latency pairing.
// Every picked entry still has a live handler: QueueLeave and HandlerGone
// prune the queue on this same mailbox, ahead of any formationTick that
// follows the disconnect.
func (a *MatchmakerActor) formMatches() {
	need := a.cfg.GameMode.Players()
	for len(a.queue) >= need {
		picked := a.queue[:need]
		a.queue = a.queue[need:]

		slots := make([]*PlayerSlot, 0, need)
		for i, q := range picked {
			delete(a.inQueue, q.playerID)
			slots = append(slots, &PlayerSlot{
				PlayerID:   q.playerID,
				Username:   q.username,
				TeamID:     i / a.cfg.GameMode.TeamSize,
				Conn:       q.conn,
				HandlerPID: q.handlerPID,
			})
		}

		setup := Setup{
			MatchID: utils.NewMatchID(),
			Seed:    utils.NewSeed(),
			Mode:    a.cfg.GameMode,
			Slots:   slots,
		}

		props := actor.NewProps(NewMatchActorProducer(a.engine, a.cfg, setup, a.selfPID, a.bus, a.log))
		pid := a.engine.Spawn(props)
		if pid == nil {
			a.log.Error().Str("match", setup.MatchID).Msg("failed to spawn match actor")
			continue
		}

		a.registry[setup.MatchID] = &registryEntry{pid: pid, mode: setup.Mode, created: time.Now()}
		metrics.MatchesActive.Set(float64(len(a.registry)))
		metrics.MatchesFormed.Inc()

		for _, slot := range slots {
			if slot.HandlerPID != nil {
				a.engine.Send(slot.HandlerPID, MatchAssigned{MatchID: setup.MatchID, MatchPID: pid}, a.selfPID)
			}
		}
		a.log.Info().Str("match", setup.MatchID).Int("players", need).Msg("match formed")
	}
	metrics.QueueSize.Set(float64(len(a.queue)))
}

func (a *MatchmakerActor) handleFindMatch(ctx actor.Context, msg FindMatchRequest) {
	entry, ok := a.registry[msg.MatchID]
	if !ok {
		ctx.Reply(FindMatchResponse{Exists: false})
		return
	}
	ctx.Reply(FindMatchResponse{PID: entry.pid, Exists: true})
}

func (a *MatchmakerActor) handleMatchOver(msg MatchOver) {
	entry, ok := a.registry[msg.MatchID]
	if !ok {
		return
	}
	delete(a.registry, msg.MatchID)
	metrics.MatchesActive.Set(float64(len(a.registry)))
	a.engine.Stop(entry.pid)
	a.log.Debug().Str("match", msg.MatchID).Msg("match deregistered")
}

// snapshot builds the Ask reply for RegistryQuery.
func (a *MatchmakerActor) snapshot() RegistrySnapshot {
	matches := make([]MatchSummary, 0, len(a.registry))
	for id, entry := range a.registry {
		matches = append(matches, MatchSummary{
			MatchID:  id,
			GameMode: entry.mode.String(),
			Created:  entry.created,
		})
	}
	return RegistrySnapshot{QueueSize: len(a.queue), Matches: matches}
}

// startFormationTicker feeds formation triggers into the mailbox so queue
// mutation stays on the actor loop.
func (a *MatchmakerActor) startFormationTicker() {
	a.formTicker = time.NewTicker(a.cfg.MatchmakingInterval)
	stopCh := a.stopFormCh
	tickerCh := a.formTicker.C
	engine := a.engine
	selfPID := a.selfPID

	log := a.log
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("panic in formation ticker")
			}
		}()
		for {
			select {
			case <-stopCh:
				return
			case _, ok := <-tickerCh:
				if !ok {
					return
				}
				engine.Send(selfPID, formationTick{}, nil)
			}
		}
	}()
}

func (a *MatchmakerActor) stopFormationTicker() {
	if a.formTicker != nil {
		a.formTicker.Stop()
		select {
		case <-a.stopFormCh:
		default:
			close(a.stopFormCh)
		}
		a.formTicker = nil
	}
}
