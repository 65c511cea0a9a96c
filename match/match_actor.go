// File: match/match_actor.go
package match

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/phalanx-mp/phalanx/actor"
	"github.com/phalanx-mp/phalanx/utils"
)

// MatchState is the lifecycle state of a match.
type MatchState string

const (
	StateCountdown MatchState = "countdown"
	StateRunning   MatchState = "running"
	StateEnded     MatchState = "ended"
)

// Match end reasons.
const (
	EndReasonCompleted       = "completed"
	EndReasonAllDisconnected = "all-disconnected"
	EndReasonServerShutdown  = "server-shutdown"
	EndReasonInternalError   = "internal-error"
)

// PlayerSlot is one seat in a match: identity, team, transport handle and
// liveness. The slot survives transport loss for the life of the match so the
// player can reconnect.
type PlayerSlot struct {
	PlayerID       string
	Username       string
	TeamID         int
	Conn           ClientConn
	HandlerPID     *actor.PID
	LastActivity   time.Time
	Activity       ActivityState
	DisconnectTick uint32
}

// Setup is everything the matchmaker decides at formation time.
type Setup struct {
	MatchID string
	Seed    uint32
	Mode    utils.GameMode
	Slots   []*PlayerSlot
}

// MatchActor owns all state of one match and serialises every event touching
// it: inbound submissions, reconnects, timer firings and broadcasts all pass
// through its mailbox. Two ticker goroutines feed the mailbox: a one-second
// countdown ticker before the match runs, and the tick-rate ticker while it
// does. The tick loop performs exactly one tick per firing and never tries to
// catch up after timer skew.
type MatchActor struct {
	cfg utils.Config
	log zerolog.Logger
	bus *Bus

	matchID string
	seed    uint32
	mode    utils.GameMode

	state       MatchState
	currentTick uint32
	startMono   time.Time

	slots    []*PlayerSlot
	slotByID map[string]*PlayerSlot

	buffer  *CommandBuffer
	history *BroadcastHistory
	oracle  *desyncOracle
	tracker *ActivityTracker

	engine         *actor.Engine
	selfPID        *actor.PID
	matchmakerPID  *actor.PID
	broadcasterPID *actor.PID

	countdownRemaining int
	countdownTicker    *time.Ticker
	stopCountdownCh    chan struct{}
	tickTicker         *time.Ticker
	stopTickCh         chan struct{}
}

// NewMatchActorProducer creates a producer for a MatchActor driving the match
// described by setup.
func NewMatchActorProducer(engine *actor.Engine, cfg utils.Config, setup Setup, matchmakerPID *actor.PID, bus *Bus, log zerolog.Logger) actor.Producer {
	return func() actor.Actor {
		slotByID := make(map[string]*PlayerSlot, len(setup.Slots))
		for _, slot := range setup.Slots {
			slotByID[slot.PlayerID] = slot
		}
		return &MatchActor{
			cfg:             cfg,
			log:             log.With().Str("actor", "match").Str("match", setup.MatchID).Logger(),
			bus:             bus,
			matchID:         setup.MatchID,
			seed:            setup.Seed,
			mode:            setup.Mode,
			state:           StateCountdown,
			slots:           setup.Slots,
			slotByID:        slotByID,
			buffer:          NewCommandBuffer(cfg.MaxFutureTicks),
			history:         NewBroadcastHistory(cfg.ReconnectHistoryTicks),
			oracle:          newDesyncOracle(cfg.HashWindowTicks, cfg.HashGraceTicks),
			tracker:         NewActivityTracker(cfg.TimeoutTicks, cfg.DisconnectTicks, cfg.TickDuration()),
			engine:          engine,
			matchmakerPID:   matchmakerPID,
			stopCountdownCh: make(chan struct{}),
			stopTickCh:      make(chan struct{}),
		}
	}
}

// Receive is the main message handler for the MatchActor.
func (a *MatchActor) Receive(ctx actor.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("panic in match actor")
			a.endMatch(EndReasonInternalError)
		}
	}()

	if a.selfPID == nil {
		a.selfPID = ctx.Self()
	}

	switch msg := ctx.Message().(type) {
	case actor.Started:
		a.handleStart(ctx)

	case countdownTick:
		a.handleCountdownTick()

	case tick:
		a.handleTick()

	case SubmitCommands:
		a.handleSubmitCommands(msg)

	case SubmitStateHash:
		a.handleStateHash(msg)

	case PlayerActivity:
		a.touchActivity(msg.PlayerID)

	case PlayerDisconnect:
		a.handlePlayerDisconnect(msg.PlayerID)

	case ReconnectRequest:
		a.handleReconnect(msg)

	case EndMatch:
		a.endMatch(msg.Reason)

	case StateQuery:
		ctx.Reply(a.status())

	case actor.Stopping:
		a.endMatch(EndReasonServerShutdown)
		a.stopTickers()

	case actor.Stopped:

	default:
		a.log.Warn().Str("type", typeName(msg)).Msg("unknown message")
	}
}

// startCountdownTicker and startTickTicker each run a goroutine that forwards
// timer firings into the actor's own mailbox, keeping all match work on one
// message loop.
func (a *MatchActor) startCountdownTicker() {
	a.countdownTicker = time.NewTicker(time.Second)
	stopCh := a.stopCountdownCh
	tickerCh := a.countdownTicker.C
	engine := a.engine
	selfPID := a.selfPID

	log := a.log
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("panic in countdown ticker")
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
				engine.Send(selfPID, countdownTick{}, nil)
			}
		}
	}()
}

func (a *MatchActor) startTickTicker() {
	a.tickTicker = time.NewTicker(a.cfg.TickDuration())
	stopCh := a.stopTickCh
	tickerCh := a.tickTicker.C
	engine := a.engine
	selfPID := a.selfPID

	log := a.log
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("panic in tick ticker")
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
				engine.Send(selfPID, tick{}, nil)
			}
		}
	}()
}

func (a *MatchActor) stopTickers() {
	if a.countdownTicker != nil {
		a.countdownTicker.Stop()
		select {
		case <-a.stopCountdownCh:
		default:
			close(a.stopCountdownCh)
		}
		a.countdownTicker = nil
	}
	if a.tickTicker != nil {
		a.tickTicker.Stop()
		select {
		case <-a.stopTickCh:
		default:
			close(a.stopTickCh)
		}
		a.tickTicker = nil
	}
}

// status builds the Ask reply for StateQuery.
func (a *MatchActor) status() MatchStatus {
	players := make(map[string]ActivityState, len(a.slots))
	for _, slot := range a.slots {
		players[slot.PlayerID] = slot.Activity
	}
	return MatchStatus{
		MatchID:     a.matchID,
		GameMode:    a.mode.String(),
		State:       string(a.state),
		CurrentTick: a.currentTick,
		Players:     players,
	}
}

// touchActivity refreshes a player's last-activity timestamp. Every inbound
// event counts, including ones the match has no handler for.
func (a *MatchActor) touchActivity(playerID string) {
	if slot, ok := a.slotByID[playerID]; ok {
		slot.LastActivity = time.Now()
	}
}

func typeName(v interface{}) string {
	return fmt.Sprintf("%T", v)
}
