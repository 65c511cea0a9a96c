// File: match/match_actor_lifecycle.go
package match

import (
	"time"

	"github.com/phalanx-mp/phalanx/actor"
)

// handleStart runs on the Started message: spawn the broadcaster, register
// every connection, tell each player about the match and begin the countdown.
func (a *MatchActor) handleStart(ctx actor.Context) {
	broadcasterProps := actor.NewProps(NewBroadcasterProducer(a.selfPID, a.log))
	a.broadcasterPID = a.engine.Spawn(broadcasterProps)
	if a.broadcasterPID == nil {
		a.log.Error().Msg("failed to spawn broadcaster, aborting match")
		a.endMatch(EndReasonInternalError)
		return
	}

	now := time.Now()
	for _, slot := range a.slots {
		slot.Activity = ActivityActive
		slot.LastActivity = now
		a.engine.Send(a.broadcasterPID, AddClient{PlayerID: slot.PlayerID, Conn: slot.Conn}, a.selfPID)
	}

	for _, slot := range a.slots {
		a.sendToSlot(slot, EvMatchFound, a.matchFoundFor(slot))
	}

	a.bus.Publish(Event{Kind: EventMatchCreated, MatchID: a.matchID})
	a.log.Info().Str("mode", a.mode.String()).Uint32("seed", a.seed).Int("players", len(a.slots)).Msg("match created")

	a.countdownRemaining = a.cfg.CountdownSeconds
	a.broadcast(EvCountdown, CountdownPayload{Seconds: a.countdownRemaining})
	if a.countdownRemaining <= 0 {
		a.transitionToRunning()
		return
	}
	a.startCountdownTicker()
}

// handleCountdownTick emits the next countdown second; seconds=0 is the
// transition edge into running.
func (a *MatchActor) handleCountdownTick() {
	if a.state != StateCountdown {
		return
	}
	a.countdownRemaining--
	if a.countdownRemaining < 0 {
		return
	}
	a.broadcast(EvCountdown, CountdownPayload{Seconds: a.countdownRemaining})
	if a.countdownRemaining == 0 {
		if a.countdownTicker != nil {
			a.countdownTicker.Stop()
			select {
			case <-a.stopCountdownCh:
			default:
				close(a.stopCountdownCh)
			}
			a.countdownTicker = nil
		}
		a.transitionToRunning()
	}
}

// transitionToRunning emits game-start exactly once and starts the tick loop.
// The first broadcast tick after this is tick 1.
func (a *MatchActor) transitionToRunning() {
	a.state = StateRunning
	a.startMono = time.Now()

	roster := a.roster()
	for _, slot := range a.slots {
		if slot.Activity != ActivityActive && slot.Activity != ActivityLagging {
			continue
		}
		slot.LastActivity = a.startMono
		a.sendToSlot(slot, EvGameStart, GameStartPayload{
			MatchID:    a.matchID,
			Seed:       a.seed,
			TickRate:   a.cfg.TickRate,
			Players:    roster,
			YourTeamID: slot.TeamID,
		})
	}

	a.bus.Publish(Event{Kind: EventMatchStarted, MatchID: a.matchID})
	a.log.Info().Msg("match running")
	a.startTickTicker()
}

// endMatch is the single terminal transition. It is idempotent: exactly one
// match-end reaches each live recipient no matter how the match dies.
func (a *MatchActor) endMatch(reason string) {
	if a.state == StateEnded {
		return
	}
	a.state = StateEnded
	a.stopTickers()

	payload := MatchEndPayload{MatchID: a.matchID, Reason: reason}
	for _, slot := range a.slots {
		if slot.Conn != nil {
			if err := slot.Conn.SendEvent(EvMatchEnd, payload); err != nil {
				a.log.Debug().Err(err).Str("player", slot.PlayerID).Msg("match-end delivery failed")
			}
		}
	}

	a.bus.Publish(Event{Kind: EventMatchEnded, MatchID: a.matchID, Payload: payload})
	a.log.Info().Str("reason", reason).Uint32("tick", a.currentTick).Msg("match ended")

	if a.broadcasterPID != nil {
		a.engine.Stop(a.broadcasterPID)
		a.broadcasterPID = nil
	}
	if a.matchmakerPID != nil {
		a.engine.Send(a.matchmakerPID, MatchOver{MatchID: a.matchID}, a.selfPID)
	}
}

// checkAllDisconnected ends the match when no slot has a live transport left.
func (a *MatchActor) checkAllDisconnected() {
	for _, slot := range a.slots {
		if slot.Activity == ActivityActive || slot.Activity == ActivityLagging {
			return
		}
	}
	a.endMatch(EndReasonAllDisconnected)
}

// matchFoundFor builds the personalized match-found payload for one slot.
func (a *MatchActor) matchFoundFor(slot *PlayerSlot) MatchFoundPayload {
	teammates := []PlayerRef{}
	opponents := []PlayerRef{}
	for _, other := range a.slots {
		if other.PlayerID == slot.PlayerID {
			continue
		}
		ref := PlayerRef{PlayerID: other.PlayerID, Username: other.Username}
		if other.TeamID == slot.TeamID {
			teammates = append(teammates, ref)
		} else {
			opponents = append(opponents, ref)
		}
	}
	return MatchFoundPayload{
		MatchID:   a.matchID,
		PlayerID:  slot.PlayerID,
		TeamID:    slot.TeamID,
		Teammates: teammates,
		Opponents: opponents,
		GameMode:  a.mode.String(),
		Seed:      a.seed,
	}
}

// roster lists every slot with its team, in slot order.
func (a *MatchActor) roster() []RosterEntry {
	roster := make([]RosterEntry, 0, len(a.slots))
	for _, slot := range a.slots {
		roster = append(roster, RosterEntry{PlayerID: slot.PlayerID, Username: slot.Username, TeamID: slot.TeamID})
	}
	return roster
}

// teamAssignment maps playerId to teamId for reconnect-state.
func (a *MatchActor) teamAssignment() map[string]int {
	assignment := make(map[string]int, len(a.slots))
	for _, slot := range a.slots {
		assignment[slot.PlayerID] = slot.TeamID
	}
	return assignment
}

// broadcast fans an event out through the broadcaster actor.
func (a *MatchActor) broadcast(event string, payload interface{}) {
	if a.broadcasterPID == nil {
		return
	}
	a.engine.Send(a.broadcasterPID, BroadcastEvent{Event: event, Payload: payload}, a.selfPID)
}

// sendToSlot writes a personalized event directly to one slot's connection;
// a failed write is treated as a transport disconnect.
func (a *MatchActor) sendToSlot(slot *PlayerSlot, event string, payload interface{}) {
	if slot.Conn == nil {
		return
	}
	if err := slot.Conn.SendEvent(event, payload); err != nil {
		a.log.Debug().Err(err).Str("player", slot.PlayerID).Str("event", event).Msg("direct send failed")
		a.handlePlayerDisconnect(slot.PlayerID)
	}
}
