// File: match/match_actor_handlers.go
package match

import (
	"time"

	"github.com/phalanx-mp/phalanx/metrics"
)

// handleTick advances the match by exactly one tick: drain the buffer for the
// next tick, broadcast the authoritative batch and the tick-sync marker,
// archive the batch for reconnects, evaluate liveness, and judge any state
// hashes that became ready.
func (a *MatchActor) handleTick() {
	if a.state != StateRunning {
		return
	}

	t := a.currentTick + 1
	batch := a.buffer.Drain(t)

	a.broadcast(EvCommandsBatch, CommandsBatchPayload{Tick: t, Commands: batch})
	a.broadcast(EvTickSync, TickSyncPayload{Tick: t, ServerTimeMs: time.Now().UnixMilli()})

	a.history.Append(t, batch)
	a.evaluateActivity()
	a.sweepDesync(t)

	a.currentTick = t
	metrics.TicksTotal.Inc()

	a.checkAllDisconnected()
}

// handleSubmitCommands applies the acceptance rules in order and always
// answers with exactly one submit-commands-ack.
func (a *MatchActor) handleSubmitCommands(msg SubmitCommands) {
	slot, member := a.slotByID[msg.PlayerID]

	var reason string
	switch {
	case !member:
		reason = ReasonWrongMatch
	case msg.Tick <= a.currentTick:
		reason = ReasonLate
	case msg.Tick > a.currentTick+uint32(a.cfg.MaxFutureTicks):
		reason = ReasonTooFarFuture
	case a.state != StateRunning:
		reason = ReasonMatchEnded
	}

	if member {
		slot.LastActivity = time.Now()
	}

	if reason != "" {
		metrics.CommandsRejected.WithLabelValues(reason).Inc()
		a.ackSubmit(msg, SubmitAckPayload{Tick: msg.Tick, Accepted: false, Reason: reason})
		return
	}

	// Stamp the authenticated identity onto every command; clients cannot
	// forge another player's id.
	commands := msg.Commands
	if commands == nil {
		commands = []Command{}
	}
	for i := range commands {
		commands[i].PlayerID = msg.PlayerID
	}

	a.buffer.Accept(a.currentTick, msg.Tick, msg.PlayerID, commands)
	metrics.CommandsAccepted.Inc()
	a.ackSubmit(msg, SubmitAckPayload{Tick: msg.Tick, Accepted: true})
}

func (a *MatchActor) ackSubmit(msg SubmitCommands, ack SubmitAckPayload) {
	conn := msg.Conn
	if conn == nil {
		if slot, ok := a.slotByID[msg.PlayerID]; ok {
			conn = slot.Conn
		}
	}
	if conn == nil {
		return
	}
	if err := conn.SendEvent(EvSubmitAck, ack); err != nil {
		a.log.Debug().Err(err).Str("player", msg.PlayerID).Msg("ack delivery failed")
	}
}

// handleStateHash records a hash submission; comparison happens on the tick
// following completeness or grace expiry.
func (a *MatchActor) handleStateHash(msg SubmitStateHash) {
	slot, ok := a.slotByID[msg.PlayerID]
	if !ok {
		return
	}
	slot.LastActivity = time.Now()
	a.oracle.Submit(msg.Tick, msg.PlayerID, msg.Hash)
}

// sweepDesync judges every hash tick that is ready and reports mismatches to
// all players and the public event surface. The match keeps running either
// way; acting on desync is embedder policy.
func (a *MatchActor) sweepDesync(currentTick uint32) {
	live := make([]string, 0, len(a.slots))
	for _, slot := range a.slots {
		if slot.Activity == ActivityActive || slot.Activity == ActivityLagging {
			live = append(live, slot.PlayerID)
		}
	}

	for _, report := range a.oracle.Sweep(currentTick, live) {
		payload := DesyncDetectedPayload{Tick: report.Tick, Hashes: report.Hashes}
		a.broadcast(EvDesyncDetected, payload)
		a.bus.Publish(Event{Kind: EventDesyncDetected, MatchID: a.matchID, Tick: report.Tick, Payload: payload})
		metrics.DesyncsDetected.Inc()
		a.log.Warn().Uint32("tick", report.Tick).Int("players", len(report.Hashes)).Msg("desync detected")
	}
}

// evaluateActivity runs the per-tick liveness check over every slot that is
// still active or lagging.
func (a *MatchActor) evaluateActivity() {
	now := time.Now()
	for _, slot := range a.slots {
		next, transition, silence := a.tracker.Evaluate(slot.Activity, slot.LastActivity, now)
		slot.Activity = next

		switch transition {
		case TransitionLagging:
			payload := PlayerLivenessPayload{PlayerID: slot.PlayerID, MsSinceLastMessage: silence.Milliseconds()}
			a.broadcast(EvPlayerLagging, payload)
			a.bus.Publish(Event{Kind: EventPlayerLagging, MatchID: a.matchID, PlayerID: slot.PlayerID, Payload: payload})

		case TransitionTimedOut:
			payload := PlayerLivenessPayload{PlayerID: slot.PlayerID, MsSinceLastMessage: silence.Milliseconds()}
			a.broadcast(EvPlayerTimeout, payload)
			a.bus.Publish(Event{Kind: EventPlayerTimeout, MatchID: a.matchID, PlayerID: slot.PlayerID, Payload: payload})
			a.log.Info().Str("player", slot.PlayerID).Dur("silence", silence).Msg("player timed out")
			// Timeout falls through to the disconnect policy, but the slot
			// stays timedOut: only a successful reconnect revives it.
			a.dropFromMatch(slot)

		case TransitionRecovered:
			// lagging -> active, no event by design of the protocol.
		}
	}
}

// handlePlayerDisconnect marks the slot's transport gone and keeps the match
// running; the slot is retained for the reconnect window.
func (a *MatchActor) handlePlayerDisconnect(playerID string) {
	slot, ok := a.slotByID[playerID]
	if !ok {
		return
	}
	if slot.Activity == ActivityDisconnected || slot.Activity == ActivityTimedOut {
		return
	}
	slot.Activity = ActivityDisconnected
	a.dropFromMatch(slot)
}

// dropFromMatch applies the disconnect side effects shared by transport loss
// and activity timeout: stop broadcasting to the player and tell the rest.
func (a *MatchActor) dropFromMatch(slot *PlayerSlot) {
	slot.Conn = nil
	slot.HandlerPID = nil
	slot.DisconnectTick = a.currentTick
	if a.broadcasterPID != nil {
		a.engine.Send(a.broadcasterPID, RemoveClient{PlayerID: slot.PlayerID}, a.selfPID)
	}

	payload := PlayerMatchPayload{PlayerID: slot.PlayerID, MatchID: a.matchID}
	a.broadcast(EvPlayerDisconnected, payload)
	a.bus.Publish(Event{Kind: EventPlayerDisconnect, MatchID: a.matchID, PlayerID: slot.PlayerID, Payload: payload})
	a.log.Info().Str("player", slot.PlayerID).Uint32("tick", a.currentTick).Msg("player disconnected")

	a.checkAllDisconnected()
}

// handleReconnect validates a rejoin request, and on success rebinds the slot
// to the new transport and replays the retained broadcast history.
func (a *MatchActor) handleReconnect(msg ReconnectRequest) {
	refuse := func(reason string) {
		if msg.Conn != nil {
			_ = msg.Conn.SendEvent(EvReconnectStatus, ReconnectStatusPayload{Success: false, Reason: reason})
		}
	}

	if a.state == StateEnded {
		refuse("match ended")
		return
	}
	slot, ok := a.slotByID[msg.PlayerID]
	if !ok {
		refuse("not a participant")
		return
	}
	// The replay must cover every tick since the player's last broadcast;
	// once the window slid past that point the match is unrecoverable for
	// them. A slot that is still active or lagging has been receiving
	// broadcasts all along (silent transport death, live replacement), so
	// its cutoff is the current tick, not DisconnectTick.
	lastDelivered := slot.DisconnectTick
	if slot.Activity == ActivityActive || slot.Activity == ActivityLagging {
		lastDelivered = a.currentTick
	}
	if a.state == StateRunning && a.history.Len() > 0 && a.history.OldestTick() > lastDelivered+1 {
		refuse("state too old")
		return
	}

	// Rebind. Replacing a live connection is allowed: it covers transports
	// that died without the server noticing.
	if slot.Conn != nil && a.broadcasterPID != nil {
		a.engine.Send(a.broadcasterPID, RemoveClient{PlayerID: slot.PlayerID}, a.selfPID)
	}
	slot.Conn = msg.Conn
	slot.HandlerPID = msg.HandlerPID
	slot.Activity = ActivityActive
	slot.LastActivity = time.Now()

	if msg.HandlerPID != nil {
		a.engine.Send(msg.HandlerPID, MatchAssigned{MatchID: a.matchID, MatchPID: a.selfPID}, a.selfPID)
	}

	a.sendToSlot(slot, EvReconnectStatus, ReconnectStatusPayload{Success: true})
	a.sendToSlot(slot, EvReconnectState, ReconnectStatePayload{
		MatchID:             a.matchID,
		CurrentTick:         a.currentTick,
		Seed:                a.seed,
		TeamAssignment:      a.teamAssignment(),
		TickCommandsHistory: a.history.Snapshot(),
	})
	if slot.Conn == nil {
		// The replay itself failed; the disconnect path already ran.
		return
	}

	payload := PlayerMatchPayload{PlayerID: slot.PlayerID, MatchID: a.matchID}
	a.broadcast(EvPlayerReconnected, payload)
	a.bus.Publish(Event{Kind: EventPlayerReconnect, MatchID: a.matchID, PlayerID: slot.PlayerID, Payload: payload})
	metrics.Reconnects.Inc()
	a.log.Info().Str("player", slot.PlayerID).Uint32("tick", a.currentTick).Msg("player reconnected")

	if a.broadcasterPID != nil {
		a.engine.Send(a.broadcasterPID, AddClient{PlayerID: slot.PlayerID, Conn: slot.Conn}, a.selfPID)
	}
}
