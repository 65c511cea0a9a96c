// File: match/command_buffer.go
package match

import "sort"

// Command rejection reasons, sent verbatim in submit-commands-ack.
const (
	ReasonWrongMatch   = "wrong-match"
	ReasonLate         = "late"
	ReasonTooFarFuture = "too-far-future"
	ReasonMatchEnded   = "match-ended"
)

// CommandBuffer stores accepted command submissions per tick, per player.
// The last write for a (tick, player) pair wins; earlier writes for the same
// pair are discarded. Memory is bounded by maxFutureTicks: ticks at or below
// the current tick are drained as they are broadcast.
type CommandBuffer struct {
	byTick         map[uint32]map[string][]Command
	maxFutureTicks uint32
}

// NewCommandBuffer creates a buffer accepting submissions up to
// maxFutureTicks ahead of the current tick.
func NewCommandBuffer(maxFutureTicks int) *CommandBuffer {
	return &CommandBuffer{
		byTick:         make(map[uint32]map[string][]Command),
		maxFutureTicks: uint32(maxFutureTicks),
	}
}

// Accept applies the tick-window acceptance rules and stores the submission
// on success. It returns a rejection reason from the constants above, or ""
// when the submission was accepted. An empty command list is a legal,
// meaningful submission ("no intent this tick").
func (b *CommandBuffer) Accept(currentTick, tick uint32, playerID string, commands []Command) string {
	if tick <= currentTick {
		return ReasonLate
	}
	if tick > currentTick+b.maxFutureTicks {
		return ReasonTooFarFuture
	}
	perPlayer, ok := b.byTick[tick]
	if !ok {
		perPlayer = make(map[string][]Command)
		b.byTick[tick] = perPlayer
	}
	perPlayer[playerID] = commands
	return ""
}

// Drain removes and flattens the stored submissions for one tick into the
// authoritative broadcast order: player ids ascending, then each player's
// commands in their submission order. Players with no entry contribute
// nothing.
func (b *CommandBuffer) Drain(tick uint32) []Command {
	perPlayer, ok := b.byTick[tick]
	if !ok {
		return []Command{}
	}
	delete(b.byTick, tick)

	ids := make([]string, 0, len(perPlayer))
	for id := range perPlayer {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	flat := []Command{}
	for _, id := range ids {
		flat = append(flat, perPlayer[id]...)
	}
	return flat
}

// PendingTicks reports how many future ticks hold submissions. Test hook.
func (b *CommandBuffer) PendingTicks() int {
	return len(b.byTick)
}
