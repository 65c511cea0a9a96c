// File: match/history.go
package match

// BroadcastHistory retains the most recent broadcast batches so a rejoining
// client can replay every tick it missed. Appending one entry per broadcast
// tick keeps the retained window a contiguous tick range; the oldest entry is
// evicted once the window is full.
type BroadcastHistory struct {
	entries []TickCommands
	maxSize int
}

// NewBroadcastHistory creates a history window of maxTicks batches.
func NewBroadcastHistory(maxTicks int) *BroadcastHistory {
	return &BroadcastHistory{
		entries: make([]TickCommands, 0, maxTicks),
		maxSize: maxTicks,
	}
}

// Append records the batch broadcast for one tick, evicting the oldest entry
// when the window is full.
func (h *BroadcastHistory) Append(tick uint32, commands []Command) {
	if len(h.entries) >= h.maxSize {
		h.entries = h.entries[1:]
	}
	h.entries = append(h.entries, TickCommands{Tick: tick, Commands: commands})
}

// Snapshot returns the retained batches in ascending tick order. The slice is
// a copy; callers may hold it across further appends.
func (h *BroadcastHistory) Snapshot() []TickCommands {
	out := make([]TickCommands, len(h.entries))
	copy(out, h.entries)
	return out
}

// OldestTick returns the earliest retained tick, or 0 when empty.
func (h *BroadcastHistory) OldestTick() uint32 {
	if len(h.entries) == 0 {
		return 0
	}
	return h.entries[0].Tick
}

// Len returns the number of retained batches.
func (h *BroadcastHistory) Len() int {
	return len(h.entries)
}
