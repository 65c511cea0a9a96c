package utils

import (
	"math/rand"
	"strconv"
	"time"
)

// NewMatchID returns a globally unique match identifier in the form
// match-<unix-millis>-<base36-random>.
func NewMatchID() string {
	millis := time.Now().UnixMilli()
	suffix := strconv.FormatUint(uint64(rand.Uint32()), 36)
	return "match-" + strconv.FormatInt(millis, 10) + "-" + suffix
}

// NewSeed returns a random uint32 simulation seed shared with all clients of
// a match so their deterministic PRNG streams agree.
func NewSeed() uint32 {
	return rand.Uint32()
}

// NewPlayerID returns a server-assigned identifier for anonymous players that
// join without declaring one.
func NewPlayerID() string {
	return "player-" + strconv.FormatUint(uint64(rand.Uint32()), 36) + strconv.FormatUint(uint64(rand.Uint32()), 36)
}
