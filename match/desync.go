// File: match/desync.go
package match

// desyncOracle collects per-tick state-hash submissions and reports ticks
// where clients disagree. A tick is compared once every live player has
// submitted, or once a grace of hashGraceTicks ticks has passed, whichever
// comes first. Compared and stale ticks are pruned to bound memory.
type desyncOracle struct {
	hashes      map[uint32]map[string]string
	windowTicks uint32
	graceTicks  uint32
}

// DesyncReport describes one tick whose hashes disagreed.
type DesyncReport struct {
	Tick   uint32
	Hashes map[string]string
}

func newDesyncOracle(windowTicks, graceTicks int) *desyncOracle {
	return &desyncOracle{
		hashes:      make(map[uint32]map[string]string),
		windowTicks: uint32(windowTicks),
		graceTicks:  uint32(graceTicks),
	}
}

// Submit stores one player's hash for a tick. Resubmission overwrites.
func (o *desyncOracle) Submit(tick uint32, playerID, hash string) {
	perPlayer, ok := o.hashes[tick]
	if !ok {
		perPlayer = make(map[string]string)
		o.hashes[tick] = perPlayer
	}
	perPlayer[playerID] = hash
}

// Sweep compares every tick that is ready, returns reports for mismatches,
// and prunes compared plus out-of-window ticks. livePlayers is the set of
// players whose submissions are still expected.
func (o *desyncOracle) Sweep(currentTick uint32, livePlayers []string) []DesyncReport {
	reports := []DesyncReport{}

	for tick, perPlayer := range o.hashes {
		graceExpired := currentTick >= tick && currentTick-tick >= o.graceTicks
		if !graceExpired && !o.complete(perPlayer, livePlayers) {
			// Drop ticks that fell out of the retention window unjudged.
			if currentTick >= tick && currentTick-tick >= o.windowTicks {
				delete(o.hashes, tick)
			}
			continue
		}

		if report, mismatch := compareHashes(tick, perPlayer); mismatch {
			reports = append(reports, report)
		}
		delete(o.hashes, tick)
	}
	return reports
}

func (o *desyncOracle) complete(perPlayer map[string]string, livePlayers []string) bool {
	if len(livePlayers) == 0 {
		return false
	}
	for _, id := range livePlayers {
		if _, ok := perPlayer[id]; !ok {
			return false
		}
	}
	return true
}

func compareHashes(tick uint32, perPlayer map[string]string) (DesyncReport, bool) {
	if len(perPlayer) < 2 {
		return DesyncReport{}, false
	}
	var first string
	var have bool
	for _, h := range perPlayer {
		if !have {
			first, have = h, true
			continue
		}
		if h != first {
			snapshot := make(map[string]string, len(perPlayer))
			for id, hash := range perPlayer {
				snapshot[id] = hash
			}
			return DesyncReport{Tick: tick, Hashes: snapshot}, true
		}
	}
	return DesyncReport{}, false
}
