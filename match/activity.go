// File: match/activity.go
package match

import "time"

// ActivityState is the per-slot liveness state under the tick clock.
type ActivityState string

const (
	ActivityActive       ActivityState = "active"
	ActivityLagging      ActivityState = "lagging"
	ActivityTimedOut     ActivityState = "timedOut"
	ActivityDisconnected ActivityState = "disconnected"
	ActivityReconnecting ActivityState = "reconnecting"
)

// ActivityTransition is the outcome of one per-tick liveness evaluation.
type ActivityTransition int

const (
	TransitionNone ActivityTransition = iota
	TransitionLagging
	TransitionRecovered
	TransitionTimedOut
)

// ActivityTracker evaluates player liveness against tick-denominated
// thresholds. Any inbound event from a player refreshes their last-activity
// timestamp; the match evaluates every active or lagging slot after each
// broadcast tick.
type ActivityTracker struct {
	laggingAfter time.Duration
	timeoutAfter time.Duration
}

// NewActivityTracker converts the configured tick thresholds to durations.
func NewActivityTracker(timeoutTicks, disconnectTicks int, tickDuration time.Duration) *ActivityTracker {
	return &ActivityTracker{
		laggingAfter: time.Duration(timeoutTicks) * tickDuration,
		timeoutAfter: time.Duration(disconnectTicks) * tickDuration,
	}
}

// Evaluate inspects one slot and returns its next state plus the transition
// taken. Slots beyond lagging (timedOut, disconnected, reconnecting) are
// never re-evaluated here; only a successful reconnect revives them.
func (t *ActivityTracker) Evaluate(state ActivityState, lastActivity, now time.Time) (ActivityState, ActivityTransition, time.Duration) {
	if state != ActivityActive && state != ActivityLagging {
		return state, TransitionNone, 0
	}

	silence := now.Sub(lastActivity)
	switch {
	case silence >= t.timeoutAfter:
		return ActivityTimedOut, TransitionTimedOut, silence
	case silence >= t.laggingAfter:
		if state == ActivityActive {
			return ActivityLagging, TransitionLagging, silence
		}
		return ActivityLagging, TransitionNone, silence
	default:
		if state == ActivityLagging {
			return ActivityActive, TransitionRecovered, silence
		}
		return ActivityActive, TransitionNone, silence
	}
}
