// File: match/messages.go
package match

import (
	"encoding/json"
	"time"

	"github.com/phalanx-mp/phalanx/actor"
)

// --- Wire Envelope ---

// Envelope is the framing for every websocket message in both directions:
// a named event plus a JSON payload. The event name is the tag that selects
// the payload schema.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Server -> client event names.
const (
	EvQueueStatus        = "queue-status"
	EvQueueError         = "queue-error"
	EvMatchFound         = "match-found"
	EvCountdown          = "countdown"
	EvGameStart          = "game-start"
	EvTickSync           = "tick-sync"
	EvCommandsBatch      = "commands-batch"
	EvPlayerLagging      = "player-lagging"
	EvPlayerTimeout      = "player-timeout"
	EvPlayerDisconnected = "player-disconnected"
	EvPlayerReconnected  = "player-reconnected"
	EvReconnectStatus    = "reconnect-status"
	EvReconnectState     = "reconnect-state"
	EvMatchEnd           = "match-end"
	EvDesyncDetected     = "desync-detected"
	EvSubmitAck          = "submit-commands-ack"
	EvError              = "error"
	EvAuthError          = "auth-error"
)

// Client -> server event names.
const (
	EvQueueJoin      = "queue-join"
	EvQueueLeave     = "queue-leave"
	EvSubmitCommands = "submit-commands"
	EvReconnectMatch = "reconnect-match"
	EvStateHash      = "state-hash"
)

// Command is a player-originated opaque intent for one tick. The server never
// interprets Data; PlayerID is stamped from the authenticated connection
// identity on ingestion, overwriting anything the client supplied.
type Command struct {
	PlayerID string          `json:"playerId,omitempty"`
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// PlayerRef identifies a player in rosters sent to clients.
type PlayerRef struct {
	PlayerID string `json:"playerId"`
	Username string `json:"username"`
}

// RosterEntry is a player plus their team, used in game-start.
type RosterEntry struct {
	PlayerID string `json:"playerId"`
	Username string `json:"username"`
	TeamID   int    `json:"teamId"`
}

// TickCommands pairs one broadcast tick with its authoritative command batch.
type TickCommands struct {
	Tick     uint32    `json:"tick"`
	Commands []Command `json:"commands"`
}

// --- Server -> client payloads ---

type QueueStatusPayload struct {
	Position  int `json:"position"`
	QueueSize int `json:"queueSize"`
}

type QueueErrorPayload struct {
	Message string `json:"message"`
}

type MatchFoundPayload struct {
	MatchID   string      `json:"matchId"`
	PlayerID  string      `json:"playerId"`
	TeamID    int         `json:"teamId"`
	Teammates []PlayerRef `json:"teammates"`
	Opponents []PlayerRef `json:"opponents"`
	GameMode  string      `json:"gameMode"`
	Seed      uint32      `json:"seed"`
}

type CountdownPayload struct {
	Seconds int `json:"seconds"`
}

type GameStartPayload struct {
	MatchID    string        `json:"matchId"`
	Seed       uint32        `json:"seed"`
	TickRate   int           `json:"tickRate"`
	Players    []RosterEntry `json:"players"`
	YourTeamID int           `json:"yourTeamId"`
}

type TickSyncPayload struct {
	Tick         uint32 `json:"tick"`
	ServerTimeMs int64  `json:"serverTimeMs"`
}

type CommandsBatchPayload struct {
	Tick     uint32    `json:"tick"`
	Commands []Command `json:"commands"`
}

type PlayerLivenessPayload struct {
	PlayerID           string `json:"playerId"`
	MsSinceLastMessage int64  `json:"msSinceLastMessage"`
}

type PlayerMatchPayload struct {
	PlayerID string `json:"playerId"`
	MatchID  string `json:"matchId"`
}

type ReconnectStatusPayload struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

type ReconnectStatePayload struct {
	MatchID             string         `json:"matchId"`
	CurrentTick         uint32         `json:"currentTick"`
	Seed                uint32         `json:"seed"`
	TeamAssignment      map[string]int `json:"teamAssignment"`
	TickCommandsHistory []TickCommands `json:"tickCommandsHistory"`
}

type MatchEndPayload struct {
	MatchID string `json:"matchId"`
	Reason  string `json:"reason"`
}

type DesyncDetectedPayload struct {
	Tick   uint32            `json:"tick"`
	Hashes map[string]string `json:"hashes"`
}

type SubmitAckPayload struct {
	Tick     uint32 `json:"tick"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --- Client -> server payloads ---

type QueueJoinPayload struct {
	PlayerID string `json:"playerId"`
	Username string `json:"username"`
}

type QueueLeavePayload struct {
	PlayerID string `json:"playerId"`
}

type SubmitCommandsPayload struct {
	Tick     uint32    `json:"tick"`
	Commands []Command `json:"commands"`
}

type ReconnectMatchPayload struct {
	PlayerID string `json:"playerId"`
	MatchID  string `json:"matchId"`
}

type StateHashPayload struct {
	Tick uint32 `json:"tick"`
	Hash string `json:"hash"`
}

// ClientConn is the transport handle the match layer writes to. The server
// package adapts a websocket connection to it; tests substitute fakes.
type ClientConn interface {
	// SendEvent writes one enveloped event to the client.
	SendEvent(event string, payload interface{}) error
	// Close tears the underlying connection down.
	Close() error
	// RemoteAddr describes the peer for logs.
	RemoteAddr() string
}

// --- MatchmakerActor messages ---

// QueueJoin asks the matchmaker to enqueue a player.
type QueueJoin struct {
	PlayerID   string
	Username   string
	Conn       ClientConn
	HandlerPID *actor.PID
}

// QueueLeave removes a player from the queue. Unknown players are ignored.
type QueueLeave struct {
	PlayerID string
}

// HandlerGone tells the matchmaker a queued player's connection dropped.
type HandlerGone struct {
	PlayerID string
}

// FindMatchRequest resolves a matchId to a live MatchActor (used via Ask).
type FindMatchRequest struct {
	MatchID string
}

// FindMatchResponse is the Ask reply for FindMatchRequest.
type FindMatchResponse struct {
	PID    *actor.PID
	Exists bool
}

// MatchOver tells the matchmaker a match finished and can be deregistered.
type MatchOver struct {
	MatchID string
}

// RegistryQuery asks for a queue/registry summary (used via Ask).
type RegistryQuery struct{}

// MatchSummary is one registry entry in a RegistrySnapshot.
type MatchSummary struct {
	MatchID  string    `json:"matchId"`
	GameMode string    `json:"gameMode"`
	State    string    `json:"state"`
	Created  time.Time `json:"created"`
}

// RegistrySnapshot is the Ask reply for RegistryQuery.
type RegistrySnapshot struct {
	QueueSize int            `json:"queueSize"`
	Matches   []MatchSummary `json:"matches"`
}

// formationTick is the matchmaker's periodic batch-formation trigger.
type formationTick struct{}

// --- MatchActor messages ---

// MatchAssigned notifies a connection handler which match its player joined.
// Sent by the matchmaker on formation and by the match on reconnect.
type MatchAssigned struct {
	MatchID  string
	MatchPID *actor.PID
}

// SubmitCommands carries a command submission into the match. Conn is where
// the acknowledgment goes; PlayerID is the authenticated identity the server
// stamps onto every command.
type SubmitCommands struct {
	PlayerID string
	Tick     uint32
	Commands []Command
	Conn     ClientConn
}

// SubmitStateHash carries a client's per-tick state hash into the match.
type SubmitStateHash struct {
	PlayerID string
	Tick     uint32
	Hash     string
}

// PlayerActivity marks any inbound traffic from a player, including events
// the match does not otherwise care about.
type PlayerActivity struct {
	PlayerID string
}

// PlayerDisconnect tells the match a player's transport dropped.
type PlayerDisconnect struct {
	PlayerID string
}

// ReconnectRequest asks the match to rebind a player to a new connection.
type ReconnectRequest struct {
	PlayerID   string
	Conn       ClientConn
	HandlerPID *actor.PID
}

// EndMatch asks the match to terminate with the given reason. Embedders use
// this to report game completion, which the engine cannot detect itself.
type EndMatch struct {
	Reason string
}

// StateQuery asks a match for its current summary (used via Ask).
type StateQuery struct{}

// MatchStatus is the Ask reply for StateQuery.
type MatchStatus struct {
	MatchID     string                   `json:"matchId"`
	GameMode    string                   `json:"gameMode"`
	State       string                   `json:"state"`
	CurrentTick uint32                   `json:"currentTick"`
	Players     map[string]ActivityState `json:"players"`
}

// countdownTick and tick are the match's internal timer firings.
type countdownTick struct{}
type tick struct{}

// --- BroadcasterActor messages ---

// AddClient registers a connection for match-wide fan-out.
type AddClient struct {
	PlayerID string
	Conn     ClientConn
}

// RemoveClient drops a connection from fan-out. The connection itself is not
// closed; it belongs to its connection handler and may outlive the match.
type RemoveClient struct {
	PlayerID string
}

// BroadcastEvent fans one enveloped event out to every registered client.
type BroadcastEvent struct {
	Event   string
	Payload interface{}
}
