// File: test/helpers_test.go
package test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/phalanx-mp/phalanx/actor"
	"github.com/phalanx-mp/phalanx/match"
	"github.com/phalanx-mp/phalanx/server"
	"github.com/phalanx-mp/phalanx/utils"
)

// E2ESetupResult holds everything a test needs to talk to a running stack.
type E2ESetupResult struct {
	Engine        *actor.Engine
	MatchmakerPID *actor.PID
	Bus           *match.Bus
	Server        *httptest.Server
	WsURL         string
	Cfg           utils.Config
}

// FastE2EConfig is the default stack tuning for tests: 20ms ticks, no
// countdown, near-immediate matchmaking, liveness thresholds that test pauses
// cannot trip.
func FastE2EConfig() utils.Config {
	cfg := utils.DefaultConfig()
	cfg.TickRate = 50
	cfg.CountdownSeconds = 0
	cfg.MatchmakingInterval = 30 * time.Millisecond
	cfg.TimeoutTicks = 500
	cfg.DisconnectTicks = 1000
	return cfg
}

// SetupE2ETest starts the full stack behind an httptest server.
func SetupE2ETest(t *testing.T, cfg utils.Config) E2ESetupResult {
	t.Helper()

	engine := actor.NewEngine()
	bus := match.NewBus(zerolog.Nop())
	matchmakerPID := engine.Spawn(actor.NewProps(match.NewMatchmakerProducer(engine, cfg, bus, zerolog.Nop())))
	require.NotNil(t, matchmakerPID)

	srv := server.NewServer(cfg, engine, matchmakerPID, nil, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/subscribe"

	t.Cleanup(func() {
		ts.Close()
		engine.Shutdown(2 * time.Second)
	})

	return E2ESetupResult{
		Engine:        engine,
		MatchmakerPID: matchmakerPID,
		Bus:           bus,
		Server:        ts,
		WsURL:         wsURL,
		Cfg:           cfg,
	}
}

// TestClient is one websocket player: a background read loop collecting every
// envelope the server sends.
type TestClient struct {
	t        *testing.T
	ws       *websocket.Conn
	mu       sync.Mutex
	received []match.Envelope
	closed   bool
}

// Dial connects a new client to the stack.
func Dial(t *testing.T, wsURL string) *TestClient {
	t.Helper()
	ws, err := websocket.Dial(wsURL, "", "http://localhost/")
	require.NoError(t, err)

	c := &TestClient{t: t, ws: ws}
	go c.readLoop()
	t.Cleanup(func() { c.Close() })
	return c
}

func (c *TestClient) readLoop() {
	for {
		var env match.Envelope
		if err := websocket.JSON.Receive(c.ws, &env); err != nil {
			return
		}
		c.mu.Lock()
		c.received = append(c.received, env)
		c.mu.Unlock()
	}
}

// Close tears the client connection down. Safe to call twice.
func (c *TestClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		_ = c.ws.Close()
	}
}

// Send writes one enveloped event to the server.
func (c *TestClient) Send(event string, payload interface{}) {
	c.t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(c.t, err)
	require.NoError(c.t, websocket.JSON.Send(c.ws, match.Envelope{Event: event, Data: data}))
}

// Received returns a copy of every envelope collected so far.
func (c *TestClient) Received() []match.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]match.Envelope, len(c.received))
	copy(out, c.received)
	return out
}

// EventsNamed filters the received envelopes by event name.
func (c *TestClient) EventsNamed(event string) []match.Envelope {
	var out []match.Envelope
	for _, env := range c.Received() {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

// WaitEvent blocks until an event with the given name arrives, decodes its
// payload into out (when non-nil) and returns the envelope.
func (c *TestClient) WaitEvent(event string, timeout time.Duration, out interface{}) match.Envelope {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if envs := c.EventsNamed(event); len(envs) > 0 {
			if out != nil {
				require.NoError(c.t, json.Unmarshal(envs[0].Data, out))
			}
			return envs[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.t.Fatalf("timed out waiting for event %q", event)
	return match.Envelope{}
}

// WaitEventMatching blocks until an event with the given name satisfies pred.
func (c *TestClient) WaitEventMatching(event string, timeout time.Duration, pred func(match.Envelope) bool) match.Envelope {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, env := range c.EventsNamed(event) {
			if pred(env) {
				return env
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.t.Fatalf("timed out waiting for matching event %q", event)
	return match.Envelope{}
}

// QueueAndStart queues both clients and waits for the shared game-start.
func QueueAndStart(t *testing.T, c1, c2 *TestClient) (match.GameStartPayload, match.GameStartPayload) {
	t.Helper()
	c1.Send(match.EvQueueJoin, match.QueueJoinPayload{PlayerID: "p1", Username: "alice"})
	c2.Send(match.EvQueueJoin, match.QueueJoinPayload{PlayerID: "p2", Username: "bob"})

	var s1, s2 match.GameStartPayload
	c1.WaitEvent(match.EvGameStart, 5*time.Second, &s1)
	c2.WaitEvent(match.EvGameStart, 5*time.Second, &s2)
	return s1, s2
}
