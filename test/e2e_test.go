// File: test/e2e_test.go
package test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phalanx-mp/phalanx/match"
)

func TestE2E_MatchFormationAndStart(t *testing.T) {
	setup := SetupE2ETest(t, FastE2EConfig())
	c1 := Dial(t, setup.WsURL)
	c2 := Dial(t, setup.WsURL)

	c1.Send(match.EvQueueJoin, match.QueueJoinPayload{PlayerID: "p1", Username: "alice"})
	var queueStatus match.QueueStatusPayload
	c1.WaitEvent(match.EvQueueStatus, 2*time.Second, &queueStatus)
	assert.Equal(t, 1, queueStatus.Position)

	c2.Send(match.EvQueueJoin, match.QueueJoinPayload{PlayerID: "p2", Username: "bob"})

	var f1, f2 match.MatchFoundPayload
	c1.WaitEvent(match.EvMatchFound, 3*time.Second, &f1)
	c2.WaitEvent(match.EvMatchFound, 3*time.Second, &f2)
	assert.Equal(t, f1.MatchID, f2.MatchID)
	assert.Equal(t, f1.Seed, f2.Seed)
	assert.NotEqual(t, f1.TeamID, f2.TeamID)
	require.Len(t, f1.Opponents, 1)
	assert.Equal(t, "p2", f1.Opponents[0].PlayerID)

	var s1, s2 match.GameStartPayload
	c1.WaitEvent(match.EvGameStart, 3*time.Second, &s1)
	c2.WaitEvent(match.EvGameStart, 3*time.Second, &s2)
	assert.Equal(t, s1.Seed, s2.Seed)
	assert.Len(t, s1.Players, 2)
	assert.Equal(t, setup.Cfg.TickRate, s1.TickRate)
}

func TestE2E_CountdownPrecedesStart(t *testing.T) {
	cfg := FastE2EConfig()
	cfg.CountdownSeconds = 1
	setup := SetupE2ETest(t, cfg)
	c1 := Dial(t, setup.WsURL)
	c2 := Dial(t, setup.WsURL)

	c1.Send(match.EvQueueJoin, match.QueueJoinPayload{PlayerID: "p1", Username: "alice"})
	c2.Send(match.EvQueueJoin, match.QueueJoinPayload{PlayerID: "p2", Username: "bob"})

	var cd match.CountdownPayload
	c1.WaitEvent(match.EvCountdown, 3*time.Second, &cd)
	assert.Equal(t, 1, cd.Seconds)

	c1.WaitEvent(match.EvGameStart, 5*time.Second, nil)

	events := c1.Received()
	var sawCountdown bool
	for _, env := range events {
		if env.Event == match.EvCountdown {
			sawCountdown = true
		}
		if env.Event == match.EvGameStart {
			break
		}
	}
	assert.True(t, sawCountdown, "countdown arrives before game-start")
}

func TestE2E_CommandsBroadcastIdentically(t *testing.T) {
	setup := SetupE2ETest(t, FastE2EConfig())
	c1 := Dial(t, setup.WsURL)
	c2 := Dial(t, setup.WsURL)
	QueueAndStart(t, c1, c2)

	// Aim well ahead of the current tick so the submission lands in the window.
	var sync match.TickSyncPayload
	c1.WaitEvent(match.EvTickSync, 2*time.Second, &sync)
	target := sync.Tick + 20

	c1.Send(match.EvSubmitCommands, match.SubmitCommandsPayload{
		Tick:     target,
		Commands: []match.Command{{Type: "move", Data: json.RawMessage(`{"dx":1}`)}},
	})

	var ack match.SubmitAckPayload
	c1.WaitEventMatching(match.EvSubmitAck, 2*time.Second, func(env match.Envelope) bool {
		var a match.SubmitAckPayload
		if json.Unmarshal(env.Data, &a) != nil {
			return false
		}
		ack = a
		return a.Tick == target
	})
	assert.True(t, ack.Accepted)

	batchFor := func(c *TestClient) match.CommandsBatchPayload {
		var batch match.CommandsBatchPayload
		c.WaitEventMatching(match.EvCommandsBatch, 3*time.Second, func(env match.Envelope) bool {
			var b match.CommandsBatchPayload
			if json.Unmarshal(env.Data, &b) != nil {
				return false
			}
			batch = b
			return b.Tick == target
		})
		return batch
	}

	b1 := batchFor(c1)
	b2 := batchFor(c2)
	require.Len(t, b1.Commands, 1)
	assert.Equal(t, "move", b1.Commands[0].Type)
	assert.Equal(t, "p1", b1.Commands[0].PlayerID, "server stamps the submitting player")
	assert.Equal(t, b1, b2, "both clients see the identical batch")
}

func TestE2E_SilentTicksStillFlow(t *testing.T) {
	setup := SetupE2ETest(t, FastE2EConfig())
	c1 := Dial(t, setup.WsURL)
	c2 := Dial(t, setup.WsURL)
	QueueAndStart(t, c1, c2)

	var batch match.CommandsBatchPayload
	c1.WaitEvent(match.EvCommandsBatch, 2*time.Second, &batch)
	assert.Empty(t, batch.Commands, "no submissions yields empty batches")
	c1.WaitEvent(match.EvTickSync, 2*time.Second, nil)
}

func TestE2E_LateSubmissionRejected(t *testing.T) {
	setup := SetupE2ETest(t, FastE2EConfig())
	c1 := Dial(t, setup.WsURL)
	c2 := Dial(t, setup.WsURL)
	QueueAndStart(t, c1, c2)

	var sync match.TickSyncPayload
	c1.WaitEvent(match.EvTickSync, 2*time.Second, &sync)

	c1.Send(match.EvSubmitCommands, match.SubmitCommandsPayload{Tick: 0})

	var ack match.SubmitAckPayload
	c1.WaitEventMatching(match.EvSubmitAck, 2*time.Second, func(env match.Envelope) bool {
		var a match.SubmitAckPayload
		if json.Unmarshal(env.Data, &a) != nil {
			return false
		}
		ack = a
		return a.Tick == 0
	})
	assert.False(t, ack.Accepted)
	assert.Equal(t, "late", ack.Reason)
}

func TestE2E_DisconnectAndReconnect(t *testing.T) {
	setup := SetupE2ETest(t, FastE2EConfig())
	c1 := Dial(t, setup.WsURL)
	c2 := Dial(t, setup.WsURL)
	s1, _ := QueueAndStart(t, c1, c2)

	// Let some history accumulate, then kill p2's transport.
	c1.WaitEvent(match.EvTickSync, 2*time.Second, nil)
	time.Sleep(100 * time.Millisecond)
	c2.Close()

	var gone match.PlayerMatchPayload
	c1.WaitEvent(match.EvPlayerDisconnected, 3*time.Second, &gone)
	assert.Equal(t, "p2", gone.PlayerID)

	// Match keeps running for p1.
	before := len(c1.EventsNamed(match.EvTickSync))
	time.Sleep(100 * time.Millisecond)
	assert.Greater(t, len(c1.EventsNamed(match.EvTickSync)), before)

	// p2 returns on a fresh connection.
	c3 := Dial(t, setup.WsURL)
	c3.Send(match.EvReconnectMatch, match.ReconnectMatchPayload{PlayerID: "p2", MatchID: s1.MatchID})

	var status match.ReconnectStatusPayload
	c3.WaitEvent(match.EvReconnectStatus, 3*time.Second, &status)
	require.True(t, status.Success, "reconnect refused: %s", status.Reason)

	var state match.ReconnectStatePayload
	c3.WaitEvent(match.EvReconnectState, 3*time.Second, &state)
	assert.Equal(t, s1.MatchID, state.MatchID)
	assert.Equal(t, s1.Seed, state.Seed)
	assert.NotEmpty(t, state.TickCommandsHistory)
	assert.Contains(t, state.TeamAssignment, "p1")
	assert.Contains(t, state.TeamAssignment, "p2")

	var back match.PlayerMatchPayload
	c1.WaitEvent(match.EvPlayerReconnected, 3*time.Second, &back)
	assert.Equal(t, "p2", back.PlayerID)

	c3.WaitEvent(match.EvTickSync, 3*time.Second, nil)

	// The replay plus the live stream covers every tick contiguously.
	var firstLive match.TickSyncPayload
	c3.WaitEvent(match.EvTickSync, time.Second, &firstLive)
	last := state.TickCommandsHistory[len(state.TickCommandsHistory)-1].Tick
	assert.LessOrEqual(t, firstLive.Tick, last+2, "no gap between replayed history and live ticks")
}

func TestE2E_ReconnectUnknownMatchRefused(t *testing.T) {
	setup := SetupE2ETest(t, FastE2EConfig())
	c1 := Dial(t, setup.WsURL)

	c1.Send(match.EvReconnectMatch, match.ReconnectMatchPayload{PlayerID: "p9", MatchID: "match-unknown"})

	var status match.ReconnectStatusPayload
	c1.WaitEvent(match.EvReconnectStatus, 3*time.Second, &status)
	assert.False(t, status.Success)
	assert.NotEmpty(t, status.Reason)
}

func TestE2E_DesyncDetected(t *testing.T) {
	cfg := FastE2EConfig()
	cfg.HashGraceTicks = 3
	setup := SetupE2ETest(t, cfg)
	c1 := Dial(t, setup.WsURL)
	c2 := Dial(t, setup.WsURL)
	QueueAndStart(t, c1, c2)

	var sync match.TickSyncPayload
	c1.WaitEvent(match.EvTickSync, 2*time.Second, &sync)

	c1.Send(match.EvStateHash, match.StateHashPayload{Tick: sync.Tick, Hash: "aaa"})
	c2.Send(match.EvStateHash, match.StateHashPayload{Tick: sync.Tick, Hash: "bbb"})

	var report match.DesyncDetectedPayload
	c1.WaitEvent(match.EvDesyncDetected, 3*time.Second, &report)
	assert.Equal(t, sync.Tick, report.Tick)
	assert.Equal(t, "aaa", report.Hashes["p1"])
	assert.Equal(t, "bbb", report.Hashes["p2"])

	c2.WaitEvent(match.EvDesyncDetected, 3*time.Second, nil)
}

func TestE2E_MatchingHashesStaySilent(t *testing.T) {
	cfg := FastE2EConfig()
	cfg.HashGraceTicks = 3
	setup := SetupE2ETest(t, cfg)
	c1 := Dial(t, setup.WsURL)
	c2 := Dial(t, setup.WsURL)
	QueueAndStart(t, c1, c2)

	var sync match.TickSyncPayload
	c1.WaitEvent(match.EvTickSync, 2*time.Second, &sync)

	c1.Send(match.EvStateHash, match.StateHashPayload{Tick: sync.Tick, Hash: "same"})
	c2.Send(match.EvStateHash, match.StateHashPayload{Tick: sync.Tick, Hash: "same"})

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, c1.EventsNamed(match.EvDesyncDetected))
}

func TestE2E_DuplicateQueueJoin(t *testing.T) {
	setup := SetupE2ETest(t, FastE2EConfig())
	c1 := Dial(t, setup.WsURL)

	c1.Send(match.EvQueueJoin, match.QueueJoinPayload{PlayerID: "p1", Username: "alice"})
	c1.WaitEvent(match.EvQueueStatus, 2*time.Second, nil)
	c1.Send(match.EvQueueJoin, match.QueueJoinPayload{PlayerID: "p1", Username: "alice"})

	var qerr match.QueueErrorPayload
	c1.WaitEvent(match.EvQueueError, 2*time.Second, &qerr)
	assert.NotEmpty(t, qerr.Message)
}

func TestE2E_UnknownEventAnswered(t *testing.T) {
	setup := SetupE2ETest(t, FastE2EConfig())
	c1 := Dial(t, setup.WsURL)

	c1.Send("telepathy", map[string]string{"to": "p2"})

	var errPayload match.ErrorPayload
	c1.WaitEvent(match.EvError, 2*time.Second, &errPayload)
	assert.Equal(t, "unknown-event", errPayload.Code)
}

func TestE2E_OperationalEndpoints(t *testing.T) {
	setup := SetupE2ETest(t, FastE2EConfig())
	c1 := Dial(t, setup.WsURL)
	c2 := Dial(t, setup.WsURL)
	QueueAndStart(t, c1, c2)

	resp, err := http.Get(setup.Server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(setup.Server.URL + "/matches")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var snapshot match.RegistrySnapshot
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&snapshot))
	require.Len(t, snapshot.Matches, 1)
	assert.Equal(t, "running", snapshot.Matches[0].State)

	resp3, err := http.Get(setup.Server.URL + "/metrics")
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusOK, resp3.StatusCode)
}

func TestE2E_ServerShutdownEndsMatches(t *testing.T) {
	setup := SetupE2ETest(t, FastE2EConfig())
	c1 := Dial(t, setup.WsURL)
	c2 := Dial(t, setup.WsURL)
	QueueAndStart(t, c1, c2)

	endedCh := make(chan match.Event, 1)
	setup.Bus.Subscribe(match.EventMatchEnded, func(ev match.Event) {
		select {
		case endedCh <- ev:
		default:
		}
	})

	go setup.Engine.Shutdown(3 * time.Second)

	select {
	case ev := <-endedCh:
		payload := ev.Payload.(match.MatchEndPayload)
		assert.Equal(t, "server-shutdown", payload.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not end the running match")
	}
}
