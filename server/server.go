// File: server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"

	"github.com/phalanx-mp/phalanx/actor"
	"github.com/phalanx-mp/phalanx/match"
	"github.com/phalanx-mp/phalanx/metrics"
	"github.com/phalanx-mp/phalanx/utils"
)

// Server is the outer transport surface: the websocket endpoint plus the
// operational HTTP endpoints.
type Server struct {
	cfg           utils.Config
	engine        *actor.Engine
	matchmakerPID *actor.PID
	auth          *Authenticator
	log           zerolog.Logger

	httpSrv *http.Server
}

// NewServer wires the transport to a running engine and matchmaker. Passing a
// nil validator selects the built-in JWT validator when a secret is set.
func NewServer(cfg utils.Config, engine *actor.Engine, matchmakerPID *actor.PID, validator TokenValidator, log zerolog.Logger) *Server {
	return &Server{
		cfg:           cfg,
		engine:        engine,
		matchmakerPID: matchmakerPID,
		auth:          NewAuthenticator(cfg, validator),
		log:           log.With().Str("component", "server").Logger(),
	}
}

// Handler builds the full HTTP handler. Exposed separately so tests can drive
// it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	wsServer := websocket.Server{
		Handshake: func(config *websocket.Config, req *http.Request) error {
			return s.checkOrigin(req)
		},
		Handler: s.handleSubscribe,
	}
	mux.Handle("/subscribe", wsServer)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/matches", s.handleMatches)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// ListenAndServe runs the HTTP server until Shutdown.
func (s *Server) ListenAndServe() error {
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.Handler(),
	}
	s.log.Info().Int("port", s.cfg.Port).Msg("listening")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) checkOrigin(req *http.Request) error {
	if s.cfg.CORSOrigin == "*" {
		return nil
	}
	origin := req.Header.Get("Origin")
	if origin == "" || origin == s.cfg.CORSOrigin {
		return nil
	}
	return fmt.Errorf("origin %q not allowed", origin)
}

// handleSubscribe authenticates the connection and hands it to a dedicated
// connection handler actor. The HTTP handler goroutine then just waits for
// the actor to finish; returning closes the socket.
func (s *Server) handleSubscribe(ws *websocket.Conn) {
	conn := newWSConn(ws)

	var token string
	if ws.Request() != nil {
		token = ws.Request().URL.Query().Get("token")
	}
	identity, err := s.auth.Authenticate(token)
	if err != nil {
		s.log.Debug().Err(err).Str("remote", conn.RemoteAddr()).Msg("auth rejected")
		_ = conn.SendEvent(match.EvAuthError, match.ErrorPayload{Code: "auth", Message: err.Error()})
		_ = conn.Close()
		return
	}

	metrics.ConnectionsActive.Inc()
	defer metrics.ConnectionsActive.Dec()

	done := make(chan struct{})
	props := actor.NewProps(NewConnectionHandlerProducer(ConnectionHandlerArgs{
		Cfg:           s.cfg,
		WS:            ws,
		Engine:        s.engine,
		MatchmakerPID: s.matchmakerPID,
		Identity:      identity,
		Log:           s.log,
		Done:          done,
	}))
	pid := s.engine.Spawn(props)
	if pid == nil {
		_ = conn.Close()
		return
	}
	s.log.Debug().Str("remote", conn.RemoteAddr()).Msg("connection opened")

	<-done
	s.log.Debug().Str("remote", conn.RemoteAddr()).Msg("connection closed")
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeCORS(w)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleMatches reports the matchmaking queue and every live match with its
// current lifecycle state.
func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	s.writeCORS(w)

	reply, err := s.engine.Ask(s.matchmakerPID, match.RegistryQuery{}, 2*time.Second)
	if err != nil {
		http.Error(w, "registry unavailable", http.StatusServiceUnavailable)
		return
	}
	snapshot, ok := reply.(match.RegistrySnapshot)
	if !ok {
		http.Error(w, "registry unavailable", http.StatusServiceUnavailable)
		return
	}

	for i := range snapshot.Matches {
		lookup, err := s.engine.Ask(s.matchmakerPID, match.FindMatchRequest{MatchID: snapshot.Matches[i].MatchID}, time.Second)
		if err != nil {
			continue
		}
		found, ok := lookup.(match.FindMatchResponse)
		if !ok || !found.Exists {
			continue
		}
		status, err := s.engine.Ask(found.PID, match.StateQuery{}, time.Second)
		if err != nil {
			continue
		}
		if st, ok := status.(match.MatchStatus); ok {
			snapshot.Matches[i].State = st.State
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshot)
}

func (s *Server) writeCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", s.cfg.CORSOrigin)
	if s.cfg.CORSCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
}
