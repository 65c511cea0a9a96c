package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// GameMode describes the team layout of a match.
type GameMode struct {
	TeamCount int
	TeamSize  int
}

// Players returns the total number of players a match of this mode needs.
func (m GameMode) Players() int {
	return m.TeamCount * m.TeamSize
}

func (m GameMode) String() string {
	parts := make([]string, m.TeamCount)
	for i := range parts {
		parts[i] = strconv.Itoa(m.TeamSize)
	}
	return strings.Join(parts, "v")
}

// ParseGameMode accepts the "1v1" / "2v2" / "3v3" presets or a custom
// "NvN[vN...]" form where every team has the same size.
func ParseGameMode(s string) (GameMode, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "v")
	if len(parts) < 2 {
		return GameMode{}, fmt.Errorf("invalid game mode %q", s)
	}
	size := 0
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			return GameMode{}, fmt.Errorf("invalid game mode %q", s)
		}
		if i == 0 {
			size = n
		} else if n != size {
			return GameMode{}, fmt.Errorf("invalid game mode %q: unequal team sizes", s)
		}
	}
	return GameMode{TeamCount: len(parts), TeamSize: size}, nil
}

// Config holds every server option. Values come from the environment with a
// .env file as a development convenience (ENV vars > .env > defaults).
type Config struct {
	Port            int    `env:"PHALANX_PORT" envDefault:"3001"`
	CORSOrigin      string `env:"PHALANX_CORS_ORIGIN" envDefault:"*"`
	CORSCredentials bool   `env:"PHALANX_CORS_CREDENTIALS" envDefault:"false"`

	// Simulation cadence
	TickRate         int `env:"PHALANX_TICK_RATE" envDefault:"20"`
	CountdownSeconds int `env:"PHALANX_COUNTDOWN_SECONDS" envDefault:"3"`

	// Matchmaking
	GameModeRaw         string        `env:"PHALANX_GAME_MODE" envDefault:"1v1"`
	MatchmakingInterval time.Duration `env:"PHALANX_MATCHMAKING_INTERVAL" envDefault:"1s"`
	ConnectionTimeout   time.Duration `env:"PHALANX_CONNECTION_TIMEOUT" envDefault:"10s"`

	// Activity thresholds, in ticks
	TimeoutTicks    int `env:"PHALANX_TIMEOUT_TICKS" envDefault:"20"`
	DisconnectTicks int `env:"PHALANX_DISCONNECT_TICKS" envDefault:"60"`

	// Command acceptance and replay windows, in ticks
	MaxFutureTicks        int `env:"PHALANX_MAX_FUTURE_TICKS" envDefault:"200"`
	ReconnectHistoryTicks int `env:"PHALANX_RECONNECT_HISTORY_TICKS" envDefault:"300"`
	HashWindowTicks       int `env:"PHALANX_HASH_WINDOW_TICKS" envDefault:"120"`
	HashGraceTicks        int `env:"PHALANX_HASH_GRACE_TICKS" envDefault:"20"`

	// Inbound rate limiting, events per second per connection
	InboundEventRate  float64 `env:"PHALANX_INBOUND_EVENT_RATE" envDefault:"120"`
	InboundEventBurst int     `env:"PHALANX_INBOUND_EVENT_BURST" envDefault:"240"`

	// Auth boundary
	AuthEnabled    bool   `env:"PHALANX_AUTH_ENABLED" envDefault:"false"`
	AuthSecret     string `env:"PHALANX_AUTH_SECRET" envDefault:""`
	AllowAnonymous bool   `env:"PHALANX_ALLOW_ANONYMOUS" envDefault:"true"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	// Parsed from GameModeRaw by LoadConfig / Validate.
	GameMode GameMode `env:"-"`
}

// TickDuration returns the real-time spacing between ticks.
func (c Config) TickDuration() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

// Validate checks cross-field constraints and parses the game mode.
func (c *Config) Validate() error {
	if c.TickRate < 1 || c.TickRate > 120 {
		return fmt.Errorf("tick rate %d out of range [1,120]", c.TickRate)
	}
	if c.CountdownSeconds < 0 {
		return fmt.Errorf("countdown seconds must be >= 0")
	}
	if c.TimeoutTicks < 1 || c.DisconnectTicks <= c.TimeoutTicks {
		return fmt.Errorf("disconnect ticks (%d) must exceed timeout ticks (%d)", c.DisconnectTicks, c.TimeoutTicks)
	}
	if c.MaxFutureTicks < 1 {
		return fmt.Errorf("max future ticks must be >= 1")
	}
	if c.ReconnectHistoryTicks < 1 {
		return fmt.Errorf("reconnect history ticks must be >= 1")
	}
	if c.AuthEnabled && !c.AllowAnonymous && c.AuthSecret == "" {
		return fmt.Errorf("auth enabled without PHALANX_AUTH_SECRET")
	}
	mode, err := ParseGameMode(c.GameModeRaw)
	if err != nil {
		return err
	}
	c.GameMode = mode
	return nil
}

// DefaultConfig returns a Config with the documented defaults. Used by tests
// and by embedders that configure programmatically instead of via env.
func DefaultConfig() Config {
	return Config{
		Port:                  3001,
		CORSOrigin:            "*",
		TickRate:              20,
		CountdownSeconds:      3,
		GameModeRaw:           "1v1",
		GameMode:              GameMode{TeamCount: 2, TeamSize: 1},
		MatchmakingInterval:   time.Second,
		ConnectionTimeout:     10 * time.Second,
		TimeoutTicks:          20,
		DisconnectTicks:       60,
		MaxFutureTicks:        200,
		ReconnectHistoryTicks: 300,
		HashWindowTicks:       120,
		HashGraceTicks:        20,
		InboundEventRate:      120,
		InboundEventBurst:     240,
		AllowAnonymous:        true,
		LogLevel:              "info",
		LogFormat:             "console",
	}
}

// LoadConfig reads configuration from a .env file and the environment.
func LoadConfig() (Config, error) {
	// Missing .env is fine; production supplies real environment variables.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
