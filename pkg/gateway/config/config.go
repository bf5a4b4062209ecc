package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable the gateway reads from the environment.
type Config struct {
	Addr string

	// Agent endpoint.
	AgentBaseURL string
	AgentModel   string

	// Credential used when the caller's start message carries none.
	AgentCredential string

	// Persona and opening line.
	Instructions string
	Greeting     string

	// Daily budget.
	Budget       time.Duration
	TickInterval time.Duration
	PersistEvery int
	DBPath       string

	// Conversation timers.
	LingerDuration time.Duration
	FadeDuration   time.Duration

	// ICE servers, comma separated in the environment.
	ICEServers []string

	// AudioSource is an optional Ogg/Opus stream (file or pipe) published
	// to the agent as the caller's voice. Empty negotiates receive-only.
	AudioSource string

	// RecordDir, when set, stores each session's agent audio as an Ogg
	// file in this directory.
	RecordDir string

	// Websocket plumbing.
	WSWriteTimeout      time.Duration
	WSMaxMessageBytes   int64
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

// LoadFromEnv reads VOICELINK_* variables, applying defaults for anything
// unset and rejecting values that cannot work.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("VOICELINK_ADDR", ":8080"),
		AgentBaseURL:        envOr("VOICELINK_AGENT_BASE_URL", "https://api.openai.com/v1/realtime"),
		AgentModel:          envOr("VOICELINK_AGENT_MODEL", "gpt-4o-mini-realtime-preview-2024-12-17"),
		AgentCredential:     strings.TrimSpace(os.Getenv("VOICELINK_AGENT_CREDENTIAL")),
		Instructions:        os.Getenv("VOICELINK_INSTRUCTIONS"),
		Greeting:            os.Getenv("VOICELINK_GREETING"),
		AudioSource:         strings.TrimSpace(os.Getenv("VOICELINK_AUDIO_SOURCE")),
		RecordDir:           strings.TrimSpace(os.Getenv("VOICELINK_RECORD_DIR")),
		Budget:              envDurationOr("VOICELINK_DAILY_BUDGET", 5*time.Minute),
		TickInterval:        envDurationOr("VOICELINK_TICK_INTERVAL", time.Second),
		PersistEvery:        envIntOr("VOICELINK_PERSIST_EVERY", 5),
		DBPath:              envOr("VOICELINK_DB_PATH", "voicelink.db"),
		LingerDuration:      envDurationOr("VOICELINK_LINGER_DURATION", 2*time.Second),
		FadeDuration:        envDurationOr("VOICELINK_FADE_DURATION", 400*time.Millisecond),
		WSWriteTimeout:      envDurationOr("VOICELINK_WS_WRITE_TIMEOUT", 5*time.Second),
		WSMaxMessageBytes:   envInt64Or("VOICELINK_WS_MAX_MESSAGE_BYTES", 64<<10),
		ReadHeaderTimeout:   envDurationOr("VOICELINK_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("VOICELINK_SHUTDOWN_GRACE_PERIOD", 15*time.Second),
	}

	if servers := splitCSV(os.Getenv("VOICELINK_ICE_SERVERS")); len(servers) > 0 {
		cfg.ICEServers = servers
	}

	if strings.TrimSpace(cfg.Addr) == "" {
		return Config{}, fmt.Errorf("VOICELINK_ADDR must not be empty")
	}
	if strings.TrimSpace(cfg.AgentBaseURL) == "" {
		return Config{}, fmt.Errorf("VOICELINK_AGENT_BASE_URL must not be empty")
	}
	if strings.TrimSpace(cfg.AgentModel) == "" {
		return Config{}, fmt.Errorf("VOICELINK_AGENT_MODEL must not be empty")
	}
	if cfg.Budget <= 0 {
		return Config{}, fmt.Errorf("VOICELINK_DAILY_BUDGET must be > 0")
	}
	if cfg.TickInterval <= 0 {
		return Config{}, fmt.Errorf("VOICELINK_TICK_INTERVAL must be > 0")
	}
	if cfg.PersistEvery <= 0 {
		return Config{}, fmt.Errorf("VOICELINK_PERSIST_EVERY must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return Config{}, fmt.Errorf("VOICELINK_DB_PATH must not be empty")
	}
	if cfg.LingerDuration <= 0 {
		return Config{}, fmt.Errorf("VOICELINK_LINGER_DURATION must be > 0")
	}
	if cfg.FadeDuration <= 0 {
		return Config{}, fmt.Errorf("VOICELINK_FADE_DURATION must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICELINK_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VOICELINK_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICELINK_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOICELINK_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
