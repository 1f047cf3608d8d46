package server

import (
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds configuration shared by the CLI, the status server, and
// the agent. All of it is operational plumbing; user preferences (the
// desired charge limit itself) are owned by the UI layer, not here.
type Config struct {
	Agent   AgentConfig   `yaml:"agent"`
	Server  ServerConfig  `yaml:"server"`
	Poll    PollConfig    `yaml:"poll"`
	History HistoryConfig `yaml:"history"`
}

type AgentConfig struct {
	SocketPath string `yaml:"socket_path"`
	TokenPath  string `yaml:"token_path"`
	KeyPath    string `yaml:"key_path"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// Sim swaps the hardware controller for the simulated one, for
	// development on machines without the real service.
	Sim bool `yaml:"sim"`
}

type PollConfig struct {
	IntervalMs int `yaml:"interval_ms"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the paths and intervals a standard install uses.
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			SocketPath: "/var/run/chargectl/agent.sock",
			TokenPath:  "/Library/Application Support/chargectl/client.token",
			KeyPath:    "/Library/Application Support/chargectl/agent.key",
		},
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:9090",
		},
		Poll: PollConfig{
			IntervalMs: 5000,
		},
		History: HistoryConfig{
			Enabled: false,
			Path:    "/Library/Logs/chargectl",
		},
	}
}

// LoadConfig reads config from a YAML file and applies environment
// variable overrides. Falls back to defaults when the file is missing
// or malformed.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// applyEnvOverrides reads environment variables and overrides config
// values. Supported: CHARGECTL_SOCKET, CHARGECTL_TOKEN, CHARGECTL_KEY,
// CHARGECTL_LISTEN, CHARGECTL_SIM, CHARGECTL_POLL_MS,
// CHARGECTL_HISTORY, CHARGECTL_HISTORY_PATH.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CHARGECTL_SOCKET"); v != "" {
		c.Agent.SocketPath = v
	}
	if v := os.Getenv("CHARGECTL_TOKEN"); v != "" {
		c.Agent.TokenPath = v
	}
	if v := os.Getenv("CHARGECTL_KEY"); v != "" {
		c.Agent.KeyPath = v
	}
	if v := os.Getenv("CHARGECTL_LISTEN"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("CHARGECTL_SIM"); v != "" {
		c.Server.Sim = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("CHARGECTL_POLL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Poll.IntervalMs = n
		}
	}
	if v := os.Getenv("CHARGECTL_HISTORY"); v != "" {
		c.History.Enabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("CHARGECTL_HISTORY_PATH"); v != "" {
		c.History.Path = v
	}
}
