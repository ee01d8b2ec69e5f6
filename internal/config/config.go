// Package config handles agora configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./agora.yaml, ~/.config/agora/agora.yaml, /etc/agora/agora.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"agora.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "agora", "agora.yaml"))
	}

	paths = append(paths, "/etc/agora/agora.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all agora configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Advisor    AdvisorConfig    `yaml:"advisor"`
	Simulation SimulationConfig `yaml:"simulation"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// AdvisorConfig defines the LLM advisor settings. When Enabled is false
// (or the endpoint is unreachable) the world runs entirely on the static
// fallback advisor.
type AdvisorConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"` // Ollama-compatible endpoint (default: http://localhost:11434)
	Model   string `yaml:"model"`
	// TimeoutSec bounds every advisory call; on expiry the caller takes
	// its deterministic fallback path (default 30).
	TimeoutSec int `yaml:"timeout_sec"`
}

// SimulationConfig defines world pacing and scale.
type SimulationConfig struct {
	// BaseTickSeconds is the tick period at time_speed 1.0 (default 5.0).
	BaseTickSeconds float64 `yaml:"base_tick_seconds"`
	// TimeSpeed is the initial pacing multiplier, clamped to [0.1, 10.0].
	TimeSpeed float64 `yaml:"time_speed"`
	// Agents seeded at startup when the store holds none.
	Agents []AgentConfig `yaml:"agents"`
}

// AgentConfig describes one seeded agent.
type AgentConfig struct {
	ID           string  `yaml:"id"`
	Name         string  `yaml:"name"`
	Avatar       string  `yaml:"avatar"`
	Openness     float64 `yaml:"openness"`
	Conscient    float64 `yaml:"conscientiousness"`
	Extraversion float64 `yaml:"extraversion"`
	Agreeable    float64 `yaml:"agreeableness"`
	Neuroticism  float64 `yaml:"neuroticism"`
}

// MQTTConfig defines the optional telemetry publisher.
type MQTTConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Broker     string `yaml:"broker"` // e.g. mqtt://broker.local:1883
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	DeviceName string `yaml:"device_name"`
	// PublishIntervalSec between sensor state updates (default 15).
	PublishIntervalSec int `yaml:"publish_interval_sec"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8000},
		Advisor: AdvisorConfig{
			BaseURL:    "http://localhost:11434",
			Model:      "qwen3:4b",
			TimeoutSec: 30,
		},
		Simulation: SimulationConfig{
			BaseTickSeconds: 5.0,
			TimeSpeed:       1.0,
		},
		MQTT: MQTTConfig{
			DeviceName:         "agora",
			PublishIntervalSec: 15,
		},
		DataDir: ".",
	}
}
