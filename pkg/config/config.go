// Package config loads switchboard settings from defaults, YAML files,
// profile overlays, SWITCHBOARD_ environment variables and --set flags.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "SWITCHBOARD_"

type Config struct {
	Log          LogConfig       `koanf:"log"`
	LLM          LLMConfig       `koanf:"llm"`
	Engine       EngineConfig    `koanf:"engine"`
	Telemetry    TelemetryConfig `koanf:"telemetry"`
	Audit        StoreConfig     `koanf:"audit"`
	Conversation StoreConfig     `koanf:"conversation"`
	HTTP         HTTPConfig      `koanf:"http"`
	NATS         NATSConfig      `koanf:"nats"`
	Agents       []AgentConfig   `koanf:"agents"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider    string        `koanf:"provider"` // ollama, openai, anthropic, mock
	Model       string        `koanf:"model"`
	BaseURL     string        `koanf:"base_url"`
	APIKey      string        `koanf:"api_key"`
	Temperature float64       `koanf:"temperature"`
	Retry       RetryConfig   `koanf:"retry"`
	Breaker     BreakerConfig `koanf:"breaker"`
}

type RetryConfig struct {
	MaxAttempts  int           `koanf:"max_attempts"`
	InitialDelay time.Duration `koanf:"initial_delay"`
}

type BreakerConfig struct {
	FailureThreshold int           `koanf:"failure_threshold"`
	Timeout          time.Duration `koanf:"timeout"`
}

type EngineConfig struct {
	Parallel               bool          `koanf:"parallel"`
	MaxConcurrency         int           `koanf:"max_concurrency"`
	TaskTimeout            time.Duration `koanf:"task_timeout"`
	RunTimeout             time.Duration `koanf:"run_timeout"`
	ClarificationThreshold float64       `koanf:"clarification_threshold"`
	HistoryLimit           int           `koanf:"history_limit"`
	RoutesPath             string        `koanf:"routes_path"`
	Review                 bool          `koanf:"review"`
}

type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// StoreConfig selects a persistence backend.
type StoreConfig struct {
	Driver string `koanf:"driver"` // memory, sqlite
	DSN    string `koanf:"dsn"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

type NATSConfig struct {
	URL           string `koanf:"url"`
	Stream        string `koanf:"stream"`
	SubjectPrefix string `koanf:"subject_prefix"`
	Events        bool   `koanf:"events"`
}

// AgentConfig declares a remote agent and its allowed actions.
type AgentConfig struct {
	Key         string            `koanf:"key"`
	Name        string            `koanf:"name"`
	Description string            `koanf:"description"`
	Kind        string            `koanf:"kind"` // http, nats, mcp
	Endpoint    string            `koanf:"endpoint"`
	Subject     string            `koanf:"subject"`
	Command     string            `koanf:"command"`
	Args        []string          `koanf:"args"`
	Headers     map[string]string `koanf:"headers"`
	Timeout     time.Duration     `koanf:"timeout"`
	Actions     []ActionConfig    `koanf:"actions"`
}

type ActionConfig struct {
	Name        string        `koanf:"name"`
	Description string        `koanf:"description"`
	Params      []ParamConfig `koanf:"params"`
}

type ParamConfig struct {
	Name        string `koanf:"name"`
	Type        string `koanf:"type"`
	Required    bool   `koanf:"required"`
	Description string `koanf:"description"`
}

func setDefaults(k *koanf.Koanf) {
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("llm.provider", "ollama")
	k.Set("llm.model", "qwen2.5:7b-instruct")
	k.Set("llm.base_url", "http://localhost:11434")
	k.Set("llm.temperature", 0.0)
	k.Set("llm.retry.max_attempts", 3)
	k.Set("llm.retry.initial_delay", "200ms")
	k.Set("llm.breaker.failure_threshold", 5)
	k.Set("llm.breaker.timeout", "30s")

	k.Set("engine.parallel", false)
	k.Set("engine.max_concurrency", 4)
	k.Set("engine.task_timeout", "30s")
	k.Set("engine.run_timeout", "2m")
	k.Set("engine.clarification_threshold", 0.0)
	k.Set("engine.history_limit", 10)

	k.Set("telemetry.enabled", false)
	k.Set("telemetry.exporter", "stdout")

	k.Set("audit.driver", "memory")
	k.Set("conversation.driver", "memory")

	k.Set("http.addr", ":8080")

	k.Set("nats.stream", "SWITCHBOARD")
	k.Set("nats.subject_prefix", "switchboard")
}

// Load reads defaults, then path (if any), then the environment.
func Load(path string) (*Config, error) {
	return LoadWithProfile(path, "")
}

// LoadWithProfile is Load with an optional profile overlay: for
// config.yaml and profile "dev", config.dev.yaml is merged when present.
func LoadWithProfile(path, profile string) (*Config, error) {
	k, err := newKoanf(path, profile)
	if err != nil {
		return nil, err
	}
	return unmarshal(k)
}

// LoadWithCLI understands --config, --profile (alias --env) and repeated
// --set key=value flags. --set wins over every other source. Values that
// parse as JSON are set as JSON.
func LoadWithCLI(args []string) (*Config, error) {
	opts, sets, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	k, err := newKoanf(opts.path, opts.profile)
	if err != nil {
		return nil, err
	}
	for key, raw := range sets {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("set %s: %w", key, err)
		}
	}
	return unmarshal(k)
}

func newKoanf(path, profile string) (*koanf.Koanf, error) {
	k := koanf.New(".")
	setDefaults(k)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		if overlay := profileConfigPath(path, profile); overlay != "" {
			if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load %s: %w", overlay, err)
			}
		}
	}

	// SWITCHBOARD_LLM_BASE_URL -> llm.base_url
	// SWITCHBOARD_LLM_RETRY__MAX_ATTEMPTS -> llm.retry.max_attempts
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}
	return k, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + strings.ReplaceAll(rest, "__", ".")
}

func unmarshal(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "ollama", "openai", "anthropic", "mock":
	default:
		return fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider)
	}
	if t := c.Engine.ClarificationThreshold; t < 0 || t > 1 {
		return fmt.Errorf("engine.clarification_threshold must be within [0,1], got %v", t)
	}
	if c.Engine.MaxConcurrency < 0 {
		return fmt.Errorf("engine.max_concurrency must not be negative")
	}
	for _, s := range []StoreConfig{c.Audit, c.Conversation} {
		switch s.Driver {
		case "", "memory", "sqlite":
		default:
			return fmt.Errorf("unknown store driver %q", s.Driver)
		}
	}
	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.Key == "" {
			return fmt.Errorf("agents[%d]: key is required", i)
		}
		if seen[a.Key] {
			return fmt.Errorf("agents[%d]: duplicate key %q", i, a.Key)
		}
		seen[a.Key] = true
		switch a.Kind {
		case "http", "nats", "mcp":
		default:
			return fmt.Errorf("agents[%d] %s: unknown kind %q", i, a.Key, a.Kind)
		}
		// MCP agents without actions expose every tool the server lists.
		if len(a.Actions) == 0 && a.Kind != "mcp" {
			return fmt.Errorf("agents[%d] %s: at least one action is required", i, a.Key)
		}
	}
	return nil
}

// profileConfigPath returns the overlay path for base and profile, or ""
// when there is no profile or the file does not exist.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(base)
	candidate := strings.TrimSuffix(base, ext) + "." + profile + ext
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

type cliOptions struct {
	path    string
	profile string
}

func parseCLIOverrides(args []string) (cliOptions, map[string]string, error) {
	var opts cliOptions
	sets := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--config", "--profile", "--env", "--set":
		default:
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return opts, nil, fmt.Errorf("%s requires a value", name)
			}
			i++
			value = args[i]
		}
		switch name {
		case "--config":
			opts.path = value
		case "--profile", "--env":
			opts.profile = value
		case "--set":
			key, v, ok := strings.Cut(value, "=")
			if !ok || key == "" {
				return opts, nil, fmt.Errorf("invalid --set %q, want key=value", value)
			}
			sets[key] = v
		}
	}
	return opts, sets, nil
}
