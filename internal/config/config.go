// Package config provides application configuration with multi-source
// priority.
//
// Sources, highest to lowest:
//  1. Environment variables (PARLEY_ prefix, runtime override)
//  2. Config file (/etc/parley/config.yaml, ~/.parley/config.yaml, ./config.yaml)
//  3. Defaults
//
// Sensitive values (the Postgres password) are never logged. Validation
// uses sentinel errors so callers can branch with errors.Is().
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidProvider indicates the LLM provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the default model name is empty or not
	// present in the model registry.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidMaxTurns indicates the history turn budget is out of range.
	ErrInvalidMaxTurns = errors.New("invalid max turns")

	// ErrDuplicateModel indicates the model registry lists a name twice.
	ErrDuplicateModel = errors.New("duplicate model name")

	// ErrDuplicateToolServer indicates the tool-server list names a server
	// twice.
	ErrDuplicateToolServer = errors.New("duplicate tool server name")
)

// Supported LLM provider identifiers.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// Defaults applied when neither the config file nor the environment sets a
// value.
const (
	DefaultModelName     = "gemini-2.5-flash"
	DefaultEmbedderModel = "gemini-embedding-001"
	DefaultMaxTurns      = 100
	DefaultSystemPrompt  = "You are a helpful assistant. Ground answers in the session's documents when they are relevant."
)

// Model is one entry of the model registry: a provider model name plus
// whether it may call tools. Tool resolution consults this flag rather than
// probing the provider.
type Model struct {
	Name  string `mapstructure:"name"`
	Tools bool   `mapstructure:"tools"`
}

// Config stores the full application configuration.
type Config struct {
	// LLM provider and model registry.
	Provider      string  `mapstructure:"provider"`
	ModelName     string  `mapstructure:"model_name"` // default model when a request names none
	EmbedderModel string  `mapstructure:"embedder_model"`
	Models        []Model `mapstructure:"models"`
	OllamaHost    string  `mapstructure:"ollama_host"`
	SystemPrompt  string  `mapstructure:"system_prompt"`

	// MaxTurns bounds how much history is replayed to the provider.
	MaxTurns int `mapstructure:"max_turns"`

	// Storage (see storage.go for the DSN builders).
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE: never log
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`
	PoolMaxConns     int32  `mapstructure:"pool_max_conns"`

	// Remote tool servers (see mcp.go).
	ToolServers []ToolServer `mapstructure:"tool_servers"`

	// Logging.
	LogLevel string `mapstructure:"log_level"` // debug, info, warn, error
	LogJSON  bool   `mapstructure:"log_json"`

	// HTTP listen address for the streaming endpoint.
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load reads configuration from files and environment and validates it.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/parley")
	v.AddConfigPath("$HOME/.parley")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PARLEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No file is fine: defaults plus environment.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("system_prompt", DefaultSystemPrompt)
	v.SetDefault("max_turns", DefaultMaxTurns)
	v.SetDefault("ollama_host", "http://localhost:11434")

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "parley")
	v.SetDefault("postgres_db_name", "parley")
	v.SetDefault("postgres_ssl_mode", "disable")
	v.SetDefault("pool_max_conns", 10)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("listen_addr", ":8080")
}

// Validate checks the configuration and returns the first violation found,
// wrapped around its sentinel.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderGemini, ProviderOllama:
	default:
		return fmt.Errorf("%w: %q (supported: gemini, ollama)", ErrInvalidProvider, c.Provider)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name is empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model is empty", ErrInvalidEmbedderModel)
	}
	if c.MaxTurns < 1 || c.MaxTurns > 10000 {
		return fmt.Errorf("%w: %d (want 1-10000)", ErrInvalidMaxTurns, c.MaxTurns)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: postgres_host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: postgres_db_name is empty", ErrInvalidPostgresDBName)
	}

	seen := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("%w: registry entry with empty name", ErrInvalidModelName)
		}
		if seen[m.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateModel, m.Name)
		}
		seen[m.Name] = true
	}
	if len(c.Models) > 0 {
		if _, ok := c.ModelByName(c.ModelName); !ok {
			return fmt.Errorf("%w: default %q not in registry", ErrInvalidModelName, c.ModelName)
		}
	}

	servers := make(map[string]bool, len(c.ToolServers))
	for _, s := range c.ToolServers {
		if err := s.validate(); err != nil {
			return err
		}
		if servers[s.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateToolServer, s.Name)
		}
		servers[s.Name] = true
	}
	return nil
}

// ModelByName looks a model up in the registry. With an empty registry
// every model name is accepted as tool-capable, which keeps single-model
// deployments free of boilerplate.
func (c *Config) ModelByName(name string) (Model, bool) {
	if len(c.Models) == 0 {
		return Model{Name: name, Tools: true}, name != ""
	}
	for _, m := range c.Models {
		if m.Name == name {
			return m, true
		}
	}
	return Model{}, false
}
