// Package config provides the static process configuration and the layered
// runtime settings resolver for Maestro.
//
// Static configuration (providers, server, storage paths) comes from a YAML
// file with environment-variable expansion. Tunable parameters are resolved
// at runtime by layering mission metadata over user settings over environment
// variables over built-in defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the complete static configuration, the single entry point loaded
// at process start.
type Config struct {
	Version     string `yaml:"version,omitempty"`
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`

	Global GlobalSettings `yaml:"global,omitempty"`

	Providers map[string]ProviderConfig `yaml:"providers,omitempty"`

	VectorStore VectorStoreConfig `yaml:"vector_store,omitempty"`
	Embedder    EmbedderConfig    `yaml:"embedder,omitempty"`
	Store       StoreConfig       `yaml:"store,omitempty"`
	Server      ServerConfig      `yaml:"server,omitempty"`
	WebSearch   WebSearchConfig   `yaml:"web_search,omitempty"`
}

// Validate implements validation for Config.
func (c *Config) Validate() error {
	if err := c.Global.Validate(); err != nil {
		return fmt.Errorf("global settings validation failed: %w", err)
	}
	for name, provider := range c.Providers {
		if err := provider.Validate(); err != nil {
			return fmt.Errorf("provider '%s' validation failed: %w", name, err)
		}
	}
	if err := c.VectorStore.Validate(); err != nil {
		return fmt.Errorf("vector store validation failed: %w", err)
	}
	if err := c.Embedder.Validate(); err != nil {
		return fmt.Errorf("embedder validation failed: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store validation failed: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := c.WebSearch.Validate(); err != nil {
		return fmt.Errorf("web search validation failed: %w", err)
	}
	return nil
}

// SetDefaults sets default values for Config.
func (c *Config) SetDefaults() {
	c.Global.SetDefaults()

	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	if len(c.Providers) == 0 {
		c.Providers["openrouter"] = ProviderConfig{}
	}
	for name := range c.Providers {
		provider := c.Providers[name]
		provider.SetDefaults(name)
		c.Providers[name] = provider
	}

	c.VectorStore.SetDefaults()
	c.Embedder.SetDefaults()
	c.Store.SetDefaults()
	c.Server.SetDefaults()
	c.WebSearch.SetDefaults()
}

// GlobalSettings contains process-wide settings.
type GlobalSettings struct {
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// Validate implements validation for GlobalSettings.
func (c *GlobalSettings) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config validation failed: %w", err)
	}
	return nil
}

// SetDefaults sets default values for GlobalSettings.
func (c *GlobalSettings) SetDefaults() {
	c.Logging.SetDefaults()
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error
	Format string `yaml:"format,omitempty"` // simple, verbose
	File   string `yaml:"file,omitempty"`   // empty = stderr
}

// Validate implements validation for LoggingConfig.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Level)
	}
	return nil
}

// SetDefaults sets default values for LoggingConfig.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

// ProviderConfig describes one chat-completion endpoint. All providers speak
// the OpenAI-compatible wire protocol; Type selects credential defaults.
type ProviderConfig struct {
	Type    string `yaml:"type,omitempty"` // openrouter, local, custom
	BaseURL string `yaml:"base_url,omitempty"`
	APIKey  string `yaml:"api_key,omitempty"`
	Timeout int    `yaml:"timeout,omitempty"` // seconds
}

// Validate implements validation for ProviderConfig.
func (c *ProviderConfig) Validate() error {
	switch c.Type {
	case "openrouter", "local", "custom":
	default:
		return fmt.Errorf("unsupported provider type: %s", c.Type)
	}
	if c.Type == "custom" && c.BaseURL == "" {
		return fmt.Errorf("custom provider requires base_url")
	}
	return nil
}

// SetDefaults sets default values for ProviderConfig.
func (c *ProviderConfig) SetDefaults(name string) {
	if c.Type == "" {
		c.Type = name
	}
	switch c.Type {
	case "openrouter":
		if c.BaseURL == "" {
			c.BaseURL = os.Getenv("OPENROUTER_BASE_URL")
		}
		if c.BaseURL == "" {
			c.BaseURL = "https://openrouter.ai/api/v1"
		}
		if c.APIKey == "" {
			c.APIKey = os.Getenv("OPENROUTER_API_KEY")
		}
	case "local":
		if c.BaseURL == "" {
			c.BaseURL = os.Getenv("LOCAL_LLM_BASE_URL")
		}
		if c.BaseURL == "" {
			c.BaseURL = "http://localhost:5000/v1"
		}
		if c.APIKey == "" {
			c.APIKey = os.Getenv("LOCAL_LLM_API_KEY")
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 600
	}
}

// VectorStoreConfig selects and configures the document-chunk vector store.
type VectorStoreConfig struct {
	Type string `yaml:"type,omitempty"` // pgvector, qdrant, chromem

	// pgvector
	DSN string `yaml:"dsn,omitempty"`

	// qdrant
	Host   string `yaml:"host,omitempty"`
	Port   int    `yaml:"port,omitempty"`
	APIKey string `yaml:"api_key,omitempty"`
	UseTLS bool   `yaml:"use_tls,omitempty"`

	// chromem
	Path string `yaml:"path,omitempty"`

	Collection string `yaml:"collection,omitempty"`
}

// Validate implements validation for VectorStoreConfig.
func (c *VectorStoreConfig) Validate() error {
	switch c.Type {
	case "pgvector", "qdrant", "chromem":
	default:
		return fmt.Errorf("unsupported vector store type: %s", c.Type)
	}
	if c.Type == "pgvector" && c.DSN == "" {
		return fmt.Errorf("pgvector store requires dsn")
	}
	return nil
}

// SetDefaults sets default values for VectorStoreConfig.
func (c *VectorStoreConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "pgvector"
	}
	if c.DSN == "" {
		c.DSN = os.Getenv("POSTGRES_DSN")
	}
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "document_chunks"
	}
}

// EmbedderConfig configures the dense embedding endpoint.
type EmbedderConfig struct {
	BaseURL   string `yaml:"base_url,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`
	Model     string `yaml:"model,omitempty"`
	Dimension int    `yaml:"dimension,omitempty"`
	Timeout   int    `yaml:"timeout,omitempty"`
}

// Validate implements validation for EmbedderConfig.
func (c *EmbedderConfig) Validate() error {
	if c.Dimension < 0 {
		return fmt.Errorf("embedder dimension cannot be negative")
	}
	return nil
}

// SetDefaults sets default values for EmbedderConfig.
func (c *EmbedderConfig) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = os.Getenv("EMBEDDING_BASE_URL")
	}
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.Dimension == 0 {
		c.Dimension = 1024
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
}

// StoreConfig configures the relational persistence layer.
type StoreConfig struct {
	Path string `yaml:"path,omitempty"` // SQLite database file
}

// Validate implements validation for StoreConfig.
func (c *StoreConfig) Validate() error {
	return nil
}

// SetDefaults sets default values for StoreConfig.
func (c *StoreConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "maestro.db"
	}
}

// ServerConfig configures the HTTP/WebSocket server.
type ServerConfig struct {
	Host      string `yaml:"host,omitempty"`
	Port      int    `yaml:"port,omitempty"`
	AuthToken string `yaml:"auth_token,omitempty"`
}

// Validate implements validation for ServerConfig.
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}

// SetDefaults sets default values for ServerConfig.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.AuthToken == "" {
		c.AuthToken = os.Getenv("MAESTRO_AUTH_TOKEN")
	}
}

// WebSearchConfig selects the web search provider and its credentials.
// The active provider can still be overridden per mission via the resolver.
type WebSearchConfig struct {
	Provider    string `yaml:"provider,omitempty"` // tavily, linkup, searxng
	TavilyKey   string `yaml:"tavily_api_key,omitempty"`
	LinkUpKey   string `yaml:"linkup_api_key,omitempty"`
	SearXNGBase string `yaml:"searxng_base_url,omitempty"`
}

// Validate implements validation for WebSearchConfig.
func (c *WebSearchConfig) Validate() error {
	switch c.Provider {
	case "", "tavily", "linkup", "searxng":
	default:
		return fmt.Errorf("unsupported web search provider: %s", c.Provider)
	}
	return nil
}

// SetDefaults sets default values for WebSearchConfig.
func (c *WebSearchConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = os.Getenv("WEB_SEARCH_PROVIDER")
	}
	if c.Provider == "" {
		c.Provider = "searxng"
	}
	if c.TavilyKey == "" {
		c.TavilyKey = os.Getenv("TAVILY_API_KEY")
	}
	if c.LinkUpKey == "" {
		c.LinkUpKey = os.Getenv("LINKUP_API_KEY")
	}
	if c.SearXNGBase == "" {
		c.SearXNGBase = os.Getenv("SEARXNG_BASE_URL")
	}
}

// LoadConfig loads the complete configuration from a YAML file.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadConfigFromString(string(data))
}

// LoadConfigFromString loads configuration from a YAML string.
func LoadConfigFromString(yamlContent string) (*Config, error) {
	expanded := expandEnvVars(yamlContent)

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// DefaultConfig returns a configuration with every default applied and no
// file input, the zero-config path.
func DefaultConfig() *Config {
	config := &Config{}
	config.SetDefaults()
	return config
}
