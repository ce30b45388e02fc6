// Package config loads the deployment settings shared by every command.
//
// Settings come from a YAML file merged over defaults, then environment
// overrides using the original deployment's variable names. Validation
// is scoped per command so `search` never demands a Discord token.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/matsen/paperboy/internal/store"
)

const (
	// DefaultFile is the config file looked up in the working
	// directory when no path is given.
	DefaultFile = "paperboy.yaml"

	// EnvConfigPath overrides the config file location.
	EnvConfigPath = "PAPERBOY_CONFIG"

	// DefaultMinPostScore is the posting threshold when none is set.
	DefaultMinPostScore = 7
)

// Environment variable names follow the original deployment.
const (
	EnvDriver       = "PAPERBOY_DB"
	EnvSupabaseURL  = "SUPABASE_URL"
	EnvSupabaseKey  = "SUPABASE_KEY"
	EnvDatabaseURL  = "DATABASE_URL"
	EnvDBPath       = "PAPERBOY_DB_PATH"
	EnvGeminiKey    = "GEMINI_API_KEY"
	EnvEmbedURL     = "HF_EMBED_API_URL"
	EnvDiscordToken = "ARXIV_BOT_TOKEN"
	EnvChannelID    = "CHANNEL_ID"
	EnvMinPostScore = "MIN_IMPACT_SCORE"
)

// Config holds every setting the commands need. Zero values mean "not
// configured"; the Validate helpers decide what a given command
// actually requires.
type Config struct {
	Driver       string `yaml:"driver,omitempty"`
	SupabaseURL  string `yaml:"supabase_url,omitempty"`
	SupabaseKey  string `yaml:"supabase_key,omitempty"`
	DatabaseURL  string `yaml:"database_url,omitempty"`
	DBPath       string `yaml:"db_path,omitempty"`
	GeminiKey    string `yaml:"gemini_api_key,omitempty"`
	EmbedURL     string `yaml:"embed_url,omitempty"`
	DiscordToken string `yaml:"discord_token,omitempty"`
	ChannelID    string `yaml:"channel_id,omitempty"`
	MinPostScore int    `yaml:"min_post_score,omitempty"`
	LogLevel     string `yaml:"log_level,omitempty"`
}

// Path resolves the config file location: the explicit flag value,
// then PAPERBOY_CONFIG, then DefaultFile.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	return DefaultFile
}

// Load reads the YAML file at path, applies environment overrides, and
// bounds-checks the result. A missing file is fine; env-only
// deployments never write one.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if cfg.MinPostScore == 0 {
		cfg.MinPostScore = DefaultMinPostScore
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.MinPostScore < 1 || cfg.MinPostScore > 10 {
		return nil, fmt.Errorf("min post score must be between 1 and 10, got %d", cfg.MinPostScore)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&c.Driver, EnvDriver)
	setString(&c.SupabaseURL, EnvSupabaseURL)
	setString(&c.SupabaseKey, EnvSupabaseKey)
	setString(&c.DatabaseURL, EnvDatabaseURL)
	setString(&c.DBPath, EnvDBPath)
	setString(&c.GeminiKey, EnvGeminiKey)
	setString(&c.EmbedURL, EnvEmbedURL)
	setString(&c.DiscordToken, EnvDiscordToken)
	setString(&c.ChannelID, EnvChannelID)

	if v := os.Getenv(EnvMinPostScore); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", EnvMinPostScore, err)
		}
		c.MinPostScore = n
	}
	return nil
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// StoreConfig maps the persistence settings onto the store package.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Driver:      c.Driver,
		SupabaseURL: c.SupabaseURL,
		SupabaseKey: c.SupabaseKey,
		DatabaseURL: c.DatabaseURL,
		Path:        c.DBPath,
	}
}

// missingStoreKeys returns the unset persistence settings for the
// configured driver.
func (c *Config) missingStoreKeys() []string {
	var missing []string
	switch c.Driver {
	case "", "supabase":
		if c.SupabaseURL == "" {
			missing = append(missing, EnvSupabaseURL)
		}
		if c.SupabaseKey == "" {
			missing = append(missing, EnvSupabaseKey)
		}
	case "postgres":
		if c.DatabaseURL == "" {
			missing = append(missing, EnvDatabaseURL)
		}
	case "sqlite":
		if c.DBPath == "" {
			missing = append(missing, EnvDBPath)
		}
	}
	return missing
}

// ValidateIngest checks everything one fetch run needs: the store, the
// scoring model, and the embedding service.
func (c *Config) ValidateIngest() error {
	missing := c.missingStoreKeys()
	if c.GeminiKey == "" {
		missing = append(missing, EnvGeminiKey)
	}
	if c.EmbedURL == "" {
		missing = append(missing, EnvEmbedURL)
	}
	return missingError(missing)
}

// ValidateServe checks what the bot and the posting scheduler need.
func (c *Config) ValidateServe() error {
	missing := c.missingStoreKeys()
	if c.EmbedURL == "" {
		missing = append(missing, EnvEmbedURL)
	}
	if c.DiscordToken == "" {
		missing = append(missing, EnvDiscordToken)
	}
	if c.ChannelID == "" {
		missing = append(missing, EnvChannelID)
	}
	return missingError(missing)
}

// ValidateQuery checks what the read-only commands need.
func (c *Config) ValidateQuery() error {
	missing := c.missingStoreKeys()
	if c.EmbedURL == "" {
		missing = append(missing, EnvEmbedURL)
	}
	return missingError(missing)
}

// missingError folds every unset key into a single error so one
// failed start names the whole fix.
func missingError(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return fmt.Errorf("missing required settings: %s", strings.Join(keys, ", "))
}
