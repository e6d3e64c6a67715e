package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "USERCHAT"

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig  BasicConfig               `mapstructure:"basic_config"`
	Databases    map[string]DatabaseConfig `mapstructure:"databases"`
	Providers    map[string]ProviderConfig `mapstructure:"providers"`
	Redis        RedisConfig               `mapstructure:"redis"`
	Configurable map[string]any            `mapstructure:"configurable"`
}

type ProviderConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"`
}

type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
	Params   string `mapstructure:"params"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type BasicConfig struct {
	ServerAddress     string `mapstructure:"server_address"`
	Provider          string `mapstructure:"provider"`
	DatabaseDriver    string `mapstructure:"database_driver"`
	DatabaseLookup    bool   `mapstructure:"database_lookup"`
	QueueSize         int    `mapstructure:"queue_size"`
	SessionTTLMinutes int    `mapstructure:"session_ttl_minutes"`
	LogLevel          string `mapstructure:"log_level"`
	LogPretty         bool   `mapstructure:"log_pretty"`
}

// provider api keys fall back to the vendor's conventional variable.
var providerKeyEnv = map[string]string{
	"openai": "OPENAI_API_KEY",
	"claude": "ANTHROPIC_API_KEY",
	"gemini": "GEMINI_API_KEY",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("basic_config.server_address", ":8090")
	v.SetDefault("basic_config.provider", "openai")
	v.SetDefault("basic_config.database_driver", "sqlite3")
	v.SetDefault("basic_config.database_lookup", true)
	v.SetDefault("basic_config.queue_size", 16)
	v.SetDefault("basic_config.session_ttl_minutes", 30)
	v.SetDefault("basic_config.log_level", "info")
	v.SetDefault("basic_config.log_pretty", false)
	v.SetDefault("databases.sqlite3.dsn", filepath.Join("data", "users.db"))
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file is not an error; every field has a default or an
// environment override (USERCHAT_BASIC_CONFIG_PROVIDER and so on).
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigFile(absPath)

	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", absPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.normalize(filepath.Dir(absPath)); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize(baseDir string) error {
	c.BasicConfig.Provider = strings.ToLower(strings.TrimSpace(c.BasicConfig.Provider))
	c.BasicConfig.DatabaseDriver = strings.ToLower(strings.TrimSpace(c.BasicConfig.DatabaseDriver))
	if c.BasicConfig.DatabaseDriver == "" {
		return errors.New("database_driver must be configured")
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}

	if sqliteCfg, ok := c.Databases["sqlite3"]; ok && sqliteCfg.DSN != "" {
		if sqliteCfg.DSN != ":memory:" && !strings.HasPrefix(sqliteCfg.DSN, "file:") && !filepath.IsAbs(sqliteCfg.DSN) {
			sqliteCfg.DSN = filepath.Join(baseDir, sqliteCfg.DSN)
		}
		c.Databases["sqlite3"] = sqliteCfg
	}

	for name, envKey := range providerKeyEnv {
		prov := c.Providers[name]
		if prov.APIKey == "" {
			prov.APIKey = os.Getenv(envKey)
		}
		c.Providers[name] = prov
	}

	// the selected provider's model is the default model_name unless the
	// overlay names one
	if prov, ok := c.Providers[c.BasicConfig.Provider]; ok && prov.Model != "" {
		if _, set := c.Configurable["model_name"]; !set {
			if c.Configurable == nil {
				c.Configurable = make(map[string]any)
			}
			c.Configurable["model_name"] = prov.Model
		}
	}
	return nil
}

// Provider returns the settings for the named provider.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	prov, ok := c.Providers[strings.ToLower(name)]
	return prov, ok
}
