package util

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const Name = "stegofed"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host      string
		HttpPort  int    `yaml:"httpPort"`
		SslDomain string `yaml:"sslDomain"`
		// UserKEK wraps the private keys of local actors at rest.
		UserKEK string `yaml:"userKEK"`
		IdSalt  string `yaml:"idSalt"`

		Database struct {
			Driver string `yaml:"driver"`
			Dsn    string `yaml:"dsn"`
		} `yaml:"database"`

		Queue struct {
			Backend      string        `yaml:"backend"`
			PollInterval time.Duration `yaml:"pollInterval"`
			MaxAttempts  int           `yaml:"maxAttempts"`
			BatchSize    int           `yaml:"batchSize"`
			Workers      int           `yaml:"workers"`
		} `yaml:"queue"`

		Federation struct {
			FetchTimeout       time.Duration `yaml:"fetchTimeout"`
			DeliveryTimeout    time.Duration `yaml:"deliveryTimeout"`
			ActorRefresh       time.Duration `yaml:"actorRefresh"`
			MaxCollectionPages int           `yaml:"maxCollectionPages"`
			MaxCollectionItems int           `yaml:"maxCollectionItems"`
			BatchSize          int           `yaml:"batchSize"`
			IdempotencyTTL     time.Duration `yaml:"idempotencyTTL"`
			SignedFetch        bool          `yaml:"signedFetch"`
			InboxRateLimit     float64       `yaml:"inboxRateLimit"`
			MaxBodyBytes       int64         `yaml:"maxBodyBytes"`
		} `yaml:"federation"`

		Log struct {
			Level  string `yaml:"level"`
			Format string `yaml:"format"`
		} `yaml:"log"`

		Metrics struct {
			Enabled bool `yaml:"enabled"`
		} `yaml:"metrics"`
	}
}

func ReadConf() (*AppConfig, error) {
	// local working directory first, then the user config directory
	configPath := ResolveFilePath(ConfigFileName)

	buf, err := os.ReadFile(configPath)
	if err != nil {
		log.Info().Str("path", configPath).Msg("Config file not found, using embedded defaults")
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := filepath.Join(configDir, ConfigFileName)
			if writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644); writeErr != nil {
				log.Warn().Err(writeErr).Str("path", userConfigPath).Msg("Could not write default config")
			} else {
				log.Info().Str("path", userConfigPath).Msg("Created default config file")
			}
		}
	}

	return ParseConf(buf)
}

// ParseConf decodes a YAML document, applies STEGOFED_* environment
// overrides and fills unset values with defaults.
func ParseConf(buf []byte) (*AppConfig, error) {
	c := &AppConfig{}
	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.applyDefaults()
	return c, nil
}

func (c *AppConfig) applyEnv() error {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	str("STEGOFED_HOST", &c.Conf.Host)
	str("STEGOFED_SSLDOMAIN", &c.Conf.SslDomain)
	str("STEGOFED_USER_KEK", &c.Conf.UserKEK)
	str("STEGOFED_ID_SALT", &c.Conf.IdSalt)
	str("STEGOFED_DB_DRIVER", &c.Conf.Database.Driver)
	str("STEGOFED_DB_DSN", &c.Conf.Database.Dsn)
	str("STEGOFED_QUEUE_BACKEND", &c.Conf.Queue.Backend)
	str("STEGOFED_LOG_LEVEL", &c.Conf.Log.Level)
	str("STEGOFED_LOG_FORMAT", &c.Conf.Log.Format)

	if v := os.Getenv("STEGOFED_HTTPPORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("STEGOFED_HTTPPORT: %w", err)
		}
		c.Conf.HttpPort = port
	}
	if os.Getenv("STEGOFED_METRICS") == "true" {
		c.Conf.Metrics.Enabled = true
	}
	if os.Getenv("STEGOFED_SIGNED_FETCH") == "true" {
		c.Conf.Federation.SignedFetch = true
	}
	return nil
}

func (c *AppConfig) applyDefaults() {
	conf := &c.Conf
	if conf.Host == "" {
		conf.Host = "127.0.0.1"
	}
	if conf.HttpPort == 0 {
		conf.HttpPort = 9999
	}
	if conf.SslDomain == "" {
		conf.SslDomain = "localhost"
	}
	if conf.Database.Driver == "" {
		conf.Database.Driver = "sqlite"
	}
	if conf.Database.Dsn == "" && conf.Database.Driver == "sqlite" {
		conf.Database.Dsn = ResolveFilePath("database.db")
	}
	if conf.Queue.Backend == "" {
		conf.Queue.Backend = "db"
	}
	if conf.Queue.PollInterval <= 0 {
		conf.Queue.PollInterval = 10 * time.Second
	}
	if conf.Queue.MaxAttempts <= 0 {
		conf.Queue.MaxAttempts = 10
	}
	if conf.Queue.BatchSize <= 0 {
		conf.Queue.BatchSize = 50
	}
	if conf.Queue.Workers <= 0 {
		conf.Queue.Workers = 4
	}

	fed := &conf.Federation
	if fed.FetchTimeout <= 0 {
		fed.FetchTimeout = 10 * time.Second
	}
	if fed.DeliveryTimeout <= 0 {
		fed.DeliveryTimeout = 30 * time.Second
	}
	if fed.ActorRefresh <= 0 {
		fed.ActorRefresh = 24 * time.Hour
	}
	if fed.MaxCollectionPages <= 0 {
		fed.MaxCollectionPages = 10
	}
	if fed.MaxCollectionItems <= 0 {
		fed.MaxCollectionItems = 500
	}
	if fed.BatchSize <= 0 {
		fed.BatchSize = 20
	}
	if fed.IdempotencyTTL <= 0 {
		fed.IdempotencyTTL = 24 * time.Hour
	}
	if fed.InboxRateLimit <= 0 {
		fed.InboxRateLimit = 10
	}
	if fed.MaxBodyBytes <= 0 {
		fed.MaxBodyBytes = 1 << 20
	}

	if conf.Log.Level == "" {
		conf.Log.Level = "info"
	}
	if conf.Log.Format == "" {
		conf.Log.Format = "console"
	}
}
