package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Session  SessionConfig  `yaml:"session"`
	Bus      BusConfig      `yaml:"bus"`
	Content  ContentConfig  `yaml:"content"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	// PublicURL is the externally visible base URL used in join links and hubUrl.
	PublicURL string `yaml:"publicUrl"`
}

// RedisConfig supports single, sentinel and cluster deployments.
type RedisConfig struct {
	Addr       string   `yaml:"addr"`
	Addrs      []string `yaml:"addrs"`
	Mode       string   `yaml:"mode"`
	MasterName string   `yaml:"masterName"`
	Password   string   `yaml:"password"`
	DB         int      `yaml:"db"`
}

type SessionConfig struct {
	TTL        string `yaml:"ttl"`
	InstanceID string `yaml:"instanceId"`
}

type BusConfig struct {
	// Driver is one of redis, amqp or memory. Empty picks redis when Redis is configured.
	Driver         string `yaml:"driver"`
	ChannelPrefix  string `yaml:"channelPrefix"`
	AMQPURL        string `yaml:"amqpUrl"`
	Exchange       string `yaml:"exchange"`
	Prefetch       int    `yaml:"prefetch"`
	RetryBackoff   string `yaml:"retryBackoff"`
	PublishTimeout string `yaml:"publishTimeout"`
}

type ContentConfig struct {
	BaseURL  string `yaml:"baseUrl"`
	Timeout  string `yaml:"timeout"`
	CacheTTL string `yaml:"cacheTtl"`
}

type PostgresConfig struct {
	URL string `yaml:"url"`
}

const (
	DefaultPort           = "8080"
	DefaultSessionTTL     = 6 * time.Hour
	DefaultRetryBackoff   = 5 * time.Second
	DefaultPublishTimeout = 2 * time.Second
	DefaultContentTimeout = 10 * time.Second
	DefaultCacheTTL       = 30 * time.Second
	DefaultExchange       = "livequiz.events"
	DefaultChannelPrefix  = "livequiz:"
	DefaultPrefetch       = 50
)

// Load reads YAML config from path. An empty path yields defaults only.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = DefaultPort
	}
	if c.Bus.ChannelPrefix == "" {
		c.Bus.ChannelPrefix = DefaultChannelPrefix
	}
	if c.Bus.Exchange == "" {
		c.Bus.Exchange = DefaultExchange
	}
	if c.Bus.Prefetch <= 0 {
		c.Bus.Prefetch = DefaultPrefetch
	}
	if c.Redis.Mode == "" {
		c.Redis.Mode = "single"
	}
}

// RedisConfigured reports whether any Redis address is set.
func (c Config) RedisConfigured() bool {
	return c.Redis.Addr != "" || len(c.Redis.Addrs) > 0
}

// Resolve fills settings that depend on other settings and validates the
// result. The bus defaults to Redis when Redis is configured and to the
// in-process bus otherwise.
func (c *Config) Resolve() error {
	if c.Bus.Driver == "" {
		c.Bus.Driver = "memory"
		if c.RedisConfigured() {
			c.Bus.Driver = "redis"
		}
	}
	switch c.Bus.Driver {
	case "memory":
	case "redis":
		if !c.RedisConfigured() {
			return fmt.Errorf("bus driver redis requires redis.addr")
		}
	case "amqp":
		if c.Bus.AMQPURL == "" {
			return fmt.Errorf("bus driver amqp requires bus.amqpUrl")
		}
	default:
		return fmt.Errorf("unsupported bus driver %q", c.Bus.Driver)
	}
	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %s", c.Server.Port)
	}
	return nil
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
