package repbot

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/disgoorg/snowflake/v2"
	"github.com/pelletier/go-toml/v2"

	"github.com/disgoorg/repbot/internal/domain/settings"
	"github.com/disgoorg/repbot/internal/gateways/redisstore"
	"github.com/disgoorg/repbot/repbot/database"
)

// LoadConfig reads the TOML file at path, applies environment overrides for
// secrets and validates the reputation settings.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	cfg := DefaultConfig()
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err = cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns a config with every optional value filled in.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{Level: slog.LevelInfo},
		DB: database.DBConfig{
			Host:     "localhost",
			Port:     5432,
			PoolSize: 10,
		},
		Redis: redisstore.Config{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Web: WebConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			RateLimit:       100,
			RateLimitWindow: 60,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 15,
			BatchSize:    10,
			MaxAttempts:  5,
		},
		Reputation: settings.Default(),
	}
}

type Config struct {
	Log        LogConfig         `toml:"log"`
	Bot        BotConfig         `toml:"bot"`
	DB         database.DBConfig `toml:"db"`
	Redis      redisstore.Config `toml:"redis"`
	Spaces     SpacesConfig      `toml:"spaces"`
	Web        WebConfig         `toml:"web"`
	Scheduler  SchedulerConfig   `toml:"scheduler"`
	Reputation settings.Settings `toml:"reputation"`
}

type BotConfig struct {
	DevGuilds []snowflake.ID `toml:"dev_guilds"`
	Token     string         `toml:"token"`
	// Guilds are searched for usernames the bot has not seen yet.
	Guilds          []snowflake.ID `toml:"guilds"`
	ModeratorRoles  []snowflake.ID `toml:"moderator_roles"`
	OperatorChannel snowflake.ID   `toml:"operator_channel"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	AddSource bool       `toml:"add_source"`
}

type SpacesConfig struct {
	Key    string `toml:"key"`
	Secret string `toml:"secret"`
	Region string `toml:"region"`
	Bucket string `toml:"bucket"`
	Root   string `toml:"root"`
}

// Enabled reports whether backups should be mirrored to Spaces.
func (c SpacesConfig) Enabled() bool {
	return c.Key != "" && c.Secret != "" && c.Bucket != ""
}

type WebConfig struct {
	Enabled   bool   `toml:"enabled"`
	Host      string `toml:"host"`
	Port      int    `toml:"port"`
	RateLimit int    `toml:"rate_limit"`
	// RateLimitWindow is in seconds.
	RateLimitWindow int `toml:"rate_limit_window"`
}

func (c WebConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c WebConfig) Window() time.Duration {
	return time.Duration(c.RateLimitWindow) * time.Second
}

type SchedulerConfig struct {
	// PollInterval is in seconds.
	PollInterval int `toml:"poll_interval"`
	BatchSize    int `toml:"batch_size"`
	MaxAttempts  int `toml:"max_attempts"`
}

func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// secrets are the values that may be supplied through the environment
// instead of the config file.
type secrets struct {
	BotToken      string `env:"REPBOT_BOT_TOKEN"`
	DBPassword    string `env:"REPBOT_DB_PASSWORD"`
	RedisPassword string `env:"REPBOT_REDIS_PASSWORD"`
	SpacesSecret  string `env:"REPBOT_SPACES_SECRET"`
}

func (c *Config) applyEnv() error {
	var s secrets
	if err := env.Parse(&s); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	if s.BotToken != "" {
		c.Bot.Token = s.BotToken
	}
	if s.DBPassword != "" {
		c.DB.Password = s.DBPassword
	}
	if s.RedisPassword != "" {
		c.Redis.Password = s.RedisPassword
	}
	if s.SpacesSecret != "" {
		c.Spaces.Secret = s.SpacesSecret
	}
	return nil
}

// Validate checks the host settings and the reputation settings.
func (c *Config) Validate() error {
	var errs []error
	if c.Bot.Token == "" {
		errs = append(errs, errors.New("bot.token is required"))
	}
	if c.Scheduler.PollInterval <= 0 {
		errs = append(errs, errors.New("scheduler.poll_interval must be positive"))
	}
	if c.Scheduler.MaxAttempts < 1 {
		errs = append(errs, errors.New("scheduler.max_attempts must be at least 1"))
	}
	if err := c.Reputation.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("reputation: %w", err))
	}
	return errors.Join(errs...)
}
