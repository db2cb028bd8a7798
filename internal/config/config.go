// Package config loads server configuration.
//
// Sources are applied in order, each overriding the previous one:
//   - built-in defaults (Default)
//   - a .env file in the working directory, if present
//   - an optional YAML file
//   - BUBBLES_* environment variables
//
// The result is validated before it is returned.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/DoyleJ11/bubble-arena/internal/bubble"
	"github.com/DoyleJ11/bubble-arena/internal/lobby"
)

var ErrInvalid = errors.New("invalid config")

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "BUBBLES_"

type Config struct {
	// Listen is the TCP address for framed game connections.
	Listen string `yaml:"listen"`

	// HTTPListen serves /healthz, /stats, /scoreboard and /ws.
	// Empty disables the HTTP surface.
	HTTPListen string `yaml:"http_listen"`

	// LogLevel is a zap level name: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// LogFormat is "json" or "console".
	LogFormat string `yaml:"log_format"`

	// WriteTimeout bounds each socket write. Zero disables it.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	Game GameConfig `yaml:"game"`
}

// GameConfig holds the arena rules and the sweep cadences.
type GameConfig struct {
	PoolWidth  int `yaml:"pool_width"`
	PoolHeight int `yaml:"pool_height"`

	MinValue  int `yaml:"min_value"`
	MaxValue  int `yaml:"max_value"`
	MinRadius int `yaml:"min_radius"`
	MaxRadius int `yaml:"max_radius"`

	MinLifetime time.Duration `yaml:"min_lifetime"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
	MinHold     time.Duration `yaml:"min_hold"`
	MaxHold     time.Duration `yaml:"max_hold"`

	WinScore        int  `yaml:"win_score"`
	SnapshotOnLogin bool `yaml:"snapshot_on_login"`

	SpawnIntervalMin  time.Duration `yaml:"spawn_interval_min"`
	SpawnIntervalMax  time.Duration `yaml:"spawn_interval_max"`
	ExpireInterval    time.Duration `yaml:"expire_interval"`
	ConsumeInterval   time.Duration `yaml:"consume_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	InboxSize int `yaml:"inbox_size"`
}

func Default() *Config {
	return &Config{
		Listen:     ":5555",
		HTTPListen: ":8080",
		LogLevel:   "info",
		LogFormat:  "json",
		Game: GameConfig{
			PoolWidth:         800,
			PoolHeight:        600,
			MinValue:          1,
			MaxValue:          20,
			MinRadius:         10,
			MaxRadius:         20,
			MinLifetime:       3 * time.Second,
			MaxLifetime:       6 * time.Second,
			MinHold:           time.Second,
			MaxHold:           3 * time.Second,
			WinScore:          100,
			SpawnIntervalMin:  500 * time.Millisecond,
			SpawnIntervalMax:  1500 * time.Millisecond,
			ExpireInterval:    100 * time.Millisecond,
			ConsumeInterval:   50 * time.Millisecond,
			HeartbeatInterval: 2 * time.Second,
			InboxSize:         256,
		},
	}
}

// Load builds the configuration. path may be empty to skip the YAML file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("LISTEN", &c.Listen)
	str("HTTP_LISTEN", &c.HTTPListen)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	dur("WRITE_TIMEOUT", &c.WriteTimeout)
	num("WIN_SCORE", &c.Game.WinScore)
	flag("SNAPSHOT_ON_LOGIN", &c.Game.SnapshotOnLogin)
	dur("HEARTBEAT_INTERVAL", &c.Game.HeartbeatInterval)

	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalid}, errs...)...)
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log format %q", c.LogFormat))
	}
	if c.WriteTimeout < 0 {
		errs = append(errs, errors.New("negative write timeout"))
	}

	g := c.Game
	if err := g.Rules().Validate(); err != nil {
		errs = append(errs, err)
	}
	if g.WinScore <= 0 {
		errs = append(errs, errors.New("win score must be positive"))
	}
	if g.SpawnIntervalMin <= 0 || g.SpawnIntervalMax < g.SpawnIntervalMin {
		errs = append(errs, errors.New("spawn interval range"))
	}
	if g.ExpireInterval <= 0 || g.ConsumeInterval <= 0 {
		errs = append(errs, errors.New("sweep intervals must be positive"))
	}
	if g.HeartbeatInterval < 0 {
		errs = append(errs, errors.New("negative heartbeat interval"))
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalid}, errs...)...)
	}
	return nil
}

func (g GameConfig) Rules() bubble.Rules {
	return bubble.Rules{
		PoolWidth:   g.PoolWidth,
		PoolHeight:  g.PoolHeight,
		MinValue:    g.MinValue,
		MaxValue:    g.MaxValue,
		MinRadius:   g.MinRadius,
		MaxRadius:   g.MaxRadius,
		MinLifetime: g.MinLifetime,
		MaxLifetime: g.MaxLifetime,
		MinHold:     g.MinHold,
		MaxHold:     g.MaxHold,
	}
}

func (g GameConfig) Lobby() lobby.Config {
	return lobby.Config{
		Rules:             g.Rules(),
		WinScore:          g.WinScore,
		SnapshotOnLogin:   g.SnapshotOnLogin,
		SpawnIntervalMin:  g.SpawnIntervalMin,
		SpawnIntervalMax:  g.SpawnIntervalMax,
		ExpireInterval:    g.ExpireInterval,
		ConsumeInterval:   g.ConsumeInterval,
		HeartbeatInterval: g.HeartbeatInterval,
		InboxSize:         g.InboxSize,
	}
}
