package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type MapConfig struct {
	Basename string `mapstructure:"basename"`
	ID       int    `mapstructure:"id"`
}

type IndexConfig struct {
	UnloadDistance int           `mapstructure:"unload_distance"`
	UnloadInterval time.Duration `mapstructure:"unload_interval"`
}

type UIDConfig struct {
	Backend   string `mapstructure:"backend"` // local | db
	BlockSize uint32 `mapstructure:"block_size"`
}

type DBConfig struct {
	DSN         string        `mapstructure:"dsn"`
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

type ServerConfig struct {
	Addr         string   `mapstructure:"addr"`
	JWTSecret    string   `mapstructure:"jwt_secret"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	JSON       bool   `mapstructure:"json"`
}

type Config struct {
	Map    MapConfig    `mapstructure:"map"`
	Index  IndexConfig  `mapstructure:"index"`
	UID    UIDConfig    `mapstructure:"uid"`
	DB     DBConfig     `mapstructure:"db"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
}

var (
	mu  sync.RWMutex
	cfg *Config
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("map.basename", "")
	v.SetDefault("map.id", 0)
	v.SetDefault("index.unload_distance", 5)
	v.SetDefault("index.unload_interval", "5s")
	v.SetDefault("uid.backend", "local")
	v.SetDefault("uid.block_size", 64)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open", 4)
	v.SetDefault("db.max_idle", 2)
	v.SetDefault("db.max_lifetime", "30m")
	v.SetDefault("server.addr", ":8088")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// Load reads the yaml file at path and TERRAIN_* environment variables. A
// missing file is skipped. A .env file in the working directory is honoured.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TERRAIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}

	mu.Lock()
	cfg = &c
	mu.Unlock()
	return &c, nil
}

func (c *Config) validate() error {
	switch c.UID.Backend {
	case "local", "db":
	default:
		return fmt.Errorf("uid.backend must be local or db, got %q", c.UID.Backend)
	}
	if c.UID.Backend == "db" && c.DB.DSN == "" {
		return errors.New("uid.backend=db requires db.dsn")
	}
	if c.UID.BlockSize == 0 {
		c.UID.BlockSize = 1
	}
	if c.Index.UnloadDistance < 1 {
		return fmt.Errorf("index.unload_distance must be >= 1, got %d", c.Index.UnloadDistance)
	}
	return nil
}

// GetConfig returns the last loaded configuration, or nil before Load.
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}
