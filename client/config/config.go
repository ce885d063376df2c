package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

// Config wraps viper and provides typed accessors.
type Config struct {
	v *viper.Viper
}

// Load reads a config file (ini or yaml) and prepares defaults.
// Environment variables prefixed with WAVEFM override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WAVEFM")
	v.AutomaticEnv()

	setDefaults(v)

	if path == "" {
		return &Config{v: v}, nil
	}

	if strings.EqualFold(filepath.Ext(path), ".ini") {
		if err := loadINI(v, path); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		return &Config{v: v}, nil
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return &Config{v: v}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("BackendURL", "http://localhost:54321")
	v.SetDefault("BackendAPIKey", "")
	v.SetDefault("BackendToken", "")
	v.SetDefault("UserID", "")
	v.SetDefault("HTTPTimeoutSec", 30)
	v.SetDefault("RateLimitPerSecond", 8.0)
	v.SetDefault("RateLimitBurst", 16)

	v.SetDefault("SearchPageSize", 20)
	v.SetDefault("FeedPageSize", 20)
	v.SetDefault("AutocompleteLimit", 8)
	v.SetDefault("MinQueryLength", 2)
	v.SetDefault("SearchDebounceMs", 300)

	v.SetDefault("RecentTracksLimit", 20)
	v.SetDefault("RecentAuthorsLimit", 10)
	v.SetDefault("RecentPlaylistsLimit", 10)

	v.SetDefault("LikeChunkSize", 200)

	v.SetDefault("HistoryDedupWindowSec", 300)
	v.SetDefault("WorkerPoolSize", 4)

	v.SetDefault("Database", "wavefm.db")
	v.SetDefault("DBMaxOpenConns", 1)
	v.SetDefault("DBMaxIdleConns", 1)
	v.SetDefault("DBConnMaxLifetimeSec", 3600)

	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "text")
	v.SetDefault("LogSource", false)
	v.SetDefault("GormLogLevel", "warn")

	v.SetDefault("Volume", 1.0)
}

func loadINI(v *viper.Viper, path string) error {
	file, err := ini.Load(path)
	if err != nil {
		return err
	}

	for _, section := range file.Sections() {
		prefix := ""
		if section.Name() != ini.DefaultSection {
			prefix = section.Name() + "."
		}
		for _, key := range section.Keys() {
			v.Set(prefix+key.Name(), key.Value())
		}
	}

	return nil
}

// GetString returns a string value.
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt returns an int value.
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 returns a float64 value.
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool returns a bool value.
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}
