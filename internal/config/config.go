// Package config loads the daemon configuration from a TOML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/20after4/configdir"
	"github.com/pelletier/go-toml/v2"
)

// AppName names the config and cache directories.
const AppName = "stellar-artwork"

var writeLock sync.Mutex

// Duration is a time.Duration written as a string such as "2s" in TOML.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type ServerConfig struct {
	Port               int
	StaticDir          string
	MaxExternalClients int
	// AllowedOrigins lists the origins allowed to call the HTTP API;
	// "*" allows any.
	AllowedOrigins []string
}

type MPDConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	MusicDir string
}

type CacheConfig struct {
	Dir      string
	MemoryMB int
	DiskMB   int
}

type NetworkConfig struct {
	Workers      int
	RetryMax     int
	RetryWaitMin Duration
	RetryWaitMax Duration
	Timeout      Duration
	UserAgent    string
	LastFMAPIKey string
	// Mode is "auto", "online" or "offline".
	Mode         string
	ForceOffline bool
}

type PreferencesConfig struct {
	PreferDownload    bool
	DownloadMissing   bool
	LowResolutionOnly bool
}

type WarmConfig struct {
	Enabled    bool
	BatchSize  int
	BatchPause Duration
	Interval   Duration
}

type LogConfig struct {
	Level string
}

// Config is the daemon configuration.
type Config struct {
	Server      ServerConfig
	MPD         MPDConfig
	Cache       CacheConfig
	Network     NetworkConfig
	Preferences PreferencesConfig
	Warm        WarmConfig
	Log         LogConfig
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               3002,
			MaxExternalClients: 4,
			AllowedOrigins:     []string{"*"},
		},
		MPD: MPDConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     6600,
			MusicDir: "/var/lib/mpd/music",
		},
		Cache: CacheConfig{
			Dir:      configdir.LocalCache(AppName),
			MemoryMB: 32,
			DiskMB:   512,
		},
		Network: NetworkConfig{
			Workers:      4,
			RetryMax:     2,
			RetryWaitMin: Duration(200 * time.Millisecond),
			RetryWaitMax: Duration(2 * time.Second),
			Timeout:      Duration(30 * time.Second),
			Mode:         "auto",
		},
		Preferences: PreferencesConfig{
			DownloadMissing: true,
		},
		Warm: WarmConfig{
			BatchSize:  10,
			BatchPause: Duration(2 * time.Second),
			Interval:   Duration(6 * time.Hour),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	return filepath.Join(configdir.LocalConfig(AppName), "config.toml")
}

// ReadConfigFile decodes the file at path over the defaults.
func ReadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c := DefaultConfig()
	if err := toml.NewDecoder(f).Decode(c); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return c, nil
}

// Load reads path, falling back to the defaults when it does not exist.
func Load(path string) (*Config, error) {
	c, err := ReadConfigFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return c, err
}

// WriteConfigFile writes c to path, creating its directory.
func (c *Config) WriteConfigFile(path string) error {
	writeLock.Lock()
	defer writeLock.Unlock()

	b, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	if err := configdir.MakePath(filepath.Dir(path)); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	case c.MPD.Enabled && (c.MPD.Port <= 0 || c.MPD.Port > 65535):
		return fmt.Errorf("mpd port %d out of range", c.MPD.Port)
	case c.Cache.Dir == "":
		return errors.New("cache dir is required")
	case c.Cache.MemoryMB <= 0:
		return fmt.Errorf("memory cache size must be positive, got %d MB", c.Cache.MemoryMB)
	case c.Cache.DiskMB <= 0:
		return fmt.Errorf("disk cache size must be positive, got %d MB", c.Cache.DiskMB)
	case c.Network.Workers <= 0:
		return fmt.Errorf("network workers must be positive, got %d", c.Network.Workers)
	case c.Network.RetryMax < 0:
		return fmt.Errorf("retry max must not be negative, got %d", c.Network.RetryMax)
	case c.Warm.BatchSize <= 0:
		return fmt.Errorf("warm batch size must be positive, got %d", c.Warm.BatchSize)
	case c.Warm.BatchPause.Std() < 0:
		return fmt.Errorf("warm batch pause must not be negative, got %s", c.Warm.BatchPause.Std())
	case c.Warm.Enabled && c.Warm.Interval.Std() <= 0:
		return fmt.Errorf("warm interval must be positive, got %s", c.Warm.Interval.Std())
	}
	switch c.Network.Mode {
	case "auto", "online", "offline":
	default:
		return fmt.Errorf("unknown network mode %q", c.Network.Mode)
	}
	return nil
}

// NetworkMode resolves Mode and ForceOffline into one value.
func (c *Config) NetworkMode() string {
	if c.Network.ForceOffline {
		return "offline"
	}
	return c.Network.Mode
}

// MemoryBytes returns the memory tier budget.
func (c *Config) MemoryBytes() int64 {
	return int64(c.Cache.MemoryMB) << 20
}

// DiskBytes returns the disk tier budget.
func (c *Config) DiskBytes() int64 {
	return int64(c.Cache.DiskMB) << 20
}
