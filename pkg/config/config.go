// Package config loads and validates the client configuration.
//
// Sources, in order of precedence:
//  1. Environment variables (AIRDCPP_*)
//  2. Configuration file (YAML, named by the command layer's --config flag)
//  3. Defaults
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/airdcpp/airdcpp-go/internal/bytesize"
)

// Config is the static configuration of the client core.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ConfigDir holds the hash database, the share cache and the
	// generated file lists.
	ConfigDir string `mapstructure:"config_dir" yaml:"config_dir"`

	// Share configures roots, profiles and refresh behavior.
	Share ShareConfig `mapstructure:"share" yaml:"share"`

	// Hasher configures the hashing pool.
	Hasher HasherConfig `mapstructure:"hasher" yaml:"hasher"`

	// Upload configures slot policy and upload behavior.
	Upload UploadConfig `mapstructure:"upload" yaml:"upload"`

	// Metrics contains the Prometheus endpoint configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig mirrors internal/logger.Config.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// RootConfig describes one configured share root.
type RootConfig struct {
	// Path is the absolute real path of the shared directory.
	Path string `mapstructure:"path" yaml:"path"`

	// Virtual is the name the root is visible under; defaults to the
	// directory basename.
	Virtual string `mapstructure:"virtual" yaml:"virtual"`

	// Profiles lists the share profile tokens the root belongs to.
	Profiles []uint32 `mapstructure:"profiles" yaml:"profiles"`

	// Incoming marks roots receiving finished downloads.
	Incoming bool `mapstructure:"incoming" yaml:"incoming"`
}

// ShareConfig configures the share index and refresh scheduling.
type ShareConfig struct {
	Roots []RootConfig `mapstructure:"roots" yaml:"roots"`

	// SkipList holds glob patterns (or "re:" prefixed regular
	// expressions) for paths excluded from sharing.
	SkipList []string `mapstructure:"skip_list" yaml:"skip_list"`

	// SkipHidden excludes dot-files and hidden directories.
	SkipHidden bool `mapstructure:"skip_hidden" yaml:"skip_hidden"`

	// SkipEmptyDirs omits directories with no shared content.
	SkipEmptyDirs bool `mapstructure:"skip_empty_dirs" yaml:"skip_empty_dirs"`

	// MaxFileSize excludes larger files from the share; zero disables
	// the limit.
	MaxFileSize bytesize.ByteSize `mapstructure:"max_file_size" yaml:"max_file_size"`

	// RefreshInterval schedules periodic full refreshes; zero disables.
	RefreshInterval time.Duration `mapstructure:"refresh_interval" yaml:"refresh_interval"`

	// FullListAge is how long a generated full list is reused; a share
	// change or a forced request regenerates it sooner.
	FullListAge time.Duration `mapstructure:"full_list_age" yaml:"full_list_age"`

	// MonitorDelay is how long a monitored directory must stay quiet
	// before its refresh is submitted.
	MonitorDelay time.Duration `mapstructure:"monitor_delay" yaml:"monitor_delay"`

	// Monitoring enables the filesystem change watcher.
	Monitoring bool `mapstructure:"monitoring" yaml:"monitoring"`
}

// HasherConfig configures the hashing pool.
type HasherConfig struct {
	// MaxThreads caps pool-wide hasher workers; zero means the hardware
	// concurrency.
	MaxThreads int `mapstructure:"max_threads" yaml:"max_threads"`

	// PerVolume caps hashers working one storage device at a time.
	PerVolume int `mapstructure:"per_volume" yaml:"per_volume"`

	// MaxSpeed throttles each hasher, in bytes per second; zero means
	// unthrottled.
	MaxSpeed bytesize.ByteSize `mapstructure:"max_speed" yaml:"max_speed"`

	// VerifySFV checks CRC32 sidecar expectations while hashing.
	VerifySFV bool `mapstructure:"verify_sfv" yaml:"verify_sfv"`
}

// UploadConfig configures the upload dispatcher.
type UploadConfig struct {
	// Slots is the configured standard slot count.
	Slots int `mapstructure:"slots" yaml:"slots"`

	// AutoSlots is how many extra slots the auto-grant rule may add
	// while total upload speed stays under AutoSlotSpeed.
	AutoSlots int `mapstructure:"auto_slots" yaml:"auto_slots"`

	// AutoSlotSpeed is the KiB/s bound for auto-granting.
	AutoSlotSpeed int `mapstructure:"auto_slot_speed" yaml:"auto_slot_speed"`

	// SlotsPerUser caps concurrent MCN uploads per user.
	SlotsPerUser int `mapstructure:"slots_per_user" yaml:"slots_per_user"`

	// MinislotSize is the mini-slot eligibility bound.
	MinislotSize bytesize.ByteSize `mapstructure:"minislot_size" yaml:"minislot_size"`

	// FreeSlotFiles holds glob patterns of names always eligible for a
	// mini slot regardless of size.
	FreeSlotFiles []string `mapstructure:"free_slot_files" yaml:"free_slot_files"`

	// MaxFavSlots raises the configured slot count for favorite-heavy
	// hub setups; the effective count is max(Slots, MaxFavSlots × hubs).
	MaxFavSlots int `mapstructure:"max_fav_slots" yaml:"max_fav_slots"`

	// AutoKick disconnects leechers that leave all shared hubs.
	AutoKick bool `mapstructure:"auto_kick" yaml:"auto_kick"`

	// AutoKickNoFavs exempts favorite users from auto-kick.
	AutoKickNoFavs bool `mapstructure:"auto_kick_no_favs" yaml:"auto_kick_no_favs"`
}

// MetricsConfig configures the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Bind    string `mapstructure:"bind" yaml:"bind"`
}

// Load reads configuration from the given file (optional), the
// environment and defaults, then validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AIRDCPP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural requirements; root overlap rules are
// enforced by the share engine when roots are added.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}

	for _, r := range c.Share.Roots {
		if !filepath.IsAbs(r.Path) {
			return fmt.Errorf("config: share root %q is not absolute", r.Path)
		}
	}
	if c.Hasher.MaxThreads < 0 || c.Hasher.PerVolume < 0 {
		return fmt.Errorf("config: hasher thread counts must not be negative")
	}
	if c.Upload.Slots < 1 {
		return fmt.Errorf("config: at least one upload slot is required")
	}
	if c.Upload.SlotsPerUser < 1 {
		return fmt.Errorf("config: slots_per_user must be at least 1")
	}
	if c.Share.MonitorDelay < 0 || c.Share.FullListAge < 0 {
		return fmt.Errorf("config: delays must not be negative")
	}
	return nil
}
