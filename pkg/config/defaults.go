package config

import (
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/airdcpp/airdcpp-go/internal/bytesize"
)

// Defaults that match the stock client settings.
const (
	DefaultSlots         = 2
	DefaultSlotsPerUser  = 3
	DefaultAutoSlotSpeed = 512 // KiB/s
	DefaultMinislotSize  = 512 * bytesize.KiB
	DefaultFullListAge   = 15 * time.Minute
	DefaultMonitorDelay  = 30 * time.Second
)

// ApplyDefaults fills unset fields. Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.ConfigDir == "" {
		home, err := os.UserConfigDir()
		if err != nil {
			home = "."
		}
		cfg.ConfigDir = filepath.Join(home, "airdcpp")
	}

	if cfg.Share.FullListAge == 0 {
		cfg.Share.FullListAge = DefaultFullListAge
	}
	if cfg.Share.MonitorDelay == 0 {
		cfg.Share.MonitorDelay = DefaultMonitorDelay
	}
	for i := range cfg.Share.Roots {
		r := &cfg.Share.Roots[i]
		if r.Virtual == "" {
			r.Virtual = filepath.Base(r.Path)
		}
		if len(r.Profiles) == 0 {
			r.Profiles = []uint32{0}
		}
	}

	if cfg.Hasher.PerVolume == 0 {
		cfg.Hasher.PerVolume = 1
	}

	if cfg.Upload.Slots == 0 {
		cfg.Upload.Slots = DefaultSlots
	}
	if cfg.Upload.SlotsPerUser == 0 {
		cfg.Upload.SlotsPerUser = DefaultSlotsPerUser
	}
	if cfg.Upload.AutoSlotSpeed == 0 {
		cfg.Upload.AutoSlotSpeed = DefaultAutoSlotSpeed
	}
	if cfg.Upload.MinislotSize == 0 {
		cfg.Upload.MinislotSize = DefaultMinislotSize
	}

	if cfg.Metrics.Bind == "" {
		cfg.Metrics.Bind = "127.0.0.1:9195"
	}
}

// decodeHook teaches viper about time.Duration and bytesize strings.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		func(from, to reflect.Type, data any) (any, error) {
			if from.Kind() != reflect.String || to != reflect.TypeOf(bytesize.ByteSize(0)) {
				return data, nil
			}
			return bytesize.Parse(data.(string))
		},
	)
}
