// Package bytesize parses and formats human-readable byte counts used
// throughout the configuration ("512KiB", "100MB", "2Gi", plain numbers).
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a size in bytes. It unmarshals from strings in config files.
type ByteSize int64

const (
	B   ByteSize = 1
	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB

	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB
)

var units = []struct {
	suffix string
	mult   ByteSize
}{
	{"kib", KiB}, {"mib", MiB}, {"gib", GiB}, {"tib", TiB},
	{"ki", KiB}, {"mi", MiB}, {"gi", GiB}, {"ti", TiB},
	{"kb", KB}, {"mb", MB}, {"gb", GB}, {"tb", TB},
	{"k", KB}, {"m", MB}, {"g", GB}, {"t", TB},
	{"b", B},
}

// Parse converts a human-readable size string to a ByteSize.
func Parse(s string) (ByteSize, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	if in == "" {
		return 0, fmt.Errorf("bytesize: empty value")
	}

	mult := B
	for _, u := range units {
		if rest, ok := strings.CutSuffix(in, u.suffix); ok {
			in = strings.TrimSpace(rest)
			mult = u.mult
			break
		}
	}

	if f, err := strconv.ParseFloat(in, 64); err == nil && f >= 0 {
		return ByteSize(f * float64(mult)), nil
	}
	return 0, fmt.Errorf("bytesize: invalid value %q", s)
}

// String renders the size with the largest binary unit that divides it
// cleanly enough for display.
func (b ByteSize) String() string {
	switch {
	case b >= GiB:
		return fmt.Sprintf("%.1fGiB", float64(b)/float64(GiB))
	case b >= MiB:
		return fmt.Sprintf("%.1fMiB", float64(b)/float64(MiB))
	case b >= KiB:
		return fmt.Sprintf("%.1fKiB", float64(b)/float64(KiB))
	default:
		return fmt.Sprintf("%dB", int64(b))
	}
}

// Int64 returns the size as a plain byte count.
func (b ByteSize) Int64() int64 { return int64(b) }

// UnmarshalText lets ByteSize fields load from YAML and viper strings.
func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// MarshalText renders the size for config round-trips.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}
