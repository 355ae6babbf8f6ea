// Package pathutil holds the path and text helpers shared by the share
// index, the search matcher and the upload resolver: ADC virtual path
// handling, case-insensitive comparisons and ancestry tests.
package pathutil

import (
	"path/filepath"
	"strings"
)

// ADCSeparator separates components of virtual paths on the wire.
const ADCSeparator = '/'

// NMDCSeparator separates components of NMDC-era virtual paths.
const NMDCSeparator = '\\'

// ToLower normalizes a name for lookups and on-disk keys. Simple
// ASCII-adjacent folding matches the rest of the index, which compares
// the precomputed lowercase forms byte-wise.
func ToLower(s string) string {
	return strings.ToLower(s)
}

// EqualFold compares two names case-insensitively.
func EqualFold(a, b string) bool {
	return strings.EqualFold(a, b)
}

// ToADC converts an NMDC virtual path to ADC form: backslashes become
// slashes and the path gains a leading slash.
func ToADC(path string) string {
	converted := strings.ReplaceAll(path, string(NMDCSeparator), string(ADCSeparator))
	if !strings.HasPrefix(converted, "/") {
		converted = "/" + converted
	}
	return converted
}

// ToNMDC converts an ADC virtual path to NMDC form.
func ToNMDC(path string) string {
	return strings.ReplaceAll(strings.TrimPrefix(path, "/"), string(ADCSeparator), string(NMDCSeparator))
}

// SplitADC breaks an ADC path into components, dropping empty segments.
func SplitADC(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinADC builds an ADC directory path: leading and trailing slash.
func JoinADC(components ...string) string {
	if len(components) == 0 {
		return "/"
	}
	return "/" + strings.Join(components, "/") + "/"
}

// AdcLastDir returns the last directory component of an ADC path.
func AdcLastDir(path string) string {
	parts := SplitADC(path)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// AdcParent returns the parent directory of an ADC path, keeping the
// trailing slash; the parent of a first-level path is "/".
func AdcParent(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndexByte(trimmed, '/')
	if idx <= 0 {
		return "/"
	}
	return trimmed[:idx+1]
}

// IsSub reports whether dir is a proper descendant of parent. Both are
// local filesystem paths; comparison is case-insensitive.
func IsSub(dir, parent string) bool {
	d := ensureTrailing(ToLower(filepath.Clean(dir)))
	p := ensureTrailing(ToLower(filepath.Clean(parent)))
	return len(d) > len(p) && strings.HasPrefix(d, p)
}

// IsParentOrExact reports whether parent contains dir or equals it.
func IsParentOrExact(parent, dir string) bool {
	d := ensureTrailing(ToLower(filepath.Clean(dir)))
	p := ensureTrailing(ToLower(filepath.Clean(parent)))
	return strings.HasPrefix(d, p)
}

func ensureTrailing(p string) string {
	if !strings.HasSuffix(p, string(filepath.Separator)) {
		return p + string(filepath.Separator)
	}
	return p
}

// FileName returns the last component of a local path.
func FileName(path string) string {
	return filepath.Base(path)
}

// Tokenize splits a lowercase name into the tokens fed to the bloom
// filter: maximal runs of letters and digits.
func Tokenize(nameLower string) []string {
	var tokens []string
	start := -1
	for i := 0; i < len(nameLower); i++ {
		c := nameLower[i]
		alnum := (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c >= 0x80
		if alnum && start < 0 {
			start = i
		} else if !alnum && start >= 0 {
			tokens = append(tokens, nameLower[start:i])
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, nameLower[start:])
	}
	return tokens
}
