package hasher

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/airdcpp/airdcpp-go/internal/pathutil"
)

// sfvEntries maps lowercase file names to expected CRC-32 values from
// every *.sfv sidecar in a directory.
type sfvEntries map[string]uint32

// loadSFV scans dir for SFV sidecars. Lines are "<filename> <crc-hex>";
// ';' starts a comment line. A missing or unreadable sidecar is simply
// no expectations.
func loadSFV(dir string) sfvEntries {
	matches, err := filepath.Glob(filepath.Join(dir, "*.sfv"))
	if err != nil || len(matches) == 0 {
		return nil
	}

	entries := make(sfvEntries)
	for _, sidecar := range matches {
		f, err := os.Open(sidecar)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, ";") {
				continue
			}
			idx := strings.LastIndexByte(line, ' ')
			if idx < 1 {
				continue
			}
			crc, err := strconv.ParseUint(strings.TrimSpace(line[idx+1:]), 16, 32)
			if err != nil {
				continue
			}
			name := strings.TrimSpace(line[:idx])
			entries[pathutil.ToLower(name)] = uint32(crc)
		}
		f.Close()
	}
	if len(entries) == 0 {
		return nil
	}
	return entries
}

// expected returns the CRC for a file name, if the sidecars listed it.
func (e sfvEntries) expected(name string) (uint32, bool) {
	if e == nil {
		return 0, false
	}
	crc, ok := e[pathutil.ToLower(name)]
	return crc, ok
}
