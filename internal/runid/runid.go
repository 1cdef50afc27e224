// Package runid holds the handful of process-wide, lazily-initialised
// caches that the original stoneridge.py module kept at module scope: the
// current OS-version string and the build-id suffix derived from (os,
// netconfig). Both are exposed as pure functions plus a sync.Once-guarded
// cache, since recomputing either is pure but not free.
package runid

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// osLetters maps a canonical OS name to the single-letter code used in a
// build-id suffix. Only these three platforms are supported by the harness.
var osLetters = map[string]byte{
	"linux":   'l',
	"mac":     'm',
	"windows": 'w',
}

// netconfigDigits maps a netconfig name to the single-digit code used in a
// build-id suffix.
var netconfigDigits = map[string]byte{
	"broadband": '0',
	"umts":      '1',
	"gsm":       '2',
}

// NewSRID returns the deterministic SRID for a try run: "<ldap>-<sha[:12]>".
func NewSRID(ldap, sha string) string {
	return fmt.Sprintf("%s-%s", ldap, TruncateSHA(sha))
}

// NewNightlySRID returns a freshly generated SRID for a nightly run, which
// has no (ldap, sha) pair to derive an identifier from.
func NewNightlySRID() string {
	return uuid.NewString()
}

// TruncateSHA truncates sha to its first 12 characters, the form used as an
// upstream path component and as part of a try SRID.
func TruncateSHA(sha string) string {
	if len(sha) <= 12 {
		return sha
	}
	return sha[:12]
}

// BuildIDSuffix computes the 2-character suffix appended to a truncated
// build id to make it globally unique across (os, netconfig) pairs. It
// fails silently (returns "") when either input is not one of the nine
// known (os, netconfig) pairs — callers must treat an empty suffix as "do
// not fabricate a unique id", per §4.1.
func BuildIDSuffix(osName, netconfig string) string {
	osLetter, ok := osLetters[osName]
	if !ok {
		return ""
	}
	ncDigit, ok := netconfigDigits[netconfig]
	if !ok {
		return ""
	}
	return string([]byte{osLetter, ncDigit})
}

// ComposeBuildID truncates original to 14 characters and appends the
// (os, netconfig) suffix, producing a composite id of at most 16 characters.
// If the suffix cannot be derived, original is returned unmodified and the
// caller is expected to treat that as "no composite id available".
func ComposeBuildID(original, osName, netconfig string) string {
	suffix := BuildIDSuffix(osName, netconfig)
	if suffix == "" {
		return original
	}
	base := original
	if len(base) > 14 {
		base = base[:14]
	}
	return base + suffix
}

var (
	osVersionOnce  sync.Once
	cachedOSVer    string
	buildSuffixMu  sync.Mutex
	buildSuffixMap = make(map[string]string)
)

// SystemName returns the canonical OS name stoneridge uses throughout its
// data model ("linux", "mac", or "windows"), derived from GOOS.
func SystemName() string {
	switch runtime.GOOS {
	case "darwin":
		return "mac"
	case "linux":
		return "linux"
	case "windows":
		return "windows"
	default:
		return runtime.GOOS
	}
}

// SystemVersion returns a cached, best-effort OS version string. The value
// is computed once per process and reused thereafter.
func SystemVersion() string {
	osVersionOnce.Do(func() {
		cachedOSVer = detectOSVersion()
	})
	return cachedOSVer
}

func detectOSVersion() string {
	switch runtime.GOOS {
	case "linux":
		if data, err := os.ReadFile("/etc/os-release"); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if strings.HasPrefix(line, "PRETTY_NAME=") {
					return strings.Trim(strings.TrimPrefix(line, "PRETTY_NAME="), `"`)
				}
			}
		}
		return "Unknown Linux"
	default:
		return "Unknown"
	}
}

// CachedBuildIDSuffix memoizes BuildIDSuffix per (os, netconfig) pair for
// the lifetime of the process, mirroring the original's module-level cache.
func CachedBuildIDSuffix(osName, netconfig string) string {
	key := osName + "/" + netconfig
	buildSuffixMu.Lock()
	defer buildSuffixMu.Unlock()
	if v, ok := buildSuffixMap[key]; ok {
		return v
	}
	v := BuildIDSuffix(osName, netconfig)
	buildSuffixMap[key] = v
	return v
}
