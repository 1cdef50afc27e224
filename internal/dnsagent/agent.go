// Package dnsagent implements the per-machine DNS-switching daemon of
// §4.9: a Backend does the actual platform-specific work, and server.go
// speaks the fixed wire protocol the dnsupdater stage (and
// internal/dnsclient) use to drive it. Grounded on srdnsupdater.py's wire
// format and the platform notes in spec §4.9.
package dnsagent

import (
	"fmt"
	"runtime"
)

// Backend performs the platform-specific half of a DNS switch: Set points
// resolution at dnsServer, Reset restores whatever was in place before the
// first Set of this daemon's lifetime.
type Backend interface {
	Set(dnsServer string) error
	Reset() error
}

// NewBackend returns the Backend compiled into this binary (selected at
// build time by linux.go/darwin.go/windows.go's build tags), after
// checking it actually matches the configured machine os — a mismatch
// here means the wrong binary was deployed to this host.
func NewBackend(configuredOS string) (Backend, error) {
	if configuredOS != runtime.GOOS && !(configuredOS == "mac" && runtime.GOOS == "darwin") {
		return nil, fmt.Errorf("dnsagent: configured os %q does not match build target %q", configuredOS, runtime.GOOS)
	}
	return newPlatformBackend()
}
