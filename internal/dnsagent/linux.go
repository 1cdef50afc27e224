//go:build linux

package dnsagent

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

const resolvConfPath = "/etc/resolv.conf"

// linuxBackend rewrites /etc/resolv.conf directly. A backup is taken once,
// the first time Set or Reset is called, so Reset can always restore the
// daemon's original state regardless of how many Sets happened in between.
type linuxBackend struct {
	mu         sync.Mutex
	backupOnce sync.Once
	backup     []byte
	backupErr  error
}

func newPlatformBackend() (Backend, error) {
	return &linuxBackend{}, nil
}

func (b *linuxBackend) ensureBackup() error {
	b.backupOnce.Do(func() {
		b.backup, b.backupErr = os.ReadFile(resolvConfPath)
	})
	return b.backupErr
}

func (b *linuxBackend) Set(dnsServer string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureBackup(); err != nil {
		return fmt.Errorf("dnsagent: backup resolv.conf: %w", err)
	}

	lines := strings.Split(string(b.backup), "\n")
	replaced := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "nameserver") {
			lines[i] = "nameserver " + dnsServer
			replaced = true
			break
		}
	}
	if !replaced {
		lines = append(lines, "nameserver "+dnsServer)
	}

	return writeResolvConf(strings.Join(lines, "\n"))
}

func (b *linuxBackend) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureBackup(); err != nil {
		return fmt.Errorf("dnsagent: backup resolv.conf: %w", err)
	}
	return writeResolvConf(string(b.backup))
}

func writeResolvConf(content string) error {
	tmp := resolvConfPath + ".srtmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("dnsagent: write temp resolv.conf: %w", err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(content); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, resolvConfPath)
}
