//go:build windows

package dnsagent

import (
	"bytes"
	"fmt"
	"os/exec"
	"sync"

	"golang.org/x/sys/windows/registry"
)

const (
	wanInterface       = "WAN"
	secondaryInterface = "StoneRidge"
	tcpipParamsKey     = `SYSTEM\CurrentControlSet\Services\Tcpip\Parameters`
	searchListValue    = "SearchList"
)

// windowsBackend disables the WAN interface and points a dedicated
// secondary interface's DNS at the configured server, per §4.9's Windows
// notes. The search-suffix registry value is saved once per daemon
// lifetime and restored on Reset.
type windowsBackend struct {
	mu             sync.Mutex
	savedOnce      sync.Once
	savedSearch    string
	savedSearchSet bool
	saveErr        error
}

func newPlatformBackend() (Backend, error) {
	return &windowsBackend{}, nil
}

func (b *windowsBackend) ensureSaved() error {
	b.savedOnce.Do(func() {
		key, err := registry.OpenKey(registry.LOCAL_MACHINE, tcpipParamsKey, registry.QUERY_VALUE)
		if err != nil {
			b.saveErr = fmt.Errorf("open tcpip parameters key: %w", err)
			return
		}
		defer key.Close()

		val, _, err := key.GetStringValue(searchListValue)
		if err == nil {
			b.savedSearch = val
			b.savedSearchSet = true
		}
	})
	return b.saveErr
}

func (b *windowsBackend) Set(dnsServer string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureSaved(); err != nil {
		return fmt.Errorf("dnsagent: %w", err)
	}

	if err := runNetsh("interface", "set", "interface", wanInterface, "admin=disabled"); err != nil {
		return fmt.Errorf("dnsagent: disable wan interface: %w", err)
	}

	if err := clearSearchList(); err != nil {
		return fmt.Errorf("dnsagent: clear dns search suffix: %w", err)
	}

	if err := runNetsh("interface", "ip", "set", "dns", secondaryInterface, "static", dnsServer); err != nil {
		return fmt.Errorf("dnsagent: set secondary interface dns: %w", err)
	}
	return nil
}

func (b *windowsBackend) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureSaved(); err != nil {
		return fmt.Errorf("dnsagent: %w", err)
	}

	if b.savedSearchSet {
		if err := restoreSearchList(b.savedSearch); err != nil {
			return fmt.Errorf("dnsagent: restore dns search suffix: %w", err)
		}
	}

	if err := runNetsh("interface", "set", "interface", wanInterface, "admin=enabled"); err != nil {
		return fmt.Errorf("dnsagent: re-enable wan interface: %w", err)
	}
	return nil
}

func clearSearchList() error {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, tcpipParamsKey, registry.SET_VALUE)
	if err != nil {
		return err
	}
	defer key.Close()
	return key.SetStringValue(searchListValue, "")
}

func restoreSearchList(value string) error {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, tcpipParamsKey, registry.SET_VALUE)
	if err != nil {
		return err
	}
	defer key.Close()
	return key.SetStringValue(searchListValue, value)
}

func runNetsh(args ...string) error {
	var out bytes.Buffer
	cmd := exec.Command("netsh", args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, out.String())
	}
	return nil
}
