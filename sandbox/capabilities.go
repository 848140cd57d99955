// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ErrUnavailable is returned when the host lacks the isolation
// primitives an execution needs. The failure is scoped to the action:
// nothing falls back to running unisolated.
var ErrUnavailable = errors.New("sandbox: isolation unavailable")

// HostCapabilities describes what sandbox features this host supports.
type HostCapabilities struct {
	// BwrapAvailable is true if bubblewrap is installed.
	BwrapAvailable bool

	// BwrapPath is the path to bwrap if available.
	BwrapPath string

	// BwrapVersion is the bwrap version string.
	BwrapVersion string

	// UserNamespacesEnabled is true if unprivileged user namespaces
	// work.
	UserNamespacesEnabled bool

	// SystemdRunAvailable is true if systemd-run is available.
	SystemdRunAvailable bool

	// SystemdUserScopesWork is true if user scopes can be created.
	SystemdUserScopesWork bool
}

// Probe checks what sandbox features are available on this host.
func Probe() *HostCapabilities {
	caps := &HostCapabilities{}

	if path, err := BwrapPath(); err == nil {
		caps.BwrapAvailable = true
		caps.BwrapPath = path
		if out, err := exec.Command(path, "--version").Output(); err == nil {
			caps.BwrapVersion = strings.TrimSpace(string(out))
		}
	}

	caps.UserNamespacesEnabled = checkUserNamespaces()

	if _, err := exec.LookPath("systemd-run"); err == nil {
		caps.SystemdRunAvailable = true
		cmd := exec.Command("systemd-run", "--user", "--scope", "--collect", "--quiet", "--", "true")
		if err := cmd.Run(); err == nil {
			caps.SystemdUserScopesWork = true
		}
	}

	return caps
}

// CanExecute returns nil if basic sandbox execution is possible, or an
// error wrapping ErrUnavailable naming what is missing.
func (c *HostCapabilities) CanExecute() error {
	if !c.BwrapAvailable {
		return fmt.Errorf("%w: bubblewrap not installed", ErrUnavailable)
	}
	if !c.UserNamespacesEnabled {
		return fmt.Errorf("%w: unprivileged user namespaces not enabled (set kernel.unprivileged_userns_clone=1)", ErrUnavailable)
	}
	return nil
}

// checkUserNamespaces tests whether unprivileged user namespaces work.
func checkUserNamespaces() bool {
	data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	if err == nil && strings.TrimSpace(string(data)) == "0" {
		return false
	}
	// File not existing usually means userns is allowed; confirm by
	// actually creating one.
	bwrapPath, err := BwrapPath()
	if err != nil {
		return false
	}
	cmd := exec.Command(bwrapPath,
		"--unshare-user",
		"--ro-bind", "/", "/",
		"--",
		"true",
	)
	return cmd.Run() == nil
}
