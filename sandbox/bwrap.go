// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"sort"
)

// sourceWorkdir is the placeholder a mount source uses to refer to the
// action's working directory, substituted at build time.
const sourceWorkdir = "${WORKDIR}"

// markerEnv is set inside every sandbox so tools can detect isolation.
const markerEnv = "WARDEN_SANDBOX"

// BwrapOptions holds options for building a bwrap command line.
type BwrapOptions struct {
	// Spec is the resolved (and token-tightened) spec to apply.
	Spec *Spec

	// Workdir is the host directory mounted where the spec's
	// ${WORKDIR} mounts point.
	Workdir string

	// Command is the command to run inside the sandbox.
	Command []string
}

// BwrapBuilder builds bubblewrap command-line arguments.
type BwrapBuilder struct {
	args []string
}

// NewBwrapBuilder creates a new builder.
func NewBwrapBuilder() *BwrapBuilder {
	return &BwrapBuilder{}
}

// Build constructs the bwrap arguments from options. The result is
// everything after the bwrap executable path.
func (b *BwrapBuilder) Build(opts *BwrapOptions) ([]string, error) {
	if opts.Spec == nil {
		return nil, fmt.Errorf("sandbox: spec is required")
	}
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("sandbox: command is required")
	}

	b.args = b.args[:0]

	// Namespaces. PID, IPC, UTS, cgroup, and user namespaces are
	// always unshared; the network namespace only when no egress
	// rule allows anything.
	b.args = append(b.args,
		"--unshare-pid",
		"--unshare-ipc",
		"--unshare-uts",
		"--unshare-cgroup",
		"--unshare-user",
	)
	if opts.Spec.NetworkIsolated() {
		b.args = append(b.args, "--unshare-net")
	}

	b.args = append(b.args, "--new-session", "--die-with-parent")

	// /proc and a minimal /dev are always present; programs need them.
	b.args = append(b.args, "--proc", "/proc", "--dev", "/dev")

	if err := b.addMounts(opts.Spec, opts.Workdir); err != nil {
		return nil, err
	}

	for _, dir := range opts.Spec.CreateDirs {
		b.args = append(b.args, "--dir", dir)
	}

	// The host environment never leaks in.
	b.args = append(b.args, "--clearenv")

	env := make(map[string]string, len(opts.Spec.Environment)+1)
	for key, value := range opts.Spec.Environment {
		env[key] = value
	}
	env[markerEnv] = "1"

	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		b.args = append(b.args, "--setenv", key, env[key])
	}

	b.args = append(b.args, "--")
	b.args = append(b.args, opts.Command...)
	return b.args, nil
}

// addMounts translates the spec's filesystem view into bwrap flags, in
// declaration order.
func (b *BwrapBuilder) addMounts(spec *Spec, workdir string) error {
	for _, mount := range spec.Filesystem {
		source := mount.Source
		if source == sourceWorkdir {
			if workdir == "" {
				return fmt.Errorf("sandbox: spec %q mounts %s but no workdir given", spec.Name, sourceWorkdir)
			}
			source = workdir
		}

		switch mount.Type {
		case MountTypeTmpfs:
			b.args = append(b.args, "--tmpfs", mount.Dest)

		case MountTypeProc:
			b.args = append(b.args, "--proc", mount.Dest)

		case MountTypeDev:
			b.args = append(b.args, "--dev", mount.Dest)

		default: // bind
			if mount.Optional {
				if _, err := os.Stat(source); os.IsNotExist(err) {
					continue
				}
			}
			if mount.Mode == MountModeRW {
				b.args = append(b.args, "--bind", source, mount.Dest)
			} else {
				// Read-only unless asked for otherwise.
				b.args = append(b.args, "--ro-bind", source, mount.Dest)
			}
		}
	}
	return nil
}

// BwrapPath returns the path to the bwrap executable.
func BwrapPath() (string, error) {
	paths := []string{
		"/usr/bin/bwrap",
		"/usr/local/bin/bwrap",
		"/bin/bwrap",
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("sandbox: bwrap not found in standard locations")
}
