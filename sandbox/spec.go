// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"strconv"
	"strings"
)

// Spec defines one isolation context: what the sandboxed process may
// see, reach, and consume. Specs are immutable once resolved; Tighten
// returns a derived copy.
type Spec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// Inherit names a parent spec merged underneath this one by the
	// Loader. Empty for base specs.
	Inherit string `yaml:"inherit,omitempty"`

	// Filesystem is the ordered list of mounts visible inside the
	// sandbox. Nothing outside this list is reachable.
	Filesystem []Mount `yaml:"filesystem,omitempty"`

	// Network is the ordered egress rule list, first match wins. An
	// empty list (or one with no allow rule) runs the sandbox with
	// the network namespace unshared.
	Network []NetworkRule `yaml:"network,omitempty"`

	// Resources are the cgroup limits applied via a systemd scope.
	Resources ResourceConfig `yaml:"resources,omitempty"`

	// WallTimeSeconds is the execution deadline. Zero means the
	// executor's default ceiling applies.
	WallTimeSeconds int `yaml:"wall_time_seconds,omitempty"`

	// Environment is the variable set inside the sandbox. The host
	// environment is always cleared first.
	Environment map[string]string `yaml:"environment,omitempty"`

	// CreateDirs lists directories created inside the sandbox before
	// the command runs.
	CreateDirs []string `yaml:"create_dirs,omitempty"`
}

// Mount defines a filesystem mount in the sandbox.
type Mount struct {
	Source   string `yaml:"source,omitempty"`
	Dest     string `yaml:"dest"`
	Mode     string `yaml:"mode,omitempty"`
	Type     string `yaml:"type,omitempty"`
	Optional bool   `yaml:"optional,omitempty"`
}

// MountType constants for the Type field.
const (
	MountTypeBind  = ""      // Default: bind mount
	MountTypeTmpfs = "tmpfs" // tmpfs mount
	MountTypeProc  = "proc"  // /proc
	MountTypeDev   = "dev"   // /dev (minimal)
)

// MountMode constants for the Mode field.
const (
	MountModeRO = "ro" // Read-only
	MountModeRW = "rw" // Read-write
)

// NetworkRule is one ordered egress rule. Host is a pattern: exact
// ("api.example.com"), suffix ("*.example.com"), or universal ("*").
// Ports is "low-high", a single port, or empty for all ports.
type NetworkRule struct {
	Host  string `yaml:"host"`
	Ports string `yaml:"ports,omitempty"`
	Allow bool   `yaml:"allow"`
}

// ResourceConfig defines resource limits via systemd scopes.
type ResourceConfig struct {
	// TasksMax caps the number of tasks (threads and subprocesses)
	// in the sandbox cgroup.
	TasksMax int `yaml:"tasks_max,omitempty"`

	// MemoryMax is a size string ("1G", "512M"); empty means no cap.
	MemoryMax string `yaml:"memory_max,omitempty"`

	// CPUQuota is a percentage string ("100%", "200%" for two cores).
	CPUQuota string `yaml:"cpu_quota,omitempty"`
}

// HasLimits returns true if any resource limits are configured.
func (r ResourceConfig) HasLimits() bool {
	return r.TasksMax > 0 || r.MemoryMax != "" || r.CPUQuota != ""
}

// Clone creates a deep copy of the spec.
func (s *Spec) Clone() *Spec {
	clone := &Spec{
		Name:            s.Name,
		Description:     s.Description,
		Inherit:         s.Inherit,
		Resources:       s.Resources,
		WallTimeSeconds: s.WallTimeSeconds,
	}
	if s.Filesystem != nil {
		clone.Filesystem = make([]Mount, len(s.Filesystem))
		copy(clone.Filesystem, s.Filesystem)
	}
	if s.Network != nil {
		clone.Network = make([]NetworkRule, len(s.Network))
		copy(clone.Network, s.Network)
	}
	if s.CreateDirs != nil {
		clone.CreateDirs = make([]string, len(s.CreateDirs))
		copy(clone.CreateDirs, s.CreateDirs)
	}
	if s.Environment != nil {
		clone.Environment = make(map[string]string, len(s.Environment))
		for k, v := range s.Environment {
			clone.Environment[k] = v
		}
	}
	return clone
}

// mergeSpecs merges child settings into parent. Filesystem mounts
// merge by dest (child replaces, then appends); network rules from the
// child replace the parent's list wholesale because rule order is the
// semantics.
func mergeSpecs(parent, child *Spec) *Spec {
	result := parent.Clone()
	result.Name = child.Name
	result.Inherit = ""

	if child.Description != "" {
		result.Description = child.Description
	}

	if len(child.Filesystem) > 0 {
		byDest := make(map[string]int, len(result.Filesystem))
		for i, mount := range result.Filesystem {
			byDest[mount.Dest] = i
		}
		for _, mount := range child.Filesystem {
			if i, ok := byDest[mount.Dest]; ok {
				result.Filesystem[i] = mount
			} else {
				result.Filesystem = append(result.Filesystem, mount)
			}
		}
	}

	if child.Network != nil {
		result.Network = make([]NetworkRule, len(child.Network))
		copy(result.Network, child.Network)
	}

	if child.Resources.TasksMax > 0 {
		result.Resources.TasksMax = child.Resources.TasksMax
	}
	if child.Resources.MemoryMax != "" {
		result.Resources.MemoryMax = child.Resources.MemoryMax
	}
	if child.Resources.CPUQuota != "" {
		result.Resources.CPUQuota = child.Resources.CPUQuota
	}
	if child.WallTimeSeconds > 0 {
		result.WallTimeSeconds = child.WallTimeSeconds
	}

	for _, dir := range child.CreateDirs {
		result.CreateDirs = append(result.CreateDirs, dir)
	}
	if child.Environment != nil {
		if result.Environment == nil {
			result.Environment = make(map[string]string, len(child.Environment))
		}
		for k, v := range child.Environment {
			result.Environment[k] = v
		}
	}
	return result
}

// Tighten returns a copy of the spec with the given caps applied where
// they are stricter than the spec's own. Zero arguments leave the
// corresponding dimension alone. This is the only direction token
// constraints can move a preset.
func (s *Spec) Tighten(wallTimeSeconds, maxTasks int) *Spec {
	tightened := s.Clone()
	if wallTimeSeconds > 0 && (tightened.WallTimeSeconds == 0 || wallTimeSeconds < tightened.WallTimeSeconds) {
		tightened.WallTimeSeconds = wallTimeSeconds
	}
	if maxTasks > 0 && (tightened.Resources.TasksMax == 0 || maxTasks < tightened.Resources.TasksMax) {
		tightened.Resources.TasksMax = maxTasks
	}
	return tightened
}

// NetworkIsolated reports whether the sandbox runs with the network
// namespace unshared: true unless at least one allow rule exists.
func (s *Spec) NetworkIsolated() bool {
	for _, rule := range s.Network {
		if rule.Allow {
			return false
		}
	}
	return true
}

// AllowsHost evaluates the ordered rule list for one egress target.
// First matching rule decides; no match means deny.
func (s *Spec) AllowsHost(host string, port int) bool {
	for _, rule := range s.Network {
		if !hostMatch(rule.Host, host) {
			continue
		}
		if !portMatch(rule.Ports, port) {
			continue
		}
		return rule.Allow
	}
	return false
}

// hostMatch matches a host pattern: "*" matches everything, "*.x.y"
// matches any subdomain of x.y (but not x.y itself), anything else is
// an exact comparison.
func hostMatch(pattern, host string) bool {
	if pattern == "*" {
		return true
	}
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return strings.HasSuffix(host, "."+suffix)
	}
	return pattern == host
}

// portMatch matches a ports expression: empty matches all, "80" one
// port, "8000-8999" an inclusive range. Malformed expressions match
// nothing.
func portMatch(expr string, port int) bool {
	if expr == "" {
		return true
	}
	if low, high, ok := strings.Cut(expr, "-"); ok {
		lo, err1 := strconv.Atoi(strings.TrimSpace(low))
		hi, err2 := strconv.Atoi(strings.TrimSpace(high))
		if err1 != nil || err2 != nil {
			return false
		}
		return port >= lo && port <= hi
	}
	n, err := strconv.Atoi(strings.TrimSpace(expr))
	if err != nil {
		return false
	}
	return port == n
}

// Validate checks the spec for configuration errors.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("sandbox: spec name is required")
	}
	for i, mount := range s.Filesystem {
		if mount.Dest == "" {
			return fmt.Errorf("sandbox: spec %q: filesystem[%d]: dest is required", s.Name, i)
		}
		if !strings.HasPrefix(mount.Dest, "/") {
			return fmt.Errorf("sandbox: spec %q: filesystem[%d]: dest %q is not absolute", s.Name, i, mount.Dest)
		}
		switch mount.Type {
		case MountTypeBind:
			if mount.Source == "" {
				return fmt.Errorf("sandbox: spec %q: filesystem[%d]: bind mount needs a source", s.Name, i)
			}
		case MountTypeTmpfs, MountTypeProc, MountTypeDev:
		default:
			return fmt.Errorf("sandbox: spec %q: filesystem[%d]: unknown mount type %q", s.Name, i, mount.Type)
		}
		switch mount.Mode {
		case "", MountModeRO, MountModeRW:
		default:
			return fmt.Errorf("sandbox: spec %q: filesystem[%d]: mode must be ro or rw, got %q", s.Name, i, mount.Mode)
		}
	}
	for i, rule := range s.Network {
		if rule.Host == "" {
			return fmt.Errorf("sandbox: spec %q: network[%d]: host is required", s.Name, i)
		}
		if rule.Ports != "" && !validPortExpr(rule.Ports) {
			return fmt.Errorf("sandbox: spec %q: network[%d]: invalid ports %q", s.Name, i, rule.Ports)
		}
	}
	if s.WallTimeSeconds < 0 {
		return fmt.Errorf("sandbox: spec %q: negative wall time", s.Name)
	}
	// Catch malformed limits here instead of at systemd-run time.
	if _, err := ParseMemoryLimit(s.Resources.MemoryMax); err != nil {
		return fmt.Errorf("sandbox: spec %q: %w", s.Name, err)
	}
	if _, err := ParseCPUQuota(s.Resources.CPUQuota); err != nil {
		return fmt.Errorf("sandbox: spec %q: %w", s.Name, err)
	}
	if s.Resources.TasksMax < 0 {
		return fmt.Errorf("sandbox: spec %q: negative tasks max", s.Name)
	}
	return nil
}

func validPortExpr(expr string) bool {
	check := func(v string) bool {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return err == nil && n > 0 && n <= 65535
	}
	if low, high, ok := strings.Cut(expr, "-"); ok {
		return check(low) && check(high)
	}
	return check(expr)
}
