// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// specsFile is the YAML document shape for preset files.
type specsFile struct {
	Presets map[string]*Spec `yaml:"presets"`
}

// defaultPresetsYAML is the built-in preset set. Ceilings on the
// unrestricted preset are crash-safety bounds, generous enough that a
// well-behaved action never notices them.
const defaultPresetsYAML = `
presets:
  unrestricted:
    description: Trusted actions; ceilings exist only for crash safety.
    filesystem:
      - source: ${WORKDIR}
        dest: /workspace
        mode: rw
      - source: /usr
        dest: /usr
        mode: ro
      - source: /bin
        dest: /bin
        mode: ro
        optional: true
      - source: /lib
        dest: /lib
        mode: ro
        optional: true
      - source: /lib64
        dest: /lib64
        mode: ro
        optional: true
      - source: /etc/resolv.conf
        dest: /etc/resolv.conf
        mode: ro
        optional: true
      - source: /etc/ssl
        dest: /etc/ssl
        mode: ro
        optional: true
      - dest: /tmp
        type: tmpfs
    network:
      - host: "*"
        allow: true
    resources:
      tasks_max: 512
      memory_max: 8G
      cpu_quota: 800%
    wall_time_seconds: 3600
    environment:
      PATH: /usr/local/bin:/usr/bin:/bin
      HOME: /workspace

  standard:
    description: Default for agent tool actions.
    inherit: unrestricted
    network:
      - host: "169.254.169.254"
        allow: false
      - host: "*"
        ports: "80"
        allow: true
      - host: "*"
        ports: "443"
        allow: true
    resources:
      tasks_max: 64
      memory_max: 1G
      cpu_quota: 100%
    wall_time_seconds: 300

  strict:
    description: Untrusted actions; no network, no subprocesses.
    inherit: standard
    network: []
    resources:
      tasks_max: 1
      memory_max: 256M
      cpu_quota: 50%
    wall_time_seconds: 30
`

// Loader loads and resolves sandbox spec presets. Later-loaded files
// override earlier ones by preset name; inheritance resolves through
// whatever set is loaded at Resolve time.
type Loader struct {
	files    []*specsFile
	resolved map[string]*Spec
	logger   *slog.Logger
}

// NewLoader creates a loader with the built-in presets already loaded.
func NewLoader(logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	l := &Loader{
		resolved: make(map[string]*Spec),
		logger:   logger,
	}

	file, err := parseSpecsFile([]byte(defaultPresetsYAML))
	if err != nil {
		return nil, fmt.Errorf("sandbox: built-in presets do not parse: %w", err)
	}
	l.files = append(l.files, file)
	return l, nil
}

// LoadFile loads presets from a YAML file, overriding built-ins of the
// same name.
func (l *Loader) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("sandbox: reading presets file: %w", err)
	}
	file, err := parseSpecsFile(data)
	if err != nil {
		return fmt.Errorf("sandbox: %s: %w", path, err)
	}
	l.files = append(l.files, file)
	l.resolved = make(map[string]*Spec)
	l.logger.Info("sandbox presets loaded", "path", path, "count", len(file.Presets))
	return nil
}

// LoadDirectory loads every .yaml/.yml file in a directory. A missing
// directory is not an error.
func (l *Loader) LoadDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("sandbox: reading presets directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml":
			if err := l.LoadFile(filepath.Join(dir, entry.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// Resolve returns the named preset with inheritance applied and the
// result validated.
func (l *Loader) Resolve(name string) (*Spec, error) {
	return l.resolve(name, nil)
}

func (l *Loader) resolve(name string, chain []string) (*Spec, error) {
	if spec, ok := l.resolved[name]; ok {
		return spec, nil
	}
	for _, seen := range chain {
		if seen == name {
			return nil, fmt.Errorf("sandbox: preset inheritance cycle through %q", name)
		}
	}

	var base *Spec
	for _, file := range l.files {
		if spec, ok := file.Presets[name]; ok {
			base = spec
		}
	}
	if base == nil {
		return nil, fmt.Errorf("sandbox: preset not found: %s", name)
	}

	var spec *Spec
	if base.Inherit != "" {
		parent, err := l.resolve(base.Inherit, append(chain, name))
		if err != nil {
			return nil, fmt.Errorf("sandbox: resolving parent of %q: %w", name, err)
		}
		spec = mergeSpecs(parent, base)
	} else {
		spec = base.Clone()
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	l.resolved[name] = spec
	return spec, nil
}

// List returns all available preset names, sorted.
func (l *Loader) List() []string {
	names := make(map[string]bool)
	for _, file := range l.files {
		for name := range file.Presets {
			names[name] = true
		}
	}
	result := make([]string, 0, len(names))
	for name := range names {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

func parseSpecsFile(data []byte) (*specsFile, error) {
	var file specsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing presets: %w", err)
	}
	for name, spec := range file.Presets {
		if spec == nil {
			return nil, fmt.Errorf("preset %q is empty", name)
		}
		spec.Name = name
	}
	return &file, nil
}
