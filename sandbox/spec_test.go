// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoaderBuiltinPresets(t *testing.T) {
	loader, err := NewLoader(nil)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}

	names := loader.List()
	for _, want := range []string{"strict", "standard", "unrestricted"} {
		found := false
		for _, name := range names {
			if name == want {
				found = true
			}
		}
		if !found {
			t.Errorf("built-in preset %q missing from %v", want, names)
		}
	}

	standard, err := loader.Resolve("standard")
	if err != nil {
		t.Fatalf("Resolve(standard): %v", err)
	}
	// Inherits the unrestricted filesystem but carries its own limits.
	if len(standard.Filesystem) == 0 {
		t.Error("standard preset inherited no filesystem mounts")
	}
	if standard.Resources.TasksMax != 64 {
		t.Errorf("standard TasksMax = %d, want 64", standard.Resources.TasksMax)
	}
	if standard.WallTimeSeconds != 300 {
		t.Errorf("standard wall time = %d, want 300", standard.WallTimeSeconds)
	}
	if standard.NetworkIsolated() {
		t.Error("standard preset has no network access")
	}
	if standard.AllowsHost("169.254.169.254", 80) {
		t.Error("standard preset reaches the cloud metadata endpoint")
	}
	if !standard.AllowsHost("api.example.com", 443) {
		t.Error("standard preset cannot reach HTTPS")
	}
	if standard.AllowsHost("api.example.com", 22) {
		t.Error("standard preset reaches SSH ports")
	}

	strict, err := loader.Resolve("strict")
	if err != nil {
		t.Fatalf("Resolve(strict): %v", err)
	}
	if !strict.NetworkIsolated() {
		t.Error("strict preset has network access")
	}
	if strict.Resources.TasksMax != 1 {
		t.Errorf("strict TasksMax = %d, want 1", strict.Resources.TasksMax)
	}

	if _, err := loader.Resolve("no-such-preset"); err == nil {
		t.Error("Resolve of unknown preset succeeded")
	}
}

func TestLoaderFileOverride(t *testing.T) {
	loader, err := NewLoader(nil)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}

	path := filepath.Join(t.TempDir(), "presets.yaml")
	doc := `
presets:
  standard:
    inherit: unrestricted
    wall_time_seconds: 120
  build:
    inherit: standard
    resources:
      memory_max: 4G
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := loader.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	standard, err := loader.Resolve("standard")
	if err != nil {
		t.Fatalf("Resolve(standard): %v", err)
	}
	if standard.WallTimeSeconds != 120 {
		t.Errorf("overridden wall time = %d, want 120", standard.WallTimeSeconds)
	}

	build, err := loader.Resolve("build")
	if err != nil {
		t.Fatalf("Resolve(build): %v", err)
	}
	if build.Resources.MemoryMax != "4G" {
		t.Errorf("build MemoryMax = %q, want 4G", build.Resources.MemoryMax)
	}
	if build.WallTimeSeconds != 120 {
		t.Errorf("build inherited wall time = %d, want 120", build.WallTimeSeconds)
	}
}

func TestLoaderInheritanceCycle(t *testing.T) {
	loader, err := NewLoader(nil)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}

	path := filepath.Join(t.TempDir(), "cycle.yaml")
	doc := `
presets:
  a:
    inherit: b
  b:
    inherit: a
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := loader.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if _, err := loader.Resolve("a"); err == nil {
		t.Error("Resolve of cyclic inheritance succeeded")
	}
}

func TestSpecTighten(t *testing.T) {
	spec := &Spec{
		Name:            "standard",
		WallTimeSeconds: 300,
		Resources:       ResourceConfig{TasksMax: 64},
	}

	tightened := spec.Tighten(30, 4)
	if tightened.WallTimeSeconds != 30 {
		t.Errorf("tightened wall time = %d, want 30", tightened.WallTimeSeconds)
	}
	if tightened.Resources.TasksMax != 4 {
		t.Errorf("tightened TasksMax = %d, want 4", tightened.Resources.TasksMax)
	}

	// Looser caps are ignored: constraints never widen a preset.
	loosened := spec.Tighten(600, 128)
	if loosened.WallTimeSeconds != 300 || loosened.Resources.TasksMax != 64 {
		t.Errorf("loosening applied: wall=%d tasks=%d", loosened.WallTimeSeconds, loosened.Resources.TasksMax)
	}

	// Zero caps leave the spec alone, and the original is untouched.
	same := spec.Tighten(0, 0)
	if same.WallTimeSeconds != 300 || same.Resources.TasksMax != 64 {
		t.Errorf("zero caps changed spec: %+v", same)
	}
	if spec.WallTimeSeconds != 300 {
		t.Error("Tighten mutated the receiver")
	}
}

func TestSpecAllowsHostOrdering(t *testing.T) {
	spec := &Spec{
		Name: "test",
		Network: []NetworkRule{
			{Host: "internal.example.com", Allow: false},
			{Host: "*.example.com", Ports: "443", Allow: true},
			{Host: "*", Allow: false},
		},
	}

	tests := []struct {
		host string
		port int
		want bool
	}{
		{"internal.example.com", 443, false}, // deny rule first
		{"api.example.com", 443, true},
		{"api.example.com", 80, false},  // port outside the allow rule
		{"example.com", 443, false},     // *.example.com excludes the apex
		{"other.host.net", 443, false},
	}

	for _, tt := range tests {
		if got := spec.AllowsHost(tt.host, tt.port); got != tt.want {
			t.Errorf("AllowsHost(%q, %d) = %v, want %v", tt.host, tt.port, got, tt.want)
		}
	}
}

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{
			name: "valid",
			spec: Spec{
				Name: "ok",
				Filesystem: []Mount{
					{Source: "/usr", Dest: "/usr", Mode: "ro"},
					{Dest: "/tmp", Type: "tmpfs"},
				},
				Network: []NetworkRule{{Host: "*", Ports: "80-443", Allow: true}},
			},
		},
		{name: "missing name", spec: Spec{}, wantErr: true},
		{
			name:    "bind without source",
			spec:    Spec{Name: "x", Filesystem: []Mount{{Dest: "/data"}}},
			wantErr: true,
		},
		{
			name:    "relative dest",
			spec:    Spec{Name: "x", Filesystem: []Mount{{Source: "/usr", Dest: "usr"}}},
			wantErr: true,
		},
		{
			name:    "unknown mount type",
			spec:    Spec{Name: "x", Filesystem: []Mount{{Dest: "/x", Type: "overlay"}}},
			wantErr: true,
		},
		{
			name:    "bad port range",
			spec:    Spec{Name: "x", Network: []NetworkRule{{Host: "*", Ports: "http"}}},
			wantErr: true,
		},
		{
			name:    "rule without host",
			spec:    Spec{Name: "x", Network: []NetworkRule{{Allow: true}}},
			wantErr: true,
		},
		{
			name: "well-formed limits",
			spec: Spec{Name: "x", Resources: ResourceConfig{MemoryMax: "2G", CPUQuota: "200%", TasksMax: 64}},
		},
		{
			name:    "malformed memory limit",
			spec:    Spec{Name: "x", Resources: ResourceConfig{MemoryMax: "plenty"}},
			wantErr: true,
		},
		{
			name:    "malformed cpu quota",
			spec:    Spec{Name: "x", Resources: ResourceConfig{CPUQuota: "fast"}},
			wantErr: true,
		},
		{
			name:    "negative tasks max",
			spec:    Spec{Name: "x", Resources: ResourceConfig{TasksMax: -1}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
