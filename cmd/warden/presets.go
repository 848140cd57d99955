// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/warden-foundation/warden/sandbox"
)

// presetsCmd lists the available sandbox presets, or shows one fully
// resolved when a name is given.
func presetsCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("presets", pflag.ExitOnError)
	file := fs.String("file", "", "preset file merged over the built-ins")
	if err := fs.Parse(args); err != nil {
		return err
	}

	loader, err := sandbox.NewLoader(logger)
	if err != nil {
		return err
	}
	if *file != "" {
		if err := loader.LoadFile(*file); err != nil {
			return err
		}
	}

	names := fs.Args()
	if len(names) == 0 {
		fmt.Println("Available presets:")
		for _, name := range loader.List() {
			spec, err := loader.Resolve(name)
			if err != nil {
				fmt.Printf("  %s (error: %v)\n", name, err)
				continue
			}
			fmt.Printf("  %s - %s\n", name, spec.Description)
		}
		return nil
	}

	for _, name := range names {
		spec, err := loader.Resolve(name)
		if err != nil {
			return err
		}
		printSpec(spec)
	}
	return nil
}

func printSpec(spec *sandbox.Spec) {
	fmt.Printf("Preset: %s\n", spec.Name)
	if spec.Description != "" {
		fmt.Printf("Description: %s\n", spec.Description)
	}
	fmt.Println()

	fmt.Println("Resources:")
	if spec.Resources.TasksMax > 0 {
		fmt.Printf("  Tasks Max: %d\n", spec.Resources.TasksMax)
	} else {
		fmt.Printf("  Tasks Max: unlimited\n")
	}
	if spec.Resources.MemoryMax != "" {
		fmt.Printf("  Memory Max: %s\n", spec.Resources.MemoryMax)
	} else {
		fmt.Printf("  Memory Max: unlimited\n")
	}
	if spec.Resources.CPUQuota != "" {
		fmt.Printf("  CPU Quota: %s\n", spec.Resources.CPUQuota)
	} else {
		fmt.Printf("  CPU Quota: unlimited\n")
	}
	if spec.WallTimeSeconds > 0 {
		fmt.Printf("  Wall Time: %ds\n", spec.WallTimeSeconds)
	}
	fmt.Println()

	fmt.Println("Filesystem:")
	for _, mount := range spec.Filesystem {
		mode := mount.Mode
		if mode == "" {
			mode = "rw"
		}
		optional := ""
		if mount.Optional {
			optional = " (optional)"
		}
		if mount.Type == "" {
			fmt.Printf("  %s -> %s [%s]%s\n", mount.Source, mount.Dest, mode, optional)
		} else {
			fmt.Printf("  %s at %s%s\n", mount.Type, mount.Dest, optional)
		}
	}
	fmt.Println()

	if spec.NetworkIsolated() {
		fmt.Println("Network: isolated (namespace unshared)")
	} else {
		fmt.Println("Network rules (first match wins):")
		for _, rule := range spec.Network {
			verdict := "deny"
			if rule.Allow {
				verdict = "allow"
			}
			ports := rule.Ports
			if ports == "" {
				ports = "*"
			}
			fmt.Printf("  %s %s ports %s\n", verdict, rule.Host, ports)
		}
	}

	if len(spec.Environment) > 0 {
		fmt.Println()
		fmt.Println("Environment:")
		for key, value := range spec.Environment {
			fmt.Printf("  %s=%s\n", key, value)
		}
	}
	fmt.Println()
}
