// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"path"
	"strings"

	"github.com/warden-foundation/warden/lib/capability"
)

// DangerRule is one hard-coded deny pattern. These rules fire before
// token matching and cannot be overridden by any capability.
type DangerRule struct {
	// Substring is matched case-insensitively against the literal
	// command.
	Substring string

	// Description names what the pattern catches, for the audit trail.
	Description string
}

// dangerRules is the built-in command deny-list. Matching is substring
// based: crude on purpose — the sandbox is the real boundary, this
// list exists to fail obviously hostile commands fast and loudly.
var dangerRules = []DangerRule{
	{"rm -rf /", "recursive delete of a root path"},
	{"rm -fr /", "recursive delete of a root path"},
	{"rm -rf ~", "recursive delete of the home directory"},
	{":(){", "fork bomb"},
	{"dd if=/dev/zero", "disk overwrite"},
	{"mkfs.", "filesystem format"},
	{"> /dev/sd", "raw disk write"},
	{"of=/dev/sd", "raw disk write"},
	{"chmod 777 /", "world-writable root permission change"},
	{"eval $(", "dynamic code execution"},
}

// CheckCommand returns the first danger rule the command trips, if
// any. Two structural checks run in addition to the substring list:
// fetch-pipe-to-shell (curl or wget piped into a shell) and privilege
// escalation (sudo anywhere, su as the program word).
func CheckCommand(command string) (DangerRule, bool) {
	if command == "" {
		return DangerRule{}, false
	}

	lower := strings.ToLower(command)
	for _, rule := range dangerRules {
		if strings.Contains(lower, rule.Substring) {
			return rule, true
		}
	}

	if pipesFetchToShell(lower) {
		return DangerRule{Substring: "| sh", Description: "piped remote code execution"}, true
	}

	if strings.Contains(command, "sudo ") || strings.HasPrefix(strings.TrimSpace(command), "su ") {
		return DangerRule{Substring: "sudo", Description: "privilege escalation"}, true
	}

	return DangerRule{}, false
}

// pipesFetchToShell reports whether the command downloads with curl or
// wget and pipes the result into a shell, regardless of the fetcher's
// arguments. The command must already be lowercased.
func pipesFetchToShell(lower string) bool {
	stages := strings.Split(lower, "|")
	if len(stages) < 2 {
		return false
	}

	fetched := false
	for _, stage := range stages {
		fields := strings.Fields(stage)
		if len(fields) == 0 {
			continue
		}
		program := path.Base(fields[0])
		if fetched {
			switch program {
			case "sh", "bash", "zsh", "dash":
				return true
			}
		}
		if program == "curl" || program == "wget" {
			fetched = true
		}
	}
	return false
}

// CheckResource applies the danger rules that key on the target
// resource rather than the command: direct access to raw device nodes
// is denied for every action kind except read of the standard
// pseudo-devices.
func CheckResource(resource string, action capability.Action) (DangerRule, bool) {
	const devPrefix = "file:///dev/"
	if !strings.HasPrefix(resource, devPrefix) {
		return DangerRule{}, false
	}

	// /dev/null, /dev/zero, /dev/urandom reads are harmless and
	// common in tool pipelines.
	if action == capability.ActionRead {
		switch strings.TrimPrefix(resource, devPrefix) {
		case "null", "zero", "urandom", "random":
			return DangerRule{}, false
		}
	}

	return DangerRule{Substring: devPrefix, Description: "raw device access"}, true
}
