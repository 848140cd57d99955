// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/warden-foundation/warden/lib/audit"
	"github.com/warden-foundation/warden/lib/capability"
	"github.com/warden-foundation/warden/lib/guard"
	"github.com/warden-foundation/warden/lib/policy"
	"github.com/warden-foundation/warden/sandbox"
)

const versionString = "0.1.0-dev"

// Exit codes for exec outcomes, matching the GNU timeout convention
// for timeouts and the shell convention for permission failures.
const (
	exitDenied    = 126
	exitTimedOut  = 124
	exitCancelled = 130
)

// exitCodeError carries a specific process exit code through the error
// return path.
type exitCodeError int

func (e exitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", int(e))
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logLevel := slog.LevelWarn
	if os.Getenv("WARDEN_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "grant":
		err = grantCmd(args)
	case "check":
		err = checkCmd(args, logger)
	case "exec":
		err = execCmd(args, logger)
	case "audit":
		err = auditCmd(args, logger)
	case "presets":
		err = presetsCmd(args, logger)
	case "version", "--version", "-v":
		fmt.Printf("warden %s\n", versionString)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		var code exitCodeError
		if errors.As(err, &code) {
			os.Exit(int(code))
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`warden - Capability-checked sandboxed execution for agents

USAGE
    warden <command> [flags] [-- <args>...]

COMMANDS
    grant    Compose and print a capability literal
    check    Evaluate a request against a token file
    exec     Check, then run a command in the sandbox
    audit    Query, summarize, or export the audit trail
    presets  List or show sandbox presets
    version  Show version

EXAMPLES
    # Compose a capability literal
    warden grant --resource='exec://build/**' --actions=execute --timeout=60

    # Check a request against granted tokens
    warden check --tokens=tokens.yaml --agent=worker-1 \
        --resource=exec://build/compile --action=execute

    # Run a command under the standard preset
    warden exec --tokens=tokens.yaml --agent=worker-1 \
        --resource=exec://build/compile --workdir=. -- make all

ENVIRONMENT
    WARDEN_DEBUG  Enable debug logging
`)
}

// grantCmd composes a capability literal from flags, validating it
// through a real grant so malformed input fails the same way it would
// at runtime.
func grantCmd(args []string) error {
	fs := pflag.NewFlagSet("grant", pflag.ExitOnError)
	resource := fs.String("resource", "", "resource pattern (scheme://path, required)")
	actions := fs.StringSlice("actions", nil, "action list (read,write,execute,request,spawn)")
	timeout := fs.Int("timeout", 0, "timeout_seconds constraint")
	rate := fs.Int("rate", 0, "rate_per_minute constraint")
	maxChildren := fs.Int("max-children", 0, "max_children constraint")
	allowlist := fs.StringSlice("allowlist", nil, "allowed program names")
	trust := fs.String("trust", "", "print a built-in default set (minimal, basic, standard, full) instead")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *trust != "" {
		templates, err := capability.DefaultCapabilities(capability.TrustLevel(*trust))
		if err != nil {
			return err
		}
		for i := range templates {
			fmt.Println(templates[i].Literal())
		}
		return nil
	}

	if *resource == "" || len(*actions) == 0 {
		fs.Usage()
		return fmt.Errorf("--resource and --actions are required")
	}

	parsed := make([]capability.Action, 0, len(*actions))
	for _, name := range *actions {
		action, err := capability.ParseAction(strings.TrimSpace(name))
		if err != nil {
			return err
		}
		parsed = append(parsed, action)
	}

	manager, err := capability.NewManager(capability.ManagerConfig{
		Evaluator: policy.NewEvaluator(policy.DefaultRules()),
	})
	if err != nil {
		return err
	}
	id, err := manager.Grant("cli", *resource, parsed, capability.Constraints{
		TimeoutSeconds: *timeout,
		RatePerMinute:  *rate,
		MaxChildren:    *maxChildren,
		Allowlist:      *allowlist,
	})
	if err != nil {
		return err
	}

	token, ok := manager.Store().Get(id, time.Now())
	if !ok {
		return fmt.Errorf("granted token vanished")
	}
	fmt.Println(token.Literal())
	return nil
}

// checkCmd evaluates one request against the tokens in a token file
// and prints the verdict. Denials exit with the denied code so shell
// scripts can branch on the result.
func checkCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("check", pflag.ExitOnError)
	tokensPath := fs.String("tokens", "", "token file (required)")
	rulesPath := fs.String("rules", "", "policy rule file (built-in rules when empty)")
	agentID := fs.String("agent", "", "requesting agent (required)")
	resource := fs.String("resource", "", "target resource URI (required)")
	actionName := fs.String("action", "", "action kind (required)")
	command := fs.String("command", "", "command line, for danger and allowlist checks")
	timeout := fs.Int("timeout", 0, "declared timeout in seconds")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *tokensPath == "" || *agentID == "" || *resource == "" || *actionName == "" {
		fs.Usage()
		return fmt.Errorf("--tokens, --agent, --resource, and --action are required")
	}

	action, err := capability.ParseAction(*actionName)
	if err != nil {
		return err
	}

	manager, _, err := buildManager(*tokensPath, *rulesPath, logger)
	if err != nil {
		return err
	}

	decision := manager.Check(capability.Request{
		AgentID:        *agentID,
		Resource:       *resource,
		Action:         action,
		Command:        *command,
		TimeoutSeconds: *timeout,
	})
	if decision.Allow {
		fmt.Printf("allow token=%s\n", decision.TokenID)
		return nil
	}
	if decision.Detail != "" {
		fmt.Printf("deny reason=%s detail=%q\n", decision.Reason, decision.Detail)
	} else {
		fmt.Printf("deny reason=%s\n", decision.Reason)
	}
	return exitCodeError(exitDenied)
}

// execCmd checks the request and, if allowed, runs the command in the
// sandbox with the audit trail recording both the decision and the
// outcome. The process exit code follows the sandboxed command.
func execCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("exec", pflag.ExitOnError)
	tokensPath := fs.String("tokens", "", "token file (required)")
	rulesPath := fs.String("rules", "", "policy rule file (built-in rules when empty)")
	auditPath := fs.String("audit-db", "warden-audit.db", "audit database path")
	presetsPath := fs.String("presets", "", "sandbox preset file (built-in presets when empty)")
	agentID := fs.String("agent", "", "requesting agent (required)")
	resource := fs.String("resource", "", "target resource URI (required)")
	preset := fs.String("preset", "", "sandbox preset name (default standard)")
	workdir := fs.String("workdir", "", "workspace directory mounted in the sandbox (required)")
	timeout := fs.Int("timeout", 0, "declared timeout in seconds")
	if err := fs.Parse(args); err != nil {
		return err
	}

	command := fs.Args()
	if len(command) == 0 {
		return fmt.Errorf("command is required after --")
	}
	if *tokensPath == "" || *agentID == "" || *resource == "" || *workdir == "" {
		fs.Usage()
		return fmt.Errorf("--tokens, --agent, --resource, and --workdir are required")
	}

	manager, _, err := buildManager(*tokensPath, *rulesPath, logger)
	if err != nil {
		return err
	}

	store, err := audit.Open(audit.StoreConfig{Path: *auditPath, Logger: logger})
	if err != nil {
		return err
	}
	defer store.Close()

	loader, err := sandbox.NewLoader(logger)
	if err != nil {
		return err
	}
	if *presetsPath != "" {
		if err := loader.LoadFile(*presetsPath); err != nil {
			return err
		}
	}

	g, err := guard.New(guard.Config{
		Manager: manager,
		Audit:   store,
		Runner:  sandbox.NewExecutor(sandbox.ExecutorConfig{Logger: logger}),
		Presets: loader,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := g.Recover(ctx); err != nil {
		return err
	}

	result, err := g.AuthorizeAndExecute(ctx, guard.ActionRequest{
		AgentID:        *agentID,
		Action:         capability.ActionExecute,
		Resource:       *resource,
		Command:        command,
		Workdir:        *workdir,
		TimeoutSeconds: *timeout,
		Preset:         *preset,
		Stdin:          os.Stdin,
	})
	if err != nil {
		return err
	}
	if !result.Allowed {
		if result.Decision.Detail != "" {
			fmt.Fprintf(os.Stderr, "denied: %s (%s)\n", result.Decision.Reason, result.Decision.Detail)
		} else {
			fmt.Fprintf(os.Stderr, "denied: %s\n", result.Decision.Reason)
		}
		return exitCodeError(exitDenied)
	}

	outcome := result.Outcome
	os.Stdout.Write(outcome.Stdout)
	os.Stderr.Write(outcome.Stderr)
	if outcome.Truncated {
		fmt.Fprintln(os.Stderr, "warden: output truncated")
	}

	switch outcome.Status {
	case sandbox.StatusTimedOut:
		fmt.Fprintf(os.Stderr, "warden: timed out after %s\n", outcome.Duration)
		return exitCodeError(exitTimedOut)
	case sandbox.StatusCancelled:
		return exitCodeError(exitCancelled)
	}
	if outcome.ExitCode != 0 {
		return exitCodeError(outcome.ExitCode)
	}
	return nil
}

// buildManager loads policy rules and grants the token file into a
// fresh manager.
func buildManager(tokensPath, rulesPath string, logger *slog.Logger) (*capability.Manager, map[string]capability.TokenID, error) {
	rules := policy.DefaultRules()
	if rulesPath != "" {
		loaded, err := policy.LoadRules(rulesPath)
		if err != nil {
			return nil, nil, err
		}
		// First match wins, so file rules take precedence over the
		// built-in set.
		rules = append(loaded, rules...)
	}

	manager, err := capability.NewManager(capability.ManagerConfig{
		Evaluator: policy.NewEvaluator(rules),
		Logger:    logger,
	})
	if err != nil {
		return nil, nil, err
	}

	granted, err := loadTokenFile(tokensPath, manager)
	if err != nil {
		return nil, nil, err
	}
	return manager, granted, nil
}
