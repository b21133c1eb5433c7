// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// enginectl is a command-line tool for controlling a running inference
// control plane.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/localinfer/enginectl/pkg/client"
)

var (
	version    = "0.1"
	apiURL     = "http://localhost:8080"
	jsonOutput = false

	apiClient *client.Client
)

func main() {
	if env := os.Getenv("ENGINECTL_API"); env != "" {
		apiURL = strings.TrimSuffix(env, "/")
	}

	var filteredArgs []string
	for _, arg := range os.Args[1:] {
		if arg == "-json" {
			jsonOutput = true
		} else {
			filteredArgs = append(filteredArgs, arg)
		}
	}

	apiClient = client.New(apiURL)

	if len(filteredArgs) < 1 {
		printUsage()
		os.Exit(1)
	}

	cmd := filteredArgs[0]
	args := filteredArgs[1:]

	var err error
	switch cmd {
	case "sessions":
		err = cmdSessions(args)
	case "complete":
		err = cmdComplete(args)
	case "pool":
		err = cmdPool(args)
	case "events":
		err = cmdEvents(args)
	case "stats":
		err = cmdStats(args)
	case "version", "-v", "--version":
		fmt.Printf("enginectl %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`enginectl - Control a running inference control plane

Usage:
  enginectl [-json] <command> [arguments]

Environment:
  ENGINECTL_API           Base URL of the control plane (default: http://localhost:8080)

Commands:
  sessions list                        List active session ids
  sessions create [-system <prompt>]   Create a new session
  sessions get <id>                    Show a session's introspection record
  sessions evict <id>                  Evict a session
  sessions evict-lru <keep-max>        Evict least-recently-used sessions down to keep-max
  sessions complete <id> <prompt> [-max-tokens N] [-manage-memory]
                                        Run one completion against a session

  complete <prompt> [-max-tokens N]    Create, complete, and evict in one call

  pool health                          Show worker pool health
  pool context-window <session-id>     Show a session's context-wind monitor snapshot

  events [-n N]                        Show recent events (default: 50)

  stats                                 Show scheduler counters and per-worker load

  version                               Show version
  help                                  Show this help`)
}

func printJSON(v interface{}) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func cmdSessions(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: enginectl sessions <list|create|get|evict|evict-lru|complete> [args]")
	}
	subcmd := args[0]
	subargs := args[1:]

	switch subcmd {
	case "list":
		return cmdSessionsList()
	case "create":
		return cmdSessionsCreate(subargs)
	case "get":
		return cmdSessionsGet(subargs)
	case "evict":
		return cmdSessionsEvict(subargs)
	case "evict-lru":
		return cmdSessionsEvictLRU(subargs)
	case "complete":
		return cmdSessionsComplete(subargs)
	default:
		return fmt.Errorf("unknown sessions subcommand: %s", subcmd)
	}
}

func cmdSessionsList() error {
	ctx := context.Background()
	ids, err := apiClient.Sessions.List(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(ids)
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func cmdSessionsCreate(args []string) error {
	req := &client.CreateSessionRequest{}
	for i := 0; i < len(args); i++ {
		if args[i] == "-system" && i+1 < len(args) {
			i++
			req.SystemPrompt = &args[i]
		}
	}

	ctx := context.Background()
	sid, err := apiClient.Sessions.Create(ctx, req)
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(map[string]string{"session_id": sid})
		return nil
	}
	fmt.Println(sid)
	return nil
}

func cmdSessionsGet(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: enginectl sessions get <id>")
	}
	ctx := context.Background()
	sess, err := apiClient.Sessions.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(sess)
		return nil
	}
	fmt.Printf("%-36s %-6s %s\n", sess.SessionID, sess.Phase, sess.LastActivity.Format("2006-01-02 15:04:05"))
	return nil
}

func cmdSessionsEvict(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: enginectl sessions evict <id>")
	}
	ctx := context.Background()
	if err := apiClient.Sessions.Evict(ctx, args[0]); err != nil {
		return err
	}
	if !jsonOutput {
		fmt.Printf("Evicted %s\n", args[0])
	}
	return nil
}

func cmdSessionsEvictLRU(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: enginectl sessions evict-lru <keep-max>")
	}
	keepMax, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid keep-max: %s", args[0])
	}
	ctx := context.Background()
	evicted, err := apiClient.Sessions.EvictLRU(ctx, keepMax)
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(evicted)
		return nil
	}
	for _, id := range evicted {
		fmt.Println(id)
	}
	return nil
}

func parseCompletionArgs(args []string) (*client.CompletionRequest, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("a prompt is required")
	}
	req := &client.CompletionRequest{Prompt: args[0]}
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "-max-tokens":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("-max-tokens requires a value")
			}
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil {
				return nil, fmt.Errorf("invalid -max-tokens value: %s", args[i])
			}
			req.Params.MaxTokens = n
		case "-manage-memory":
			req.ManageMemory = true
		}
	}
	return req, nil
}

func cmdSessionsComplete(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: enginectl sessions complete <id> <prompt> [-max-tokens N] [-manage-memory]")
	}
	sid := args[0]
	req, err := parseCompletionArgs(args[1:])
	if err != nil {
		return err
	}

	ctx := context.Background()
	result, err := apiClient.Sessions.Complete(ctx, sid, req)
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(result)
		return nil
	}
	fmt.Println(result.Text)
	return nil
}

func cmdComplete(args []string) error {
	req, err := parseCompletionArgs(args)
	if err != nil {
		return fmt.Errorf("usage: enginectl complete <prompt> [-max-tokens N]: %w", err)
	}

	ctx := context.Background()
	result, err := apiClient.Sessions.CompleteOneShot(ctx, req)
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(result)
		return nil
	}
	fmt.Println(result.Text)
	return nil
}

func cmdPool(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: enginectl pool <health|context-window> [args]")
	}
	switch args[0] {
	case "health":
		return cmdPoolHealth()
	case "context-window":
		return cmdPoolContextWindow(args[1:])
	default:
		return fmt.Errorf("unknown pool subcommand: %s", args[0])
	}
}

func cmdPoolHealth() error {
	ctx := context.Background()
	workers, err := apiClient.Pool.Health(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(workers)
		return nil
	}
	fmt.Printf("%-6s %-12s %-8s %-8s %s\n", "INDEX", "ROLE", "STATE", "PID", "RESTARTS")
	fmt.Println(strings.Repeat("-", 50))
	for _, w := range workers {
		fmt.Printf("%-6d %-12s %-8s %-8d %d\n", w.Index, w.Role, w.State, w.PID, w.RestartCount)
	}
	return nil
}

func cmdPoolContextWindow(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: enginectl pool context-window <session-id>")
	}
	ctx := context.Background()
	cw, err := apiClient.Pool.ContextWindow(ctx, args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(cw)
		return nil
	}
	fmt.Printf("session:     %s\n", cw.SessionID)
	fmt.Printf("utilization: %.2f\n", cw.Utilization)
	for _, c := range cw.History {
		fmt.Printf("  crossed %-8s at %s (utilization %.2f)\n", c.Threshold, c.At.Format("15:04:05"), c.Utilization)
	}
	return nil
}

func cmdEvents(args []string) error {
	limit := 50
	for i := 0; i < len(args); i++ {
		if args[i] == "-n" && i+1 < len(args) {
			n, err := strconv.Atoi(args[i+1])
			if err == nil && n > 0 {
				limit = n
			}
			i++
		}
	}

	ctx := context.Background()
	evts, err := apiClient.Events.List(ctx, &client.ListOptions{Limit: limit})
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(evts)
		return nil
	}
	fmt.Printf("%-25s %-28s %-12s %s\n", "TIME", "TYPE", "SOURCE", "DETAILS")
	fmt.Println(strings.Repeat("-", 100))
	for _, evt := range evts {
		details := ""
		if len(evt.Payload) > 0 {
			var parts []string
			for k, v := range evt.Payload {
				parts = append(parts, fmt.Sprintf("%s=%v", k, v))
			}
			details = strings.Join(parts, " ")
		}
		fmt.Printf("%-25s %-28s %-12s %s\n",
			evt.Timestamp.Format("2006-01-02 15:04:05"),
			evt.Type,
			evt.Source,
			details,
		)
	}
	return nil
}

func cmdStats(args []string) error {
	ctx := context.Background()
	stats, err := apiClient.Sessions.Stats(ctx)
	if err != nil {
		return err
	}
	load, err := apiClient.Sessions.WorkerLoad(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"scheduler": stats, "worker_load": load})
		return nil
	}

	fmt.Printf("scheduled:          %d\n", stats.Scheduled)
	fmt.Printf("completed:          %d\n", stats.Completed)
	fmt.Printf("failed:             %d\n", stats.Failed)
	fmt.Printf("tokens_generated:   %d\n", stats.TokensGenerated)
	fmt.Printf("prefill_ms:         %d\n", stats.PrefillMs)
	fmt.Printf("decode_ms:          %d\n", stats.DecodeMs)
	fmt.Println("\nworker load:")
	for idx, n := range load {
		fmt.Printf("  worker %d: %d session(s)\n", idx, n)
	}
	return nil
}
