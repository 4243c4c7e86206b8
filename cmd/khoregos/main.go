// Command khoregos is the lifecycle CLI: session start/stop, report,
// verify, status, and prune. Unlike khoregos-hook, these are long-lived
// enough to own a telemetry SDK and the plugin manager (spec §5).
package main

import (
	"context"
	"fmt"
	"os"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: khoregos <command> [args]

Commands:
  start [objective]      Begin a governed session for the current project
  stop                   End the active session
  status                 Report whether a session is active
  report [session-id]    Print a structured report for a session
  verify [session-id]    Verify the HMAC chain of a session's audit log
  prune [--dry-run]      Apply the configured retention policy now
  daemon                 Run the long-lived retention scheduler in the foreground
  version                Print the khoregos version
`)
}

func main() {
	os.Exit(runMain(os.Args[1:]))
}

func runMain(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	ctx := context.Background()
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "start":
		return runStartCommand(ctx, rest)
	case "stop":
		return runStopCommand(ctx, rest)
	case "status":
		return runStatusCommand(ctx, rest)
	case "report":
		return runReportCommand(ctx, rest)
	case "verify":
		return runVerifyCommand(ctx, rest)
	case "prune":
		return runPruneCommand(ctx, rest)
	case "daemon":
		return runDaemonCommand(ctx, rest)
	case "version", "-v", "--version":
		fmt.Println("khoregos " + Version)
		return 0
	case "-h", "--help", "help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "khoregos: unknown command %q\n", cmd)
		printUsage()
		return 2
	}
}

// fatalStartup reports a structured, unrecoverable startup failure and
// exits, mirroring the lifecycle-process failure posture of spec §7:
// "invalid configuration: reject at lifecycle-start with a descriptive
// message."
func fatalStartup(reasonCode string, err error) int {
	fmt.Fprintf(os.Stderr, "khoregos: fatal: %s: %v\n", reasonCode, err)
	return 1
}
