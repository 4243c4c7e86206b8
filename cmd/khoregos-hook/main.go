// Command khoregos-hook is the short-lived subprocess the host agent
// runtime invokes synchronously after every tool call. It reads exactly
// one JSON payload from stdin, applies whatever governance the payload
// warrants, and always exits 0 except on unrecoverable initialization
// failure (spec §6): a governance hook must never fail the tool call it
// observed.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/basket/khoregos/internal/hookpipeline"
	"github.com/basket/khoregos/internal/otel"
)

const maxPayloadBytes = 1 << 20 // 1 MiB (spec §4.7)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin))
}

func run(args []string, stdin io.Reader) int {
	if len(args) == 0 {
		fatalInit("missing hook name argument")
		return 1
	}
	hookName := args[0]

	// Hook processes never read the project's telemetry configuration and
	// must add no exporter latency to a tool call (spec §5): tracer and
	// meter are always no-ops here.
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	provider, err := otel.Init(context.Background(), otel.Config{Enabled: false})
	if err != nil {
		fatalInit(err.Error())
		return 1
	}
	defer provider.Shutdown(context.Background())

	metrics, err := otel.NewMetrics(provider.Meter)
	if err != nil {
		fatalInit(err.Error())
		return 1
	}

	cwd, err := os.Getwd()
	if err != nil {
		fatalInit(err.Error())
		return 1
	}

	payload, err := io.ReadAll(io.LimitReader(stdin, maxPayloadBytes+1))
	if err != nil {
		// A read failure still exits 0: there is no session to annotate and
		// no tool call to fail.
		return 0
	}
	if len(payload) > maxPayloadBytes {
		// Truncated payload: spec §4.7 says this is a pipeline no-op, not
		// an error.
		return 0
	}

	// bus is nil here: hook subprocesses persist an audit event and exit
	// before any bus subscriber (webhook dispatcher, plugin bridge) could
	// possibly drain it. Those run only in the lifecycle process.
	pipeline := hookpipeline.New(logger, metrics, provider.Tracer, nil)

	ctx := context.Background()
	switch hookName {
	case "post-tool-use", "PostToolUse":
		pipeline.Run(ctx, cwd, payload)
	case "subagent-start", "SubagentStart":
		pipeline.RunSubagentStart(ctx, cwd, payload)
	case "subagent-stop", "SubagentStop":
		pipeline.RunSubagentStop(ctx, cwd, payload)
	case "stop", "Stop":
		pipeline.RunSessionStop(ctx, cwd, payload)
	default:
		// An unrecognized hook name is a no-op, not a failure: the host
		// runtime's hook set may grow independently of khoregos-hook's.
	}
	return 0
}

// fatalInit reports an unrecoverable initialization failure. This is the
// only path that exits non-zero (spec §6): everything downstream of a
// successfully read payload is a logged no-op, never a failure exit.
func fatalInit(message string) {
	os.Stderr.WriteString("khoregos-hook: fatal: " + message + "\n")
}
