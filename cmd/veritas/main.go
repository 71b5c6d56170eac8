package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Mindburn-Labs/veritas/pkg/config"
	"github.com/Mindburn-Labs/veritas/pkg/kernelerr"
	"github.com/Mindburn-Labs/veritas/pkg/observability"
	"github.com/Mindburn-Labs/veritas/pkg/versioning"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// app is the per-invocation state shared by the commands.
type app struct {
	stdout    io.Writer
	stderr    io.Writer
	logger    *slog.Logger
	telemetry *observability.Provider
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return usageError(stderr, "a command is required", nil)
	}

	switch args[1] {
	case "help", "--help", "-h":
		printUsage(stdout)
		return exitOK
	case "version", "--version":
		return runVersionCmd(stdout)
	}

	cfg, err := config.Load()
	if err != nil {
		return usageError(stderr, "invalid environment configuration", map[string]any{"reason": err.Error()})
	}

	ctx := context.Background()
	a := &app{stdout: stdout, stderr: stderr, logger: cfg.Logger(stderr)}
	a.telemetry, err = observability.New(ctx, cfg.Observability())
	if err != nil {
		a.logger.Warn("telemetry unavailable", "error", err)
		a.telemetry, _ = observability.New(ctx, observability.DefaultConfig())
	}
	defer func() { _ = a.telemetry.Shutdown(ctx) }()

	switch args[1] {
	case "replay":
		return a.runReplayCmd(ctx, args[2:])
	case "verify":
		return a.runVerifyCmd(ctx, args[2:])
	case "seal":
		return a.runSealCmd(ctx, args[2:])
	case "ingest":
		return a.runIngestCmd(args[2:])
	case "atomize":
		return a.runAtomizeCmd(args[2:])
	case "digest":
		return a.runDigestCmd(args[2:])
	default:
		printUsage(stderr)
		return usageError(stderr, "unknown command", map[string]any{"command": args[1]})
	}
}

// ANSI Colors
const (
	colorReset = "\033[0m"
	colorBold  = "\033[1m"
	colorBlue  = "\033[34m"
	colorCyan  = "\033[36m"
	colorGreen = "\033[32m"
	colorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	id := versioning.Current()
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sPrima Veritas Kernel %s%s\n", colorBold+colorBlue, id.KernelVersion, colorReset)
	fmt.Fprintf(w, "%sSealed, hash-chained ledgers with exact replay.%s\n", colorGray, colorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", colorBold, colorReset)
	fmt.Fprintln(w, "  veritas <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "LEDGER")
	printCommand(w, "seal", "Seal events into a ledger (--atoms, --out, --hash-out)")
	printCommand(w, "replay", "Replay and check a ledger (--ledger, --atoms)")
	printCommand(w, "verify", "Check a ledger against a digest (--ledger, --atoms, --expected-hash)")

	printSection(w, "PIPELINE")
	printCommand(w, "ingest", "Capture a file or directory (--file | --dir)")
	printCommand(w, "atomize", "Turn records into events (--records, --rules)")

	printSection(w, "UTILITIES")
	printCommand(w, "digest", "Hash a file (--algorithm, --canonical)")
	printCommand(w, "version", "Show kernel identity")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", colorBold+colorCyan, title, colorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-10s%s %s\n", colorGreen, name, colorReset, desc)
}

// usageError writes a CLI_ARGUMENT_ERROR payload.
func usageError(stderr io.Writer, message string, details map[string]any) int {
	writePayload(stderr, kernelerr.New(kernelerr.CLIArgumentError, kernelerr.StageCLI, message, details))
	return exitUsage
}

// failure writes the payload of err. Errors that are not kernel errors are
// reported as IO_FAILURE at the CLI stage.
func failure(stderr io.Writer, err error) int {
	ke, ok := kernelerr.As(err)
	if !ok {
		ke = kernelerr.New(kernelerr.IOFailure, kernelerr.StageCLI, "command failed",
			map[string]any{"reason": err.Error()})
	}
	writePayload(stderr, ke)
	return exitFailure
}

func writePayload(w io.Writer, e *kernelerr.Error) {
	_, _ = fmt.Fprintln(w, e.Format())
}
