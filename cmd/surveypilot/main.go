// File: cmd/surveypilot/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/surveypilot/cmd"
	"github.com/xkilldash9x/surveypilot/internal/observability"
)

const panicLogFile = "panic.log"

// Function variables so tests can replace process-level side effects.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
	runCleanups = cmd.RunCleanups
)

func main() {
	// The sentinel: any panic on this goroutine still wipes the browser.
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := exitCode(cmd.Execute(ctx))
	observability.Sync()
	if code != 0 {
		stop()
		osExit(code)
	}
}

// exitCode maps the command result to a process status. An operator quit
// (SIGINT/SIGTERM) has already torn the session down and is not a failure.
func exitCode(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	return 1
}

func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()
	runCleanups()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
		osExit(1)
		return
	}
	fmt.Fprintf(os.Stderr, "surveypilot crashed; the browser session was wiped. Details logged to %s\n", panicLogFile)
	osExit(1)
}
