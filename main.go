package main

import (
	"errors"
	"fmt"
	"os"

	"bsdl/bplist"
	"bsdl/plan"
)

// downloadError carries the number of failed songs into the exit status.
// The console has already listed the failures by the time it surfaces.
type downloadError struct {
	failed int
}

func (e *downloadError) Error() string {
	return fmt.Sprintf("%d song download(s) failed", e.failed)
}

// errInterrupted marks a run stopped by SIGINT or SIGTERM.
var errInterrupted = errors.New("run interrupted")

func printFatalError(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}

func main() {
	os.Exit(exitCode(newRootCommand().Execute()))
}

// exitCode maps a run result to the process exit status: 0 when every song
// succeeded or was already present, 1 for an unusable manifest, 2 for a
// filesystem problem, 130 when interrupted, otherwise the failed-song count.
func exitCode(err error) int {
	if err == nil {
		return 0
	}

	var dl *downloadError
	if errors.As(err, &dl) {
		// Stay below the exit codes shells reserve for signals.
		if dl.failed > 125 {
			return 125
		}
		return dl.failed
	}

	if errors.Is(err, errInterrupted) {
		// The summary already noted the interruption.
		return 130
	}

	printFatalError(err)

	var pe *bplist.ParseError
	if errors.As(err, &pe) {
		return 1
	}
	var fe *plan.FilesystemError
	if errors.As(err, &fe) {
		return 2
	}
	return 1
}
