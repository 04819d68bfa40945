package cmd

import "github.com/mikaelmello/ringo/core"

const (
	exitOK    = 0
	exitLoss  = 1
	exitFatal = 2
)

// exitCode maps the outcome of a run to the process exit code
func exitCode(snap core.Snapshot, err error) int {
	switch {
	case err != nil:
		return exitFatal
	case snap.Transmitted == 0 || snap.Received < snap.Transmitted:
		return exitLoss
	default:
		return exitOK
	}
}
