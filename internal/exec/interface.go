// Package exec runs external commands behind an interface so callers can
// be tested without spawning processes.
package exec

import (
	"context"
)

// CommandRunner runs an external command to completion.
type CommandRunner interface {
	// Run executes name in workDir (the current directory when empty) and
	// returns combined stdout and stderr.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)
}
