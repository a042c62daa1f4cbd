// Package version reports the build version embedded from the VERSION file.
package version

import (
	_ "embed"
	"fmt"
	"runtime"
	"strings"
)

//go:embed VERSION
var raw string

// Get returns the release version, e.g. "0.1.0".
func Get() string {
	return strings.TrimSpace(raw)
}

// Info is the one-line `triad version` output.
func Info() string {
	return fmt.Sprintf("triad version %s (%s %s/%s)", Get(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
