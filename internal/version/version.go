// Package version holds build information injected via -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Set at build time:
//
//	go build -ldflags "-X llmgate/internal/version.Version=v1.0.0 -X llmgate/internal/version.Commit=$(git rev-parse --short HEAD)"
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a one-line description of the build.
func Info() string {
	return fmt.Sprintf("llmgate %s (commit %s, built %s, %s)", Version, Commit, Date, runtime.Version())
}
