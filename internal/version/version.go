// Package version provides build-time version information
// injected via ldflags during compilation:
//
//	go build -ldflags "-X github.com/avaropoint/authcore/internal/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime"
)

// These variables are set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info returns a one-line version string for --version output and logs.
func Info() string {
	return fmt.Sprintf("%s (%s, built %s, %s)", Version, GitCommit, BuildTime, runtime.Version())
}
