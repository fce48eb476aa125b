// Package version holds build information injected with -ldflags.
package version

import "fmt"

// Set at build time:
//
//	go build -ldflags "-X promptrelay/internal/version.Version=v1.0.0 -X promptrelay/internal/version.Commit=$(git rev-parse --short HEAD) -X promptrelay/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a one-line summary for -version output.
func Info() string {
	return fmt.Sprintf("promptrelay %s (commit %s, built %s)", Version, Commit, Date)
}
