// Package version exposes build version information.
package version

// Set via -ldflags "-X github.com/codeclash-io/codeclash/pkg/version.Version=..."
var (
	Version = "dev"
	Commit  = "unknown"
)
