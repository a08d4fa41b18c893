// Package version carries build-time version information, injected via
// -ldflags at release builds.
package version

var (
	// Version is the semantic version of the build
	Version = "dev"

	// GitCommit is the short commit hash of the build
	GitCommit = "unknown"
)
