// Package version carries build metadata injected via -ldflags.
package version

var (
	// Version is the release tag of the bondwatcher binary.
	Version = "dev"
	// Commit is the short git commit hash.
	Commit = "unknown"
	// BuildDate is the UTC build timestamp.
	BuildDate = "unknown"
)
