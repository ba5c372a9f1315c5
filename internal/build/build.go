// Package build provides build information that is linked into the binary
// at build time.
package build

const ProjectName = "gannet"

var (
	// Version is the build version of the app (e.g. v0.1.0).
	Version = "dev"

	// Commit is the git short commit hash the build was produced from.
	Commit = "none"

	// Date is the timestamp the build was produced at.
	Date = "unknown"
)
