// Package version carries build metadata stamped in with -ldflags, e.g.
//
//	-X github.com/banshee-data/claimtype/internal/version.Version=v1.2.0
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String describes the build in one line.
func String() string {
	return fmt.Sprintf("claimtype %s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
