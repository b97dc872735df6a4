// Package version exposes the build metadata stamped into the binary.
package version

import (
	"fmt"
	"runtime"
)

// Version, Commit and Date are overridden at release time with
// -ldflags "-X github.com/semcode/semcode/pkg/version.Version=...".
// A binary built without them reports itself as a dev build.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"

	// GoVersion comes from the running toolchain, not from ldflags.
	GoVersion = runtime.Version()
)

// BuildInfo is the machine-readable form used by `semcode version --json`.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// String renders the one-line human form.
func String() string {
	return fmt.Sprintf("semcode %s (commit: %s, built: %s, go: %s)",
		Version, Commit, Date, GoVersion)
}

// Short returns only the version number.
func Short() string {
	return Version
}

// GetInfo collects the full build metadata.
func GetInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}
