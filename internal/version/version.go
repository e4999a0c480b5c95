// Package version holds build-time version information for the secai binary.
// The variables are populated at build time via -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/secai-go/internal/version.Version=v1.2.3 \
//	                    -X github.com/54b3r/secai-go/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/secai-go/internal/version.BuildDate=2025-01-01"
//
// Without ldflags (e.g. `go run`) the values fall back to readable defaults.
package version

import (
	"fmt"
	"runtime/debug"
)

// Version is the semantic version of the binary. Defaults to "dev".
var Version = "dev"

// Commit is the short git SHA the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC build date (RFC3339).
var BuildDate = "unknown"

// String returns the one-line version banner printed by `secai version`.
// When Commit was not injected it falls back to the VCS revision recorded
// by the Go toolchain, if any.
func String() string {
	commit := Commit
	if commit == "unknown" {
		if rev := vcsRevision(); rev != "" {
			commit = rev
		}
	}
	return fmt.Sprintf("secai %s (commit: %s, built: %s)", Version, commit, BuildDate)
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 7 {
				return s.Value[:7]
			}
			return s.Value
		}
	}
	return ""
}
