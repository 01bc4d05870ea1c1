// Package version provides build-time version information.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/rickgao/deriv-stream/internal/version.Version=0.3.0 \
//	                   -X github.com/rickgao/deriv-stream/internal/version.Commit=$(git rev-parse --short HEAD)" ./cmd/derivbot
package version

import "runtime/debug"

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String returns a formatted version string.
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}

// Info returns the version fields, filling Commit from the embedded VCS
// stamp when ldflags did not set it.
func Info() map[string]string {
	commit := Commit
	if commit == "unknown" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" && len(s.Value) >= 7 {
					commit = s.Value[:7]
				}
			}
		}
	}
	return map[string]string{
		"version":    Version,
		"commit":     commit,
		"build_time": BuildTime,
	}
}
