// Package version carries build metadata for the wolo binary. The
// variables are set with -ldflags "-X github.com/HerbHall/wolo/internal/version.Version=...".
package version

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns the --version line.
func Info() string {
	return fmt.Sprintf("wolo %s (commit: %s, built: %s, go: %s)",
		Version, GitCommit, BuildDate, runtime.Version())
}

// Short returns just the version string.
func Short() string {
	return Version
}

// Map returns version info for the health endpoint.
func Map() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}

// Fields returns the build metadata as log fields for the startup line.
func Fields() []zap.Field {
	return []zap.Field{
		zap.String("version", Version),
		zap.String("commit", GitCommit),
		zap.String("built", BuildDate),
		zap.String("go", runtime.Version()),
	}
}
