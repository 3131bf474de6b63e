// Package version reports the kumo build's identity. Release builds stamp
// the variables with ldflags; development builds fall back to module build
// info.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	// Version is the release tag, "dev" when built from source.
	Version = "dev"

	// Commit is the VCS revision the binary was built from.
	Commit = ""

	// BuildDate is the UTC build timestamp.
	BuildDate = ""
)

// String returns the one-line version used by the CLI --version flag.
func String() string {
	if c := commit(); c != "" {
		short := c
		if len(short) > 12 {
			short = short[:12]
		}
		return Version + "+" + short
	}
	return Version
}

// Full returns the multi-line version report.
func Full() string {
	out := "kumo " + String()
	if d := buildDate(); d != "" {
		out += "\n  built:    " + d
	}
	out += "\n  go:       " + runtime.Version()
	out += fmt.Sprintf("\n  platform: %s/%s", runtime.GOOS, runtime.GOARCH)
	return out
}

func commit() string {
	if Commit != "" {
		return Commit
	}
	return buildSetting("vcs.revision")
}

func buildDate() string {
	if BuildDate != "" {
		return BuildDate
	}
	return buildSetting("vcs.time")
}

func buildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}
