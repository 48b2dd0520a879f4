// Package version carries build metadata stamped in by the linker:
//
//	go build -ldflags "-X github.com/soyeahso/chatpulse/internal/version.Version=1.0.0
//	  -X github.com/soyeahso/chatpulse/internal/version.Commit=abc123
//	  -X github.com/soyeahso/chatpulse/internal/version.Date=2026-01-01"
package version

import (
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Build is the structured form of the build metadata, served by /health and
// printed by `chatpulse version --json`.
type Build struct {
	Version  string `json:"version"`
	Commit   string `json:"commit"`
	Date     string `json:"date"`
	Platform string `json:"platform"`
}

// Current returns the running binary's build metadata.
func Current() Build {
	return Build{
		Version:  Version,
		Commit:   short(Commit),
		Date:     Date,
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Info returns a formatted version string.
func Info() string {
	b := Current()
	return fmt.Sprintf("chatpulse %s (commit: %s, built: %s, %s)", b.Version, b.Commit, b.Date, b.Platform)
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
