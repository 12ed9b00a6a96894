// Package buildinfo reports what the running eckpos binary was built from.
package buildinfo

import (
	"fmt"
	"time"
)

// Set via -ldflags "-X github.com/xelth-com/eckposgo/internal/buildinfo.Version=..."
var (
	Version    = "dev"
	BuildTime  string // when the binary was compiled
	CommitHash string // short git commit hash
)

// StartTime is recorded when the process starts
var StartTime = time.Now().UTC()

// Info is the build and uptime report served on /health
type Info struct {
	Version    string `json:"version"`
	BuildTime  string `json:"buildTime,omitempty"`
	CommitHash string `json:"commitHash,omitempty"`
	StartTime  string `json:"startTime"`
	Uptime     string `json:"uptime"`
}

// Current returns the report as of now
func Current(now time.Time) Info {
	return Info{
		Version:    Version,
		BuildTime:  BuildTime,
		CommitHash: CommitHash,
		StartTime:  StartTime.Format(time.RFC3339),
		Uptime:     now.Sub(StartTime).Round(time.Second).String(),
	}
}

// String is the one-line form printed by eckpos --version
func String() string {
	if CommitHash == "" {
		return Version
	}
	return fmt.Sprintf("%s (%s, built %s)", Version, CommitHash, BuildTime)
}
