package buildinfo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCurrentReportsUptime(t *testing.T) {
	info := Current(StartTime.Add(90 * time.Second))

	assert.Equal(t, "1m30s", info.Uptime)
	assert.Equal(t, StartTime.Format(time.RFC3339), info.StartTime)
	assert.Equal(t, Version, info.Version)
}

func TestString(t *testing.T) {
	defer func(v, h, b string) { Version, CommitHash, BuildTime = v, h, b }(Version, CommitHash, BuildTime)

	Version, CommitHash, BuildTime = "1.4.0", "", ""
	assert.Equal(t, "1.4.0", String())

	CommitHash, BuildTime = "abc1234", "2026-10-01T08:00:00Z"
	assert.Equal(t, "1.4.0 (abc1234, built 2026-10-01T08:00:00Z)", String())
}
