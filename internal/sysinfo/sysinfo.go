// Package sysinfo reports the build and runtime details of this process.
package sysinfo

import (
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

var (
	// Version is the release version, set at build time via ldflags.
	// Example: go build -ldflags="-X github.com/postalsys/walletlink/internal/sysinfo.Version=v1.0.0"
	Version = "dev"

	startTime = time.Now()

	versionOnce sync.Once
	version     string
)

// Info describes the running process.
type Info struct {
	Version   string    `json:"version"`
	GoVersion string    `json:"go_version"`
	OS        string    `json:"os"`
	Arch      string    `json:"arch"`
	Hostname  string    `json:"hostname,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Uptime    int64     `json:"uptime_seconds"`
}

// Collect gathers the current process information.
func Collect() Info {
	hostname, _ := os.Hostname()

	return Info{
		Version:   ResolvedVersion(),
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Hostname:  hostname,
		StartedAt: startTime,
		Uptime:    UptimeSeconds(),
	}
}

// ResolvedVersion returns Version, or for "dev" builds a dev-<commit>
// string derived from the embedded VCS stamp.
func ResolvedVersion() string {
	versionOnce.Do(func() {
		version = Version
		if version == "dev" {
			version = enhanceDevVersion()
		}
	})
	return version
}

func enhanceDevVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev-" + startTime.UTC().Format("20060102-150405")
	}
	return devVersionFrom(info.Settings, startTime)
}

func devVersionFrom(settings []debug.BuildSetting, fallback time.Time) string {
	var revision string
	var dirty bool
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}

	if revision == "" {
		return "dev-" + fallback.UTC().Format("20060102-150405")
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}
	if dirty {
		return "dev-" + revision + "-dirty"
	}
	return "dev-" + revision
}

// Uptime returns the process uptime.
func Uptime() time.Duration {
	return time.Since(startTime)
}

// UptimeSeconds returns the process uptime in seconds.
func UptimeSeconds() int64 {
	return int64(Uptime().Seconds())
}
