// Package version reports build metadata.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	driver "go.mongodb.org/mongo-driver/version"
)

const (
	// Unknown is used when build metadata is not provided.
	Unknown = "unknown"
	// DevelopmentVersion is the default version in local builds.
	DevelopmentVersion = "dev"
)

var (
	// AppVersion is set at build time:
	// go build -ldflags="-X github.com/nimburion/docrepo/pkg/version.AppVersion=v1.2.3"
	AppVersion = DevelopmentVersion

	// GitCommit is set at build time. When unset, the VCS revision recorded
	// by the Go toolchain is used if available.
	GitCommit = Unknown

	// BuildTime is set at build time, preferably in RFC3339.
	BuildTime = Unknown
)

// Info contains version metadata for an application.
type Info struct {
	Service       string `json:"service" yaml:"service"`
	Version       string `json:"version" yaml:"version"`
	Commit        string `json:"commit" yaml:"commit"`
	BuildTime     string `json:"build_time" yaml:"build_time"`
	GoVersion     string `json:"go_version" yaml:"go_version"`
	DriverVersion string `json:"driver_version" yaml:"driver_version"`
}

// Current returns the current build version metadata.
func Current(serviceName string) Info {
	commit := normalizeOrDefault(GitCommit, Unknown)
	if commit == Unknown {
		commit = vcsRevision()
	}
	return Info{
		Service:       normalizeOrDefault(serviceName, Unknown),
		Version:       normalizeOrDefault(AppVersion, DevelopmentVersion),
		Commit:        commit,
		BuildTime:     normalizeOrDefault(BuildTime, Unknown),
		GoVersion:     runtime.Version(),
		DriverVersion: driver.Driver,
	}
}

// ParseBuildTime parses BuildTime as RFC3339 if present.
func (i Info) ParseBuildTime() (time.Time, bool) {
	if i.BuildTime == "" || i.BuildTime == Unknown {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, i.BuildTime)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// String returns a log-friendly representation.
func (i Info) String() string {
	return fmt.Sprintf("%s@%s (commit=%s, build_time=%s, mongo-driver=%s)",
		i.Service, i.Version, i.Commit, i.BuildTime, i.DriverVersion)
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Unknown
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return s.Value
		}
	}
	return Unknown
}

func normalizeOrDefault(v, fallback string) string {
	norm := strings.TrimSpace(v)
	if norm == "" {
		return fallback
	}
	return norm
}
