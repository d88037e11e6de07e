package version

import (
	"runtime"
	"strings"
	"testing"
	"time"
)

func withBuildVars(t *testing.T, appVersion, commit, buildTime string) {
	t.Helper()
	oldVersion, oldCommit, oldBuildTime := AppVersion, GitCommit, BuildTime
	t.Cleanup(func() {
		AppVersion, GitCommit, BuildTime = oldVersion, oldCommit, oldBuildTime
	})
	AppVersion, GitCommit, BuildTime = appVersion, commit, buildTime
}

func TestCurrent_Defaults(t *testing.T) {
	withBuildVars(t, "", "", "")

	info := Current("  ")
	if info.Service != Unknown {
		t.Fatalf("expected service %q, got %q", Unknown, info.Service)
	}
	if info.Version != DevelopmentVersion {
		t.Fatalf("expected version %q, got %q", DevelopmentVersion, info.Version)
	}
	if info.BuildTime != Unknown {
		t.Fatalf("expected build_time %q, got %q", Unknown, info.BuildTime)
	}
	if info.Commit == "" {
		t.Fatal("expected a commit placeholder or VCS revision")
	}
	if info.GoVersion != runtime.Version() {
		t.Fatalf("go_version = %q, want %q", info.GoVersion, runtime.Version())
	}
	if info.DriverVersion == "" {
		t.Fatal("expected driver version")
	}
}

func TestCurrent_BuildVars(t *testing.T) {
	withBuildVars(t, "v1.4.0", "abc123", "2026-01-02T03:04:05Z")

	info := Current("notes")
	if info.Version != "v1.4.0" || info.Commit != "abc123" {
		t.Fatalf("unexpected info: %+v", info)
	}
	ts, ok := info.ParseBuildTime()
	if !ok || !ts.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("ParseBuildTime() = %v, %v", ts, ok)
	}
	if s := info.String(); !strings.HasPrefix(s, "notes@v1.4.0 (commit=abc123") {
		t.Fatalf("String() = %q", s)
	}
}

func TestInfo_ParseBuildTimeInvalid(t *testing.T) {
	for _, bt := range []string{"", Unknown, "yesterday"} {
		if _, ok := (Info{BuildTime: bt}).ParseBuildTime(); ok {
			t.Fatalf("expected %q not to parse", bt)
		}
	}
}
