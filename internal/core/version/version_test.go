package version

import (
	"runtime/debug"
	"testing"

	kit "clinicaletl/internal/platform/testkit"
)

func TestInfo_FallsBackToVCS(t *testing.T) {
	kit.Swap(t, &readBuild, func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{GoVersion: "go1.24.0", Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.time", Value: "2025-09-02T10:00:00Z"},
		}}, true
	})
	got := Info()
	if got.Commit != "abc123" || got.Date != "2025-09-02T10:00:00Z" || got.Go != "go1.24.0" {
		t.Fatalf("info %+v", got)
	}
}

func TestInfo_LinkerWins(t *testing.T) {
	kit.Swap(t, &commit, "deadbeef")
	kit.Swap(t, &readBuild, func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc123"}}}, true
	})
	if got := Info(); got.Commit != "deadbeef" || got.Date != "unknown" {
		t.Fatalf("info %+v", got)
	}
}

func TestInfo_NoBuildInfo(t *testing.T) {
	kit.Swap(t, &readBuild, func() (*debug.BuildInfo, bool) { return nil, false })
	if got := Info(); got.Version != "dev" || got.Commit != "none" {
		t.Fatalf("info %+v", got)
	}
}
