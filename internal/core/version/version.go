// Package version reports what binary is running
package version

import "runtime/debug"

// Stamped with -ldflags "-X clinicaletl/internal/core/version.version=v1.2.0"
var (
	version = "dev"
	commit  = ""
	date    = ""
)

// BuildInfo identifies a build
type BuildInfo struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
	Go      string `json:"go,omitempty"`
}

var readBuild = debug.ReadBuildInfo

// Info returns the stamped build info, filling commit and date from the
// embedded VCS settings when the linker left them empty
func Info() BuildInfo {
	b := BuildInfo{Service: "clinetl", Version: version, Commit: commit, Date: date}
	if bi, ok := readBuild(); ok {
		b.Go = bi.GoVersion
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && b.Commit == "":
				b.Commit = s.Value
			case s.Key == "vcs.time" && b.Date == "":
				b.Date = s.Value
			}
		}
	}
	if b.Commit == "" {
		b.Commit = "none"
	}
	if b.Date == "" {
		b.Date = "unknown"
	}
	return b
}
