// Package version reports the build that is running.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/mindwell/convomem/pkg/version.Version=..."
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// BuildInfo describes the running binary. It is served on /status and
// attached to exported spans.
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
}

// Get returns the build info. Values not injected at link time fall back to
// the VCS stamp the Go toolchain embeds.
func Get() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "unknown" {
				info.GitCommit = s.Value
			}
		case "vcs.time":
			if info.BuildTime == "unknown" {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	return info
}

// ShortCommit is the first 12 characters of the commit hash.
func (b BuildInfo) ShortCommit() string {
	if len(b.GitCommit) > 12 {
		return b.GitCommit[:12]
	}
	return b.GitCommit
}

func (b BuildInfo) String() string {
	s := fmt.Sprintf("convomem %s (commit %s, built %s, %s)", b.Version, b.ShortCommit(), b.BuildTime, b.GoVersion)
	if b.Modified {
		s += " [modified]"
	}
	return s
}
