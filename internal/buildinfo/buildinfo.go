// Package buildinfo reports the version docent was built from. Release
// builds stamp the variables below with -ldflags; otherwise the module
// and VCS data embedded by the go command are used.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set at build time via -ldflags "-X".
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var fill sync.Once

// fromModule replaces unstamped values with what the go command
// recorded in the binary.
func fromModule() {
	fill.Do(func() {
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		if Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if GitCommit == "unknown" && len(s.Value) >= 12 {
					GitCommit = s.Value[:12]
				}
			case "vcs.time":
				if BuildTime == "unknown" {
					BuildTime = s.Value
				}
			}
		}
	})
}

// BuildInfo returns build and runtime details keyed for display.
func BuildInfo() map[string]string {
	fromModule()
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}

// UserAgent is sent on outbound HTTP requests.
func UserAgent() string {
	fromModule()
	return fmt.Sprintf("docent/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}

// String is a one-line summary.
func String() string {
	fromModule()
	return fmt.Sprintf("docent %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}
