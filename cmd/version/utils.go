package version

import (
	"runtime/debug"
	"strings"
	"time"
)

// These variables can be overridden at build time with ldflags
var (
	Version   string // -X github.com/trufnetwork/claimgate/cmd/version.Version=...
	Commit    string // -X github.com/trufnetwork/claimgate/cmd/version.Commit=...
	BuildTime string // -X github.com/trufnetwork/claimgate/cmd/version.BuildTime=...
)

const (
	develVersion    = "(devel)"
	shortHashLength = 9
)

type vcsInfo struct {
	revision string
	time     time.Time
	modified bool
}

// readVCS returns the vcs stamp embedded by the go toolchain, if any.
func readVCS() (info vcsInfo, ok bool) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info, false
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.revision = s.Value
		case "vcs.time":
			info.time, _ = time.Parse(time.RFC3339, s.Value)
		case "vcs.modified":
			info.modified = s.Value == "true"
		}
	}
	return info, info.revision != ""
}

// getVersion returns the ldflags version if set, otherwise the module version
func getVersion() string {
	if Version != "" {
		return Version
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" {
		return bi.Main.Version
	}
	return develVersion
}

// getCommit returns the commit (short form) from ldflags or the vcs stamp
func getCommit() string {
	commit := Commit
	if commit == "" {
		if info, ok := readVCS(); ok {
			commit = info.revision
		}
	}

	// Return short form (9 chars) for readability
	if len(commit) > shortHashLength {
		return commit[:shortHashLength]
	}
	return commit
}

// getBuildTime returns the ldflags build time if set, otherwise the commit time
func getBuildTime() time.Time {
	if BuildTime != "" {
		if t, err := time.Parse(time.RFC3339, BuildTime); err == nil {
			return t
		}
	}
	if info, ok := readVCS(); ok {
		return info.time
	}
	return time.Time{}
}

// getBuildTimeDisplay returns a formatted build time with context about whether it's commit or build time
func getBuildTimeDisplay() string {
	buildTime := getBuildTime()
	if buildTime.IsZero() {
		return "unknown"
	}

	// A dirty workspace is stamped with the build time rather than the commit time.
	if BuildTime != "" && strings.HasSuffix(Version, "dirty") {
		return buildTime.Format(time.RFC3339) + " (build time)"
	}
	return buildTime.Format(time.RFC3339) + " (commit time)"
}
