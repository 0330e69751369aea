package health

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"time"
)

type BuildInfo struct {
	Revision  string    `json:"revision"`
	BuildTime time.Time `json:"build_time"`
	Modified  bool      `json:"modified"`
	GoVersion string    `json:"go_version"`
	Platform  string    `json:"platform"`
}

// ReadBuildInfo prefers the vcs stamps embedded by the go toolchain and
// falls back to the BUILD_COMMIT / BUILD_TIME environment variables.
func ReadBuildInfo() BuildInfo {
	info := BuildInfo{
		Revision:  "unknown",
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range bi.Settings {
			switch setting.Key {
			case "vcs.revision":
				info.Revision = setting.Value
			case "vcs.time":
				if t, err := time.Parse(time.RFC3339, setting.Value); err == nil {
					info.BuildTime = t
				}
			case "vcs.modified":
				info.Modified = setting.Value == "true"
			}
		}
	}

	if commit := os.Getenv("BUILD_COMMIT"); commit != "" {
		info.Revision = commit
	}
	if raw := os.Getenv("BUILD_TIME"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			info.BuildTime = t
		}
	}

	return info
}

func (b BuildInfo) String() string {
	revision := b.Revision
	if len(revision) > 7 {
		revision = revision[:7]
	}
	if b.Modified {
		revision += "-dirty"
	}
	if b.BuildTime.IsZero() {
		return fmt.Sprintf("%s %s %s", revision, b.GoVersion, b.Platform)
	}
	return fmt.Sprintf("%s (%s) %s %s", revision, b.BuildTime.Format("2006-01-02"), b.GoVersion, b.Platform)
}
