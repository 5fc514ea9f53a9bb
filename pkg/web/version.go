package web

import (
	"runtime"
	"sync/atomic"
)

// BuildInfo identifies the running binary in /api/status.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

var buildInfo atomic.Pointer[BuildInfo]

func init() {
	SetBuildInfo(BuildInfo{Version: "dev", Commit: "unknown", BuildTime: "unknown"})
}

// SetBuildInfo records the version stamped into the binary at link time.
func SetBuildInfo(info BuildInfo) {
	if info.GoVersion == "" {
		info.GoVersion = runtime.Version()
	}
	buildInfo.Store(&info)
}

// CurrentBuildInfo returns the recorded build information.
func CurrentBuildInfo() BuildInfo {
	return *buildInfo.Load()
}
