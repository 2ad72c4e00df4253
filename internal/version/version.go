// Package version carries the build stamp of loopweb-server and loopget.
// Release builds set the variables below with -ldflags; binaries built with
// go install fall back to the VCS data embedded by the toolchain.
package version

import (
	"fmt"
	"os"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
)

const unknown = "unknown"

// Stamped at link time, e.g. -X loopweb/internal/version.Version=v1.1.2.
var (
	Version   = unknown
	BuildDate = unknown
	GitCommit = unknown
)

// Info describes the running binary. InstanceID tells replicas apart in logs
// and traces.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info

	readBuildInfo = debug.ReadBuildInfo
)

// GetInfo returns the build stamp of this process. It is computed once.
func GetInfo() Info {
	once.Do(func() {
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			InstanceID: uuid.NewString(),
			Hostname:   hostname(),
		}
		fillFromBuildInfo(&info)
	})
	return info
}

// fillFromBuildInfo replaces unstamped fields with the module version and
// vcs settings recorded by the go command.
func fillFromBuildInfo(i *Info) {
	bi, ok := readBuildInfo()
	if !ok {
		return
	}

	if i.Version == unknown && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		i.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && i.GitCommit == unknown:
			i.GitCommit = s.Value
		case s.Key == "vcs.time" && i.BuildDate == unknown:
			i.BuildDate = s.Value
		}
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return unknown
	}
	return h
}

// String is the text printed by the version commands.
func (i Info) String() string {
	return fmt.Sprintf("loopweb version %s (commit: %s, built: %s)", i.Version, i.GitCommit, i.BuildDate)
}

// UserAgent is the User-Agent sent to GitHub and to the release proxy.
func (i Info) UserAgent(product string) string {
	return fmt.Sprintf("%s/%s (+https://github.com/maildan/loop)", product, i.Version)
}
