// Package version reports which build of the artwork daemon is running.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set with -ldflags "-X". When unset, GitCommit and BuildTime are read
// from the VCS stamp the Go toolchain embeds.
var (
	Name      = "Stellar Artwork"
	Version   = "0.1.0"
	BuildTime = ""
	GitCommit = ""
)

// ProjectURL is sent in the User-Agent so metadata services can reach us.
const ProjectURL = "https://github.com/edumarques81/stellar-artwork"

// Info describes the running build. It is served on /api/v1/version.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	BuildTime string `json:"buildTime,omitempty"`
	GitCommit string `json:"gitCommit,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"goVersion"`
}

var (
	vcsOnce sync.Once
	vcs     map[string]string
)

func vcsSettings() map[string]string {
	vcsOnce.Do(func() {
		vcs = map[string]string{}
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, s := range bi.Settings {
			vcs[s.Key] = s.Value
		}
	})
	return vcs
}

// GetInfo returns the build information, preferring link-time values.
func GetInfo() Info {
	info := Info{
		Name:      Name,
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
	}
	s := vcsSettings()
	if info.GitCommit == "" {
		info.GitCommit = s["vcs.revision"]
		info.Modified = s["vcs.modified"] == "true"
	}
	if info.BuildTime == "" {
		info.BuildTime = s["vcs.time"]
	}
	return info
}

// String formats the build as "Name vX (commit) built T".
func (i Info) String() string {
	s := fmt.Sprintf("%s v%s", i.Name, i.Version)
	if i.GitCommit != "" {
		commit := i.GitCommit[:min(7, len(i.GitCommit))]
		if i.Modified {
			commit += "-dirty"
		}
		s += fmt.Sprintf(" (%s)", commit)
	}
	if i.BuildTime != "" {
		s += fmt.Sprintf(" built %s", i.BuildTime)
	}
	return s
}

// UserAgent returns the User-Agent for outgoing HTTP requests, in the
// "app/version (contact)" form MusicBrainz asks for.
func (i Info) UserAgent() string {
	return fmt.Sprintf("StellarArtwork/%s (%s)", i.Version, ProjectURL)
}
