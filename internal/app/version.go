package app

import (
	"fmt"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/heartmarshall/fedrecords/internal/app.Version=...".
var (
	Version = "dev"
	Commit  = ""
)

// BuildVersion reports the release and the commit it was built from. When
// no commit was stamped at link time the VCS revision recorded by the Go
// toolchain is used, shortened to twelve characters.
func BuildVersion() string {
	commit := Commit
	if commit == "" {
		commit = vcsRevision()
	}
	if commit == "" {
		return Version
	}
	return fmt.Sprintf("%s+%s", Version, commit)
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return ""
}
