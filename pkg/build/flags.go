// SPDX-License-Identifier: MIT
//
// Package build carries the version metadata stamped into the binary with
// linker flags, for example:
//
//	go build -ldflags "-X lfpscope/pkg/build.buildVersion=0.3.0 \
//	    -X lfpscope/pkg/build.buildCommit=$(git rev-parse --short HEAD) \
//	    -X lfpscope/pkg/build.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package build

import (
	"errors"
	"fmt"
)

// Description is the one-line summary shown in the CLI help.
const Description = "Streaming spectral power and coherence for multichannel LFP/EEG"

// Info describes the running binary.
type Info struct {
	Name    string
	Time    string
	Commit  string
	Version string
}

// String renders the info for --version.
func (i Info) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", i.Version, i.Commit, i.Time)
}

// Set by -ldflags. Empty in development builds.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
)

var info = Info{
	Name:    "lfpscope",
	Time:    "unknown",
	Commit:  "unknown",
	Version: "dev",
}

// ErrMissingFlag is returned by Initialize for each flag left unset.
var ErrMissingFlag = errors.New("build flag not set")

// Initialize copies the linker-provided values into the build info. Unset
// values keep their development defaults and are reported together in the
// returned error, which callers may treat as a warning.
func Initialize() error {
	var errs []error
	set := func(dst *string, val, name string) {
		if val == "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingFlag, name))
			return
		}
		*dst = val
	}
	set(&info.Name, buildName, "buildName")
	set(&info.Time, buildTime, "buildTime")
	set(&info.Commit, buildCommit, "buildCommit")
	set(&info.Version, buildVersion, "buildVersion")
	return errors.Join(errs...)
}

// Get returns the current build info.
func Get() Info {
	return info
}
