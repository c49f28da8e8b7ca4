// SPDX-License-Identifier: MIT
//
// Package build carries the metadata embedded into the binary at link time:
//
//	go build -ldflags "-X tapbeat/pkg/build.buildName=tapbeat \
//	  -X tapbeat/pkg/build.buildVersion=0.1.0 \
//	  -X tapbeat/pkg/build.buildCommit=$(git rev-parse --short HEAD) \
//	  -X tapbeat/pkg/build.buildTime=$(date -u +%FT%TZ)"
//
// Development builds carry no flags and report "dev" defaults.
package build

import (
	"errors"
	"fmt"
)

// Description is the one-line summary shown by the CLI.
const Description = "Live audio onset detection"

// Info is the build metadata.
type Info struct {
	Name    string
	Time    string
	Commit  string
	Version string
}

// String formats the version line printed by --version.
func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, i.Commit, i.Time)
}

// Package-level variables for build information, populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = &Info{
		Name:    "tapbeat",
		Time:    "unknown",
		Commit:  "unknown",
		Version: "dev",
	}
)

// Initialize copies the ldflags variables into the build info. A binary
// linked with none of them keeps the development defaults; a binary linked
// with only some of them is misbuilt and gets an error.
func Initialize() error {
	if buildName == "" && buildTime == "" && buildCommit == "" && buildVersion == "" {
		return nil
	}

	var errs []error
	if buildName == "" {
		errs = append(errs, errors.New("BuildName is required"))
	}
	if buildTime == "" {
		errs = append(errs, errors.New("BuildTime is required"))
	}
	if buildCommit == "" {
		errs = append(errs, errors.New("BuildCommit is required"))
	}
	if buildVersion == "" {
		errs = append(errs, errors.New("BuildVersion is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	buildFlags.Name = buildName
	buildFlags.Time = buildTime
	buildFlags.Commit = buildCommit
	buildFlags.Version = buildVersion
	return nil
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *Info {
	return buildFlags
}
