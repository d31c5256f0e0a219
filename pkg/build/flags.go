// SPDX-License-Identifier: MIT
//
// Package build exposes build metadata injected at compile time via
// -ldflags, e.g.:
//
//	go build -ldflags "-X visualizer/pkg/build.buildName=vizd -X visualizer/pkg/build.buildVersion=0.1.0 ..."
package build

import "fmt"

type ldFlags struct {
	Name    string // Application name
	Time    string // Build timestamp
	Commit  string // Git commit hash
	Version string // Semantic version
}

// Package-level variables populated by -ldflags during compilation.
// Development builds fall back to "dev".
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = &ldFlags{
		Name:    "vizd",
		Time:    "dev",
		Commit:  "dev",
		Version: "dev",
	}
)

// Initialize copies build information from the ldflags variables into
// the buildFlags struct. Call it early in program startup. Returns an
// error if the flags were only partially provided.
func Initialize() error {
	if buildName == "" && buildTime == "" && buildCommit == "" && buildVersion == "" {
		return nil // Development build, keep defaults.
	}
	if buildName == "" || buildTime == "" || buildCommit == "" || buildVersion == "" {
		return fmt.Errorf("incomplete build flags: name=%q time=%q commit=%q version=%q",
			buildName, buildTime, buildCommit, buildVersion)
	}

	buildFlags.Name = buildName
	buildFlags.Time = buildTime
	buildFlags.Commit = buildCommit
	buildFlags.Version = buildVersion
	return nil
}

// GetBuildFlags returns the current build information. Initialize()
// should be called first; otherwise development defaults are returned.
func GetBuildFlags() *ldFlags {
	return buildFlags
}
