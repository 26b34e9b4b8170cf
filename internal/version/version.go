// Package version holds build metadata set with -ldflags, for example
//
//	go build -ldflags "-X github.com/banshee-data/imu-logger/internal/version.Version=v0.3.0"
package version

import "fmt"

var (
	// Version is the release tag, "dev" for local builds.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

const shortSHA = 7

// String returns the version followed by the short commit, e.g.
// "v0.3.0 (1a2b3c4)". The commit is left out when it is unknown.
func String() string {
	sha := GitSHA
	if sha == "" || sha == "unknown" {
		return Version
	}
	if len(sha) > shortSHA {
		sha = sha[:shortSHA]
	}
	return fmt.Sprintf("%s (%s)", Version, sha)
}

// Long returns String plus the build time, for -version output.
func Long() string {
	if BuildTime == "" || BuildTime == "unknown" {
		return String()
	}
	return fmt.Sprintf("%s built %s", String(), BuildTime)
}
