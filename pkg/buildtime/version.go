// Package buildtime holds the version stamped into the binary at build time.
//
// VERSION and revision are replaced by the release build.
package buildtime

import (
	_ "embed"
	"strings"
)

var (
	//go:embed VERSION
	version string

	//go:embed revision
	revision string
)

// Version is the release version of the driver, like "v0.1.0".
func Version() string {
	return strings.TrimSpace(version)
}

// Revision is the git commit the driver is built from, or "unknown".
func Revision() string {
	if r := strings.TrimSpace(revision); r != "" {
		return r
	}
	return "unknown"
}

// Banner identifies the driver build, as "command/version (commit: rev)".
//
// It is logged at startup and printed by --version.
func Banner(command string) string {
	return command + "/" + Version() + " (commit: " + Revision() + ")"
}
