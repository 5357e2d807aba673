// Package version carries build metadata stamped in with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Name is the binary and telemetry service name.
const Name = "parlance"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func String() string {
	return fmt.Sprintf("%s %s (commit=%s, date=%s, go=%s)", Name, Version, Commit, Date, runtime.Version())
}
