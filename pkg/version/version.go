// Package version carries build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Name is the program name reported in version output and User-Agent headers.
const Name = "avr-sts"

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func GetVersionInfo() string {
	return fmt.Sprintf("%s version %s (commit: %s, built: %s, go: %s)",
		Name, Version, GitCommit, BuildTime, runtime.Version())
}

// UserAgent identifies the gateway on outbound connections.
func UserAgent() string {
	return Name + "/" + Version
}
