package main

import (
	"os"

	"github.com/go-delve/pywalk/cmd/pywalk/cmds"
	"github.com/go-delve/pywalk/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.PywalkVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
