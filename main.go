package main

import (
	"fmt"
	"os"

	"github.com/tphakala/upc-lookup/cmd"
	"github.com/tphakala/upc-lookup/internal/buildinfo"
	"github.com/tphakala/upc-lookup/internal/conf"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   = "dev"
	buildDate = buildinfo.UnknownValue
)

func main() {
	build := &buildinfo.Context{Version: version, BuildDate: buildDate}
	settings := &conf.Settings{}

	if err := cmd.RootCommand(settings, build).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
