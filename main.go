// reqguard is a request security pipeline in front of a small account and
// profile application.
package main

import (
	"github.com/alecthomas/kong"
	"github.com/reqguard/reqguard/internal/cli"
)

var version = "dev" // has to be set by ldflags

func main() {
	cli := &cli.CLI{}
	ctx := kong.Parse(cli, kong.Vars{
		"version": version,
	})

	ctx.FatalIfErrorf(ctx.Run(cli, version))
}
