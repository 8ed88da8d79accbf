package main

import (
	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/buildwatch/cmd/buildwatch/commands"
	"git.home.luguber.info/inful/buildwatch/internal/version"
)

func main() {
	var cli commands.CLI
	ctx := kong.Parse(&cli,
		kong.Name("buildwatch"),
		kong.Description("Compile-on-change runner for qooxdoo projects."),
		kong.UsageOnError(),
		kong.Vars{"version": version.Version},
	)
	ctx.FatalIfErrorf(ctx.Run(&commands.Global{}, &cli))
}
