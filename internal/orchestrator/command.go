package orchestrator

import (
	"strings"

	"git.home.luguber.info/inful/buildwatch/internal/builder"
	"git.home.luguber.info/inful/buildwatch/internal/diagnostics"
	"git.home.luguber.info/inful/buildwatch/internal/proc"
)

// buildScript assembles one build attempt as a single shell pipeline:
// preBuild commands, the sentinel-wrapped compiler invocation, postBuild
// commands, all chained with "&&". One shell session means environment set
// up by preBuild is visible to the compiler and to postBuild, and a failing
// step short-circuits the rest.
//
// The sentinels are echoed by the pipeline itself, so everything preBuild
// and postBuild print lands outside the diagnostics capture window.
func buildScript(cfg builder.BuilderConfig, opts Options) string {
	compiler := make([]string, 0, 1+len(opts.BaseArgs)+len(cfg.CompilerArgs)+len(opts.MachineArgs))
	compiler = append(compiler, opts.CompilerCommand)
	compiler = append(compiler, opts.BaseArgs...)
	compiler = append(compiler, cfg.CompilerArgs...)
	compiler = append(compiler, opts.MachineArgs...)

	sections := make([]string, 0, len(cfg.PreBuild)+3+len(cfg.PostBuild))
	sections = append(sections, cfg.PreBuild...)
	sections = append(sections,
		proc.EchoLine(diagnostics.SentinelStart),
		strings.Join(compiler, " "),
		proc.EchoLine(diagnostics.SentinelEnd),
	)
	sections = append(sections, cfg.PostBuild...)

	return strings.Join(sections, " && ")
}
