//go:build !windows

package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"git.home.luguber.info/inful/buildwatch/internal/builder"
)

func TestBuildScriptFullPipeline(t *testing.T) {
	cfg := builder.BuilderConfig{
		CompilerArgs: []string{"--target=build"},
		PreBuild:     []string{"npm ci", "./generate.sh"},
		PostBuild:    []string{"cp -r compiled dist"},
	}

	script := buildScript(cfg, Options{}.WithDefaults())

	assert.Equal(t,
		"npm ci && ./generate.sh && "+
			"echo '####START####' && "+
			"qx compile --target=build --machine-readable --feedback=false && "+
			"echo '####END####' && "+
			"cp -r compiled dist",
		script)
}

func TestBuildScriptMinimal(t *testing.T) {
	script := buildScript(builder.BuilderConfig{}, Options{}.WithDefaults())

	assert.Equal(t,
		"echo '####START####' && qx compile --machine-readable --feedback=false && echo '####END####'",
		script)
}

func TestBuildScriptSuppressedDefaults(t *testing.T) {
	opts := Options{
		CompilerCommand: "/tmp/fake",
		BaseArgs:        []string{},
		MachineArgs:     []string{},
	}.WithDefaults()

	script := buildScript(builder.BuilderConfig{CompilerArgs: []string{"x"}}, opts)
	assert.Equal(t, "echo '####START####' && /tmp/fake x && echo '####END####'", script)
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.WithDefaults()

	assert.Equal(t, "qx", opts.CompilerCommand)
	assert.Equal(t, []string{"compile"}, opts.BaseArgs)
	assert.Equal(t, []string{"--machine-readable", "--feedback=false"}, opts.MachineArgs)
	assert.Equal(t, []string{".js"}, opts.SourceExtensions)
	assert.Equal(t, "compiled", opts.OutputDirName)
	assert.Positive(t, opts.Debounce)
}
