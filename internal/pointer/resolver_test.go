package pointer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/buildwatch/internal/foundation/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver()
	require.NoError(t, err)
	return r
}

func TestResolveLiteralsUnchanged(t *testing.T) {
	r := newResolver(t)

	resolved, err := r.Resolve([]string{"--target=build", "source/class", "--target=build"}, t.TempDir(), "compilerArgs")
	require.NoError(t, err)
	assert.Equal(t, []string{"--target=build", "source/class"}, resolved)
}

func TestResolveEmptyInput(t *testing.T) {
	r := newResolver(t)

	resolved, err := r.Resolve(nil, t.TempDir(), "sourcePaths")
	require.NoError(t, err)
	assert.Empty(t, resolved)
}

func TestResolveJSONPointerArray(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "libs.json", `{"qx": {"paths": ["libs/ui", "libs/core"]}}`)
	r := newResolver(t)

	resolved, err := r.Resolve([]string{"source/class", "libs.json#qx.paths", "tail"}, dir, "sourcePaths")
	require.NoError(t, err)
	assert.Equal(t, []string{"source/class", "tail", "libs/ui", "libs/core"}, resolved)
}

func TestResolveJSONPointerString(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "env.json", `{"target": "build"}`)
	r := newResolver(t)

	resolved, err := r.Resolve([]string{"env.json#target"}, dir, "compilerArgs")
	require.NoError(t, err)
	assert.Equal(t, []string{"build"}, resolved)
}

func TestResolveJSONPointerWholeFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "list.json", `["a", "b"]`)
	r := newResolver(t)

	resolved, err := r.Resolve([]string{"list.json#"}, dir, "sourcePaths")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, resolved)
}

func TestResolveJSONPointerDeduplicatesAgainstLiterals(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "libs.json", `{"paths": ["shared", "unique"]}`)
	r := newResolver(t)

	resolved, err := r.Resolve([]string{"shared", "libs.json#paths"}, dir, "sourcePaths")
	require.NoError(t, err)
	assert.Equal(t, []string{"shared", "unique"}, resolved)
}

func TestResolveNestedJSONPointers(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "outer.json", `{"refs": ["inner.json#paths", "direct"]}`)
	writeFile(t, dir, "inner.json", `{"paths": ["deep/a", "deep/b"]}`)
	r := newResolver(t)

	resolved, err := r.Resolve([]string{"outer.json#refs"}, dir, "sourcePaths")
	require.NoError(t, err)
	assert.Equal(t, []string{"direct", "deep/a", "deep/b"}, resolved)
}

func TestResolveJSONPointerRelativeToDefiningFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "nested/inner.json", `{"paths": ["from-nested"]}`)
	writeFile(t, dir, "nested/outer.json", `{"refs": ["inner.json#paths"]}`)
	r := newResolver(t)

	resolved, err := r.Resolve([]string{"nested/outer.json#refs"}, dir, "sourcePaths")
	require.NoError(t, err)
	assert.Equal(t, []string{"from-nested"}, resolved)
}

func TestResolveJSONPointerMissingFile(t *testing.T) {
	r := newResolver(t)

	_, err := r.Resolve([]string{"absent.json#paths"}, t.TempDir(), "sourcePaths")
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestResolveJSONPointerMissingPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "libs.json", `{"other": []}`)
	r := newResolver(t)

	_, err := r.Resolve([]string{"libs.json#paths"}, dir, "sourcePaths")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path not found")
}

func TestResolveJSONPointerWrongShape(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "libs.json", `{"paths": {"not": "an array"}}`)
	r := newResolver(t)

	_, err := r.Resolve([]string{"libs.json#paths"}, dir, "sourcePaths")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected string or string array")
}

func TestResolveJSONPointerMixedArray(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "libs.json", `{"paths": ["ok", 42]}`)
	r := newResolver(t)

	_, err := r.Resolve([]string{"libs.json#paths"}, dir, "sourcePaths")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected string or string array")
}

func TestResolveBuildPointer(t *testing.T) {
	lib := t.TempDir()
	writeFile(t, lib, MarkerFileName, `{"builders": [{"name": "core", "sourcePaths": ["src/core", "src/util"]}]}`)
	r := newResolver(t)

	resolved, err := r.Resolve([]string{lib + "@core"}, t.TempDir(), "sourcePaths")
	require.NoError(t, err)
	assert.Equal(t, []string{"src/core", "src/util"}, resolved)
}

func TestResolveBuildPointerChainMatchesDirectResolution(t *testing.T) {
	libDir := t.TempDir()
	writeFile(t, libDir, "libs.json", `{"paths": ["libs/ui", "libs/core"]}`)
	writeFile(t, libDir, MarkerFileName, `{"builders": [{"name": "X", "sourcePaths": ["libs.json#paths"]}]}`)

	appDir := t.TempDir()
	writeFile(t, appDir, MarkerFileName, `{"builders": [{"name": "Y", "sourcePaths": ["`+libDir+`@X"]}]}`)

	direct, err := newResolver(t).Resolve([]string{"libs.json#paths"}, libDir, "sourcePaths")
	require.NoError(t, err)

	chained, err := newResolver(t).Resolve([]string{libDir + "@X"}, appDir, "sourcePaths")
	require.NoError(t, err)

	assert.Equal(t, direct, chained)
}

func TestResolveBuildPointerMissingField(t *testing.T) {
	lib := t.TempDir()
	writeFile(t, lib, MarkerFileName, `{"builders": [{"name": "core"}]}`)
	r := newResolver(t)

	resolved, err := r.Resolve([]string{"keep", lib + "@core"}, t.TempDir(), "preBuild")
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, resolved)
}

func TestResolveBuildPointerUnknownBuilder(t *testing.T) {
	lib := t.TempDir()
	writeFile(t, lib, MarkerFileName, `{"builders": [{"name": "core"}]}`)
	r := newResolver(t)

	_, err := r.Resolve([]string{lib + "@nope"}, t.TempDir(), "sourcePaths")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "builder not found")
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestResolveAtWithoutMarkerStaysLiteral(t *testing.T) {
	plainDir := t.TempDir()
	r := newResolver(t)

	resolved, err := r.Resolve([]string{plainDir + "@core", "--author=dev@example"}, t.TempDir(), "compilerArgs")
	require.NoError(t, err)
	assert.Equal(t, []string{plainDir + "@core", "--author=dev@example"}, resolved)
}

func TestResolveCycleAcrossMarkers(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	writeFile(t, dirA, MarkerFileName, `{"builders": [{"name": "X", "sourcePaths": ["`+dirB+`@Y"]}]}`)
	writeFile(t, dirB, MarkerFileName, `{"builders": [{"name": "Y", "sourcePaths": ["`+dirA+`@X"]}]}`)
	r := newResolver(t)

	_, err := r.Resolve([]string{dirA + "@X"}, t.TempDir(), "sourcePaths")
	require.Error(t, err)
	assert.True(t, ferrors.IsCyclicPointer(err))
}

func TestResolveSelfReferencingJSONPointer(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "self.json", `{"list": ["self.json#list"]}`)
	r := newResolver(t)

	_, err := r.Resolve([]string{"self.json#list"}, dir, "sourcePaths")
	require.Error(t, err)
	assert.True(t, ferrors.IsCyclicPointer(err))
}

func TestResolveDiamondReferenceIsLegal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "common.json", `{"paths": ["shared"]}`)
	writeFile(t, dir, "x.json", `{"one": ["common.json#paths", "extra1"], "two": ["common.json#paths", "extra2"]}`)
	r := newResolver(t)

	resolved, err := r.Resolve([]string{"x.json#one", "x.json#two"}, dir, "sourcePaths")
	require.NoError(t, err)
	assert.Equal(t, []string{"extra1", "extra2", "shared"}, resolved)
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Dedupe([]string{"a", "b", "a", "c", "b"}))
	assert.Empty(t, Dedupe(nil))
}
