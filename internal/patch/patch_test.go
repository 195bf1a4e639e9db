package patch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestApplyUncompressedPatch(t *testing.T) {
	dir := t.TempDir()
	scratch := t.TempDir()

	// fake binary-patch tool: writes "ref+patch" content to output
	tool := writeScript(t, dir, "binary-patch", `
ref="$4"
patch="$5"
out="$6"
cat "$ref" "$patch" > "$out"
`)

	e := NewEngine(tool, "", zerolog.Nop())
	result, err := e.Apply(context.Background(), []byte("REF"), []byte("PATCH"), scratch)
	require.NoError(t, err)
	require.Equal(t, "REFPATCH", string(result))
}

func TestApplyLZ4FramedPatchInvokesDecoder(t *testing.T) {
	dir := t.TempDir()
	scratch := t.TempDir()

	lz4Tool := writeScript(t, dir, "lz4-decode", `
in="$3"
out="$4"
tail -c +5 "$in" > "$out"
`)
	patchTool := writeScript(t, dir, "binary-patch", `
ref="$4"
patch="$5"
out="$6"
cat "$ref" "$patch" > "$out"
`)

	e := NewEngine(patchTool, lz4Tool, zerolog.Nop())
	framed := append([]byte{0x04, 0x22, 0x4D, 0x18}, []byte("REALPATCH")...)

	result, err := e.Apply(context.Background(), []byte("REF"), framed, scratch)
	require.NoError(t, err)
	require.Equal(t, "REFREALPATCH", string(result))
}

func TestApplyClassifiesChecksumMismatchHint(t *testing.T) {
	dir := t.TempDir()
	scratch := t.TempDir()

	tool := writeScript(t, dir, "binary-patch", `
echo "checksum mismatch in patch header" >&2
exit 1
`)

	e := NewEngine(tool, "", zerolog.Nop())
	_, err := e.Apply(context.Background(), []byte("REF"), []byte("PATCH"), scratch)
	require.Error(t, err)

	var patchErr *Error
	require.ErrorAs(t, err, &patchErr)
	require.Equal(t, HintSourceWrongVersion, patchErr.Hint)
}

func TestApplyUnclassifiedFailureHasNoHint(t *testing.T) {
	dir := t.TempDir()
	scratch := t.TempDir()

	tool := writeScript(t, dir, "binary-patch", `
echo "some other failure" >&2
exit 1
`)

	e := NewEngine(tool, "", zerolog.Nop())
	_, err := e.Apply(context.Background(), []byte("REF"), []byte("PATCH"), scratch)
	require.Error(t, err)

	var patchErr *Error
	require.ErrorAs(t, err, &patchErr)
	require.Empty(t, patchErr.Hint)
}

func TestShortBlobTreatedAsUncompressed(t *testing.T) {
	require.False(t, isLZ4Framed([]byte{0x04, 0x22}))
	require.True(t, isLZ4Framed([]byte{0x04, 0x22, 0x4D, 0x18, 0x01}))
}
