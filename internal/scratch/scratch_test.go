package scratch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeArchive struct {
	entries map[string][]byte
	closed  bool
}

func (f *fakeArchive) Entries() []string {
	names := make([]string, 0, len(f.entries))
	for k := range f.entries {
		names = append(names, k)
	}
	return names
}

func (f *fakeArchive) Extract(entryPath string) ([]byte, error) {
	return f.entries[entryPath], nil
}

func (f *fakeArchive) Close() error {
	f.closed = true
	return nil
}

func TestResolveDirectoryPassthrough(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry()
	x := NewExtractor(reg, t.TempDir(), zerolog.Nop())

	resolved, err := x.Resolve(dir, nil)
	require.NoError(t, err)
	require.Equal(t, dir, resolved)
}

func TestResolveExtractsPackage(t *testing.T) {
	tempRoot := t.TempDir()
	pkgFile := filepath.Join(tempRoot, "mod.mpi")
	require.NoError(t, os.WriteFile(pkgFile, []byte("not a real archive"), 0o644))

	reg := NewRegistry()
	x := NewExtractor(reg, tempRoot, zerolog.Nop())

	fa := &fakeArchive{entries: map[string][]byte{
		"_package/index.json": []byte(`{"Package":{}}`),
		"meshes/a.nif":         []byte("data"),
	}}

	resolved, err := x.Resolve(pkgFile, func(path string) (ArchiveEntryReader, error) {
		require.Equal(t, pkgFile, path)
		return fa, nil
	})
	require.NoError(t, err)
	require.True(t, isReserved(resolved))

	data, err := os.ReadFile(filepath.Join(resolved, ManifestEntryPath))
	require.NoError(t, err)
	require.JSONEq(t, `{"Package":{}}`, string(data))
	require.True(t, fa.closed)

	x.Cleanup(resolved)
	_, err = os.Stat(resolved)
	require.True(t, os.IsNotExist(err))
}

func TestSweepStale(t *testing.T) {
	tempRoot := t.TempDir()
	stale := filepath.Join(tempRoot, ReservedPrefix+"leftover")
	require.NoError(t, os.MkdirAll(stale, 0o755))
	keep := filepath.Join(tempRoot, "unrelated")
	require.NoError(t, os.MkdirAll(keep, 0o755))

	removed, err := SweepStale(tempRoot, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = os.Stat(stale)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(keep)
	require.NoError(t, err)
}
