package bsaread

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"ttwinstall/internal/bsa"
)

func buildSampleArchive(t *testing.T) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.bsa")

	h := bsa.Create()
	defer h.Free()
	require.NoError(t, h.AddFile("meshes", "a.nif", []byte("hello")))
	require.NoError(t, h.Write(path, bsa.VersionFO3))
	return path
}

func TestGetHandleOpensOnceAndReuses(t *testing.T) {
	path := buildSampleArchive(t)
	c := NewCache(zerolog.Nop())

	h1, err := c.GetHandle(path)
	require.NoError(t, err)
	h2, err := c.GetHandle(path)
	require.NoError(t, err)

	require.Same(t, h1, h2)
	require.Equal(t, 1, c.Count())
}

func TestExtractReadsEntry(t *testing.T) {
	path := buildSampleArchive(t)
	c := NewCache(zerolog.Nop())

	data, err := c.Extract(path, "meshes/a.nif")
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestGetHandleConcurrentCallersShareOneOpen(t *testing.T) {
	path := buildSampleArchive(t)
	c := NewCache(zerolog.Nop())

	const workers = 16
	done := make(chan *bsa.Handle, workers)
	for i := 0; i < workers; i++ {
		go func() {
			h, err := c.GetHandle(path)
			require.NoError(t, err)
			done <- h
		}()
	}

	first := <-done
	for i := 1; i < workers; i++ {
		h := <-done
		require.Same(t, first, h)
	}
	require.Equal(t, 1, c.Count())
}

func TestDisposeClosesAllHandles(t *testing.T) {
	path := buildSampleArchive(t)
	c := NewCache(zerolog.Nop())

	_, err := c.GetHandle(path)
	require.NoError(t, err)

	require.NoError(t, c.Dispose())
	require.Equal(t, 0, c.Count())

	_, err = c.Extract(path, "meshes/a.nif")
	require.NoError(t, err)
}
