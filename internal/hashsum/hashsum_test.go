package hashsum

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAlgorithmForDigest(t *testing.T) {
	alg, ok := AlgorithmForDigest("d41d8cd98f00b204e9800998ecf8427e")
	require.True(t, ok)
	require.Equal(t, MD5, alg)

	alg, ok = AlgorithmForDigest("da39a3ee5e6b4b0d3255bfef95601890afd80709")
	require.True(t, ok)
	require.Equal(t, SHA1, alg)

	_, ok = AlgorithmForDigest("not-a-digest")
	require.False(t, ok)
}

func TestMatchesAny(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	md5Hex := Bytes([]byte("hello"), MD5)
	sha1Hex := Bytes([]byte("hello"), SHA1)

	ok, err := MatchesAny(path, []string{"deadbeef"})
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = MatchesAny(path, []string{md5Hex})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = MatchesAny(path, []string{sha1Hex})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = MatchesAny(path, nil)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = MatchesAny(path, []string{"AABBCC"[:0] + md5Hex[:len(md5Hex)-1] + "0"})
	require.NoError(t, err)
	require.False(t, ok)
}
