package validate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"ttwinstall/internal/hashsum"
	"ttwinstall/internal/location"
	"ttwinstall/internal/manifest"
)

func setupValidator(t *testing.T) (*Validator, string) {
	dir := t.TempDir()
	res := location.NewResolver(location.Roots{Destination: dir})
	locs := []manifest.Location{
		{Type: manifest.LocationDirectory, Value: "%DESTINATION%"},
	}
	return NewValidator(res, locs), dir
}

func TestFileExistsCheckPass(t *testing.T) {
	v, dir := setupValidator(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))

	pass, report := v.Run([]manifest.Check{
		{Type: manifest.CheckFileExists, Loc: 0, File: "a.txt"},
	})
	require.True(t, pass)
	require.Empty(t, report)
}

func TestFileExistsCheckFailWithCustomMessage(t *testing.T) {
	v, _ := setupValidator(t)

	pass, report := v.Run([]manifest.Check{
		{Type: manifest.CheckFileExists, Loc: 0, File: "missing.txt", CustomMessage: "install the base game first"},
	})
	require.False(t, pass)
	require.Contains(t, report, "install the base game first")
}

func TestFileExistsCheckInverted(t *testing.T) {
	v, _ := setupValidator(t)

	pass, _ := v.Run([]manifest.Check{
		{Type: manifest.CheckFileExists, Loc: 0, File: "absent.txt", Inverted: true},
	})
	require.True(t, pass)
}

func TestFileExistsCheckWithChecksum(t *testing.T) {
	v, dir := setupValidator(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))
	md5Hex := hashsum.Bytes([]byte("hello"), hashsum.MD5)

	pass, _ := v.Run([]manifest.Check{
		{Type: manifest.CheckFileExists, Loc: 0, File: "a.txt", Checksums: []string{md5Hex}},
	})
	require.True(t, pass)

	pass, report := v.Run([]manifest.Check{
		{Type: manifest.CheckFileExists, Loc: 0, File: "a.txt", Checksums: []string{"deadbeefdeadbeefdeadbeefdeadbeef"}},
	})
	require.False(t, pass)
	require.Contains(t, report, "checksum mismatch")
}

func TestFreeSizeCheckIsNoOp(t *testing.T) {
	v, _ := setupValidator(t)
	pass, _ := v.Run([]manifest.Check{{Type: manifest.CheckFreeSize, Loc: 0}})
	require.True(t, pass)
}

func TestRestrictedPathCheck(t *testing.T) {
	res := location.NewResolver(location.Roots{Destination: `C:/Program Files/Games`})
	locs := []manifest.Location{{Type: manifest.LocationDirectory, Value: "%DESTINATION%"}}
	v := NewValidator(res, locs)

	pass, report := v.Run([]manifest.Check{
		{Type: manifest.CheckNoRestrictedPath, Loc: 0, File: "x.esm"},
	})
	require.False(t, pass)
	require.Contains(t, report, "restricted area")
}
