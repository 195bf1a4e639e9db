package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRequiresDestinationAndPackagePath(t *testing.T) {
	c := InstallConfig{}
	require.Error(t, c.Validate())

	c.Destination = t.TempDir()
	require.Error(t, c.Validate())

	c.PackagePath = "foo.mpi"
	require.NoError(t, c.Validate())
}

func TestValidateRequiresSignatureExecutableWhenRootSet(t *testing.T) {
	root := t.TempDir()
	c := InstallConfig{
		Destination: t.TempDir(),
		PackagePath: "foo.mpi",
		Fallout3:    GameRoot{Root: root},
	}
	require.Error(t, c.Validate())

	require.NoError(t, os.WriteFile(filepath.Join(root, "Fallout3.exe"), []byte{}, 0o644))
	require.NoError(t, c.Validate())
}

func TestDataDirDefaultsUnderRoot(t *testing.T) {
	g := GameRoot{Root: "/games/fo3"}
	require.Equal(t, filepath.Join("/games/fo3", "Data"), g.DataDir())
}

func TestDataDirOverrideWins(t *testing.T) {
	g := GameRoot{Root: "/games/fo3", DataOverride: "/custom/out"}
	require.Equal(t, "/custom/out", g.DataDir())
}

func TestRootsProjection(t *testing.T) {
	c := InstallConfig{
		Destination: "/dst",
		Fallout3:    GameRoot{Root: "/games/fo3"},
	}
	roots := c.Roots()
	require.Equal(t, "/dst", roots.Destination)
	require.Equal(t, "/games/fo3", roots.FO3Root)
	require.Equal(t, filepath.Join("/games/fo3", "Data"), roots.FO3Data)
}
