package process

import (
	"bytes"
	"compress/flate"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"ttwinstall/internal/audio"
	"ttwinstall/internal/bsa"
	"ttwinstall/internal/bsaread"
	"ttwinstall/internal/bsawrite"
	"ttwinstall/internal/location"
	"ttwinstall/internal/manifest"
	"ttwinstall/internal/patch"
)

func newTestProcessor(t *testing.T, locs []manifest.Location, roots location.Roots) (*Processor, string) {
	scratch := t.TempDir()
	res := location.NewResolver(roots)
	return &Processor{
		Resolver:    res,
		Locations:   locs,
		ReadCache:   bsaread.NewCache(zerolog.Nop()),
		PackageRoot: t.TempDir(),
		ScratchDir:  scratch,
		Log:         zerolog.Nop(),
	}, scratch
}

func TestProcessCopyFromDirectory(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello"), 0o644))

	locs := []manifest.Location{
		{Type: manifest.LocationDirectory, Value: srcDir},
		{Type: manifest.LocationDirectory, Value: dstDir},
	}
	p, _ := newTestProcessor(t, locs, location.Roots{})

	asset := manifest.Asset{OpType: manifest.OpCopy, SourceLoc: 0, TargetLoc: 1, SourcePath: "a.txt"}
	require.NoError(t, p.Process(context.Background(), asset))

	got, err := os.ReadFile(filepath.Join(dstDir, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestProcessCopyFromArchiveStripsZlibQuirk(t *testing.T) {
	dstDir := t.TempDir()
	archiveDir := t.TempDir()
	archivePath := filepath.Join(archiveDir, "src.bsa")

	plain := []byte("the quick brown fox jumps over the lazy dog")
	var compressed bytes.Buffer
	fw, err := flate.NewWriter(&compressed, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = fw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, fw.Close())

	payload := append([]byte{0x78, 0x9C}, compressed.Bytes()...)

	h := bsa.Create()
	require.NoError(t, h.AddFile("meshes", "x.nif", payload))
	require.NoError(t, h.Write(archivePath, bsa.VersionFO3))
	h.Free()

	locs := []manifest.Location{
		{Type: manifest.LocationReadArchive, Value: archivePath},
		{Type: manifest.LocationDirectory, Value: dstDir},
	}
	p, _ := newTestProcessor(t, locs, location.Roots{})

	asset := manifest.Asset{OpType: manifest.OpCopy, SourceLoc: 0, TargetLoc: 1, SourcePath: "meshes/x.nif"}
	require.NoError(t, p.Process(context.Background(), asset))

	got, err := os.ReadFile(filepath.Join(dstDir, "meshes/x.nif"))
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestProcessNewReadsFromPackageRoot(t *testing.T) {
	dstDir := t.TempDir()
	locs := []manifest.Location{
		{Type: manifest.LocationDirectory, Value: "unused"},
		{Type: manifest.LocationDirectory, Value: dstDir},
	}
	p, _ := newTestProcessor(t, locs, location.Roots{})
	require.NoError(t, os.WriteFile(filepath.Join(p.PackageRoot, "embedded.esp"), []byte("ESP"), 0o644))

	asset := manifest.Asset{OpType: manifest.OpNew, SourceLoc: 0, TargetLoc: 1, SourcePath: "embedded.esp"}
	require.NoError(t, p.Process(context.Background(), asset))

	got, err := os.ReadFile(filepath.Join(dstDir, "embedded.esp"))
	require.NoError(t, err)
	require.Equal(t, "ESP", string(got))
}

func TestProcessPatchAppliesReferenceAndBlob(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	toolDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "base.esm"), []byte("REF"), 0o644))

	locs := []manifest.Location{
		{Type: manifest.LocationDirectory, Value: srcDir},
		{Type: manifest.LocationDirectory, Value: dstDir},
	}
	p, scratch := newTestProcessor(t, locs, location.Roots{})

	require.NoError(t, os.MkdirAll(p.PackageRoot, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(p.PackageRoot, "base.esm.xd3"), []byte("PATCHBLOB"), 0o644))

	toolPath := filepath.Join(toolDir, "binary-patch")
	require.NoError(t, os.WriteFile(toolPath, []byte("#!/bin/sh\ncat \"$4\" \"$5\" > \"$6\"\n"), 0o755))
	p.PatchEngine = patch.NewEngine(toolPath, "", zerolog.Nop())
	_ = scratch

	asset := manifest.Asset{OpType: manifest.OpPatch, SourceLoc: 0, TargetLoc: 1, SourcePath: "base.esm", TargetPath: "base.esm"}
	require.NoError(t, p.Process(context.Background(), asset))

	got, err := os.ReadFile(filepath.Join(dstDir, "base.esm"))
	require.NoError(t, err)
	require.Equal(t, "REFPATCHBLOB", string(got))
}

func TestProcessAudioResampleWritesTranscodedOutput(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	toolDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.ogg"), []byte("SOUND"), 0o644))

	locs := []manifest.Location{
		{Type: manifest.LocationDirectory, Value: srcDir},
		{Type: manifest.LocationDirectory, Value: dstDir},
	}
	p, _ := newTestProcessor(t, locs, location.Roots{})

	toolPath := filepath.Join(toolDir, "ffmpeg")
	require.NoError(t, os.WriteFile(toolPath, []byte("#!/bin/sh\nfor out in \"$@\"; do :; done\necho resampled > \"$out\"\n"), 0o755))
	p.AudioEngine = audio.NewEngine(toolPath, zerolog.Nop())

	asset := manifest.Asset{OpType: manifest.OpAudioResample, SourceLoc: 0, TargetLoc: 1, SourcePath: "a.ogg", Params: "-f:24000"}
	require.NoError(t, p.Process(context.Background(), asset))

	got, err := os.ReadFile(filepath.Join(dstDir, "a.ogg"))
	require.NoError(t, err)
	require.Equal(t, "resampled\n", string(got))
}

func TestProcessWriteDispatchToArchiveTarget(t *testing.T) {
	destination := t.TempDir()
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "x.nif"), []byte("MESH"), 0o644))

	locs := []manifest.Location{
		{Type: manifest.LocationDirectory, Value: srcDir},
		{Type: manifest.LocationWriteArchive, Value: filepath.Join(destination, "Meshes.bsa")},
	}
	p, _ := newTestProcessor(t, locs, location.Roots{})

	res := location.NewResolver(location.Roots{})
	collector, err := bsawrite.NewCollector(destination, res, locs, zerolog.Nop())
	require.NoError(t, err)
	p.WriteCollector = collector

	asset := manifest.Asset{OpType: manifest.OpCopy, SourceLoc: 0, TargetLoc: 1, SourcePath: "x.nif"}
	require.NoError(t, p.Process(context.Background(), asset))

	failures, err := collector.WriteAllBsas()
	require.NoError(t, err)
	require.Equal(t, 0, failures)

	h, err := bsa.OpenArchive(filepath.Join(destination, "Meshes.bsa"))
	require.NoError(t, err)
	defer h.Close()
	data, err := h.Extract("x.nif")
	require.NoError(t, err)
	require.Equal(t, "MESH", string(data))
}

func TestProcessMissingSourceReturnsError(t *testing.T) {
	dstDir := t.TempDir()
	srcDir := t.TempDir()
	locs := []manifest.Location{
		{Type: manifest.LocationDirectory, Value: srcDir},
		{Type: manifest.LocationDirectory, Value: dstDir},
	}
	p, _ := newTestProcessor(t, locs, location.Roots{})

	asset := manifest.Asset{OpType: manifest.OpCopy, SourceLoc: 0, TargetLoc: 1, SourcePath: "missing.txt"}
	err := p.Process(context.Background(), asset)
	require.Error(t, err)

	var missing *MissingSourceError
	require.ErrorAs(t, err, &missing)
}

func TestProcessUnsupportedOpTypeIsHardError(t *testing.T) {
	dstDir := t.TempDir()
	srcDir := t.TempDir()
	locs := []manifest.Location{
		{Type: manifest.LocationDirectory, Value: srcDir},
		{Type: manifest.LocationDirectory, Value: dstDir},
	}
	p, _ := newTestProcessor(t, locs, location.Roots{})

	asset := manifest.Asset{OpType: manifest.OpReservedUnused, SourceLoc: 0, TargetLoc: 1, SourcePath: "x"}
	err := p.Process(context.Background(), asset)
	require.Error(t, err)

	var unsupported *UnsupportedOpError
	require.ErrorAs(t, err, &unsupported)
}

func TestCaseInsensitiveFallbackLocatesFile(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "Meshes"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "Meshes", "X.nif"), []byte("MESH"), 0o644))

	locs := []manifest.Location{
		{Type: manifest.LocationDirectory, Value: srcDir},
		{Type: manifest.LocationDirectory, Value: dstDir},
	}
	p, _ := newTestProcessor(t, locs, location.Roots{})

	asset := manifest.Asset{OpType: manifest.OpCopy, SourceLoc: 0, TargetLoc: 1, SourcePath: "meshes/x.nif"}
	require.NoError(t, p.Process(context.Background(), asset))

	got, err := os.ReadFile(filepath.Join(dstDir, "meshes/x.nif"))
	require.NoError(t, err)
	require.Equal(t, "MESH", string(got))
}
