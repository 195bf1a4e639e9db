// Package process implements the asset processor (C9, spec §4.8,
// §4.10): dispatching an asset by operation type, reading its source
// bytes from an archive or the filesystem (with a case-insensitive
// fallback), running it through the patch or audio engine when called
// for, and writing the result to a staging archive or directly to disk.
//
// Grounded on holo-build's common/build.go, which dispatches a
// declarative Package through a fixed per-format pipeline the same way
// this processor dispatches an Asset through a fixed per-op-type one.
package process

import (
	"bytes"
	"compress/flate"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"ttwinstall/internal/audio"
	"ttwinstall/internal/bsaread"
	"ttwinstall/internal/bsawrite"
	"ttwinstall/internal/location"
	"ttwinstall/internal/manifest"
	"ttwinstall/internal/patch"
)

// zlibQuirkTimeout bounds the raw-deflate decode attempted on a payload
// beginning with the zlib header (spec §9 "Zlib-in-zlib quirk").
const zlibQuirkTimeout = 30 * time.Second

// MissingSourceError reports that an asset's source payload could not be
// located in its declared archive or directory (spec §7 "Missing
// source").
type MissingSourceError struct {
	SourcePath string
	Cause      error
}

func (e *MissingSourceError) Error() string {
	return fmt.Sprintf("process: source %q not found: %v", e.SourcePath, e.Cause)
}

func (e *MissingSourceError) Unwrap() error { return e.Cause }

// UnsupportedOpError reports op-type 3 or any unrecognized op-type
// encountered in an asset (spec §4.8 "op-type 3": "treat as a hard
// error").
type UnsupportedOpError struct {
	OpType manifest.OpType
}

func (e *UnsupportedOpError) Error() string {
	return fmt.Sprintf("process: op-type %d is not supported", e.OpType)
}

// Processor dispatches and executes assets against a resolved profile.
type Processor struct {
	Resolver       *location.Resolver
	Locations      []manifest.Location
	ReadCache      *bsaread.Cache
	WriteCollector *bsawrite.Collector
	PatchEngine    *patch.Engine
	AudioEngine    *audio.Engine

	PackageRoot string
	ScratchDir  string

	Log zerolog.Logger
}

// Process executes one asset end to end (spec §4.8).
func (p *Processor) Process(ctx context.Context, asset manifest.Asset) error {
	target := asset.EffectiveTargetPath()

	switch asset.OpType {
	case manifest.OpCopy:
		data, err := p.readSource(asset.SourceLoc, asset.SourcePath)
		if err != nil {
			return &MissingSourceError{SourcePath: asset.SourcePath, Cause: err}
		}
		return p.writeDispatch(asset.TargetLoc, target, stripZlibQuirk(data))

	case manifest.OpNew:
		data, err := p.readPackageFile(asset.SourcePath)
		if err != nil {
			return &MissingSourceError{SourcePath: asset.SourcePath, Cause: err}
		}
		return p.writeDispatch(asset.TargetLoc, target, data)

	case manifest.OpPatch:
		return p.processPatch(ctx, asset, target)

	case manifest.OpAudioResample:
		data, err := p.readSource(asset.SourceLoc, asset.SourcePath)
		if err != nil {
			return &MissingSourceError{SourcePath: asset.SourcePath, Cause: err}
		}
		out, err := p.AudioEngine.Resample(ctx, stripZlibQuirk(data), asset.Params, p.ScratchDir)
		if err != nil {
			return err
		}
		return p.writeDispatch(asset.TargetLoc, target, out)

	case manifest.OpAudioTranscode:
		data, err := p.readSource(asset.SourceLoc, asset.SourcePath)
		if err != nil {
			return &MissingSourceError{SourcePath: asset.SourcePath, Cause: err}
		}
		out, err := p.AudioEngine.Transcode(ctx, stripZlibQuirk(data), asset.Params, fileExt(asset.SourcePath), fileExt(target), p.ScratchDir)
		if err != nil {
			return err
		}
		return p.writeDispatch(asset.TargetLoc, target, out)

	default:
		return &UnsupportedOpError{OpType: asset.OpType}
	}
}

func (p *Processor) processPatch(ctx context.Context, asset manifest.Asset, target string) error {
	blobPath := filepath.Join(p.PackageRoot, filepath.FromSlash(target)+".xd3")
	blob, err := os.ReadFile(blobPath)
	if err != nil {
		return &MissingSourceError{SourcePath: blobPath, Cause: err}
	}

	reference, err := p.readReferenceForPatch(asset.SourceLoc, asset.SourcePath)
	if err != nil {
		return &MissingSourceError{SourcePath: asset.SourcePath, Cause: err}
	}

	out, err := p.PatchEngine.Apply(ctx, stripZlibQuirk(reference), blob, p.ScratchDir)
	if err != nil {
		return err
	}
	return p.writeDispatch(asset.TargetLoc, target, out)
}

// readSource reads sourcePath from sourceLoc, dispatching on the
// location's kind (spec §4.8 "copy (0)").
func (p *Processor) readSource(locIndex int, sourcePath string) ([]byte, error) {
	loc, err := p.locationAt(locIndex)
	if err != nil {
		return nil, err
	}

	if p.Resolver.IsBsaLocation(loc) {
		bsaPath, err := p.Resolver.GetBsaPath(loc)
		if err != nil {
			return nil, err
		}
		return p.ReadCache.Extract(bsaPath, sourcePath)
	}

	dir, err := p.Resolver.GetDirectoryPath(loc)
	if err != nil {
		return nil, err
	}
	if location.HasUnexpandedMarker(dir) {
		return nil, fmt.Errorf("process: unexpanded variable in location path %q", dir)
	}
	return readFileWithCaseFallback(dir, sourcePath)
}

// readReferenceForPatch applies the same dispatch as readSource but
// falls back to reading straight from the directory the archive would
// have lived in when the archive read comes back empty (spec §4.8
// "patch (2)": "if the archive read returns nothing, fall back to
// <sourceDir>/<sourcePath>").
func (p *Processor) readReferenceForPatch(locIndex int, sourcePath string) ([]byte, error) {
	data, err := p.readSource(locIndex, sourcePath)
	if err == nil && len(data) > 0 {
		return data, nil
	}

	loc, lerr := p.locationAt(locIndex)
	if lerr != nil {
		return nil, err
	}
	if !p.Resolver.IsBsaLocation(loc) {
		return nil, err
	}

	bsaPath, berr := p.Resolver.GetBsaPath(loc)
	if berr != nil {
		return nil, err
	}
	sourceDir := filepath.Dir(filepath.FromSlash(bsaPath))
	return readFileWithCaseFallback(sourceDir, sourcePath)
}

// readPackageFile reads sourcePath relative to the extracted package
// root (spec §4.8 "new (1)").
func (p *Processor) readPackageFile(sourcePath string) ([]byte, error) {
	return readFileWithCaseFallback(p.PackageRoot, sourcePath)
}

func (p *Processor) locationAt(index int) (manifest.Location, error) {
	if index < 0 || index >= len(p.Locations) {
		return manifest.Location{}, fmt.Errorf("process: location index %d out of range", index)
	}
	return p.Locations[index], nil
}

// writeDispatch writes data to target, delegating to the write-archive
// collector when targetLoc is a declared archive target, otherwise
// writing directly to disk (spec §4.10).
func (p *Processor) writeDispatch(targetLoc int, targetPath string, data []byte) error {
	normalized := normalizeEffectiveTargetPath(targetPath)

	if p.WriteCollector != nil && p.WriteCollector.IsBsaLocation(targetLoc) {
		return p.WriteCollector.AddFile(targetLoc, normalized, data)
	}

	loc, err := p.locationAt(targetLoc)
	if err != nil {
		return err
	}
	dir, err := p.Resolver.GetDirectoryPath(loc)
	if err != nil {
		return err
	}
	if location.HasUnexpandedMarker(dir) {
		return fmt.Errorf("process: unexpanded variable in target path %q", dir)
	}

	full := filepath.Join(dir, filepath.FromSlash(normalized))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

// normalizeEffectiveTargetPath strips a leading "./"/".\" and any
// leading separators, preserving case (spec §4.10). Unlike
// bsawrite.NormalizeLogicalPath, direct filesystem writes must not be
// lowercased.
func normalizeEffectiveTargetPath(p string) string {
	out := strings.ReplaceAll(p, "\\", "/")
	out = strings.TrimPrefix(out, "./")
	return strings.TrimLeft(out, "/")
}

func fileExt(p string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(p)), ".")
}

// stripZlibQuirk handles the archive codec's zlib-in-zlib quirk (spec
// §9): a payload beginning `78 9C` is re-decoded as a raw-deflate body
// under a timeout, falling back to the raw bytes on any failure.
func stripZlibQuirk(data []byte) []byte {
	if len(data) < 2 || data[0] != 0x78 || data[1] != 0x9C {
		return data
	}

	decoded, err := inflateWithTimeout(data[2:], zlibQuirkTimeout)
	if err != nil {
		return data
	}
	return decoded
}

func inflateWithTimeout(body []byte, timeout time.Duration) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)

	go func() {
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		data, err := io.ReadAll(r)
		done <- result{data: data, err: err}
	}()

	select {
	case res := <-done:
		return res.data, res.err
	case <-time.After(timeout):
		return nil, errors.New("process: zlib-quirk decode timed out")
	}
}

// readFileWithCaseFallback reads <dir>/<relPath>, normalizing
// Windows-style separators; on a case-sensitive filesystem miss it
// walks dir looking for a case-insensitive match for each path
// component (spec §9 "Case-sensitivity fallback").
func readFileWithCaseFallback(dir, relPath string) ([]byte, error) {
	rel := filepath.FromSlash(strings.ReplaceAll(relPath, "\\", "/"))
	full := filepath.Join(dir, rel)

	data, err := os.ReadFile(full)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	found, ferr := resolveCaseInsensitive(dir, rel)
	if ferr != nil {
		return nil, err
	}
	return os.ReadFile(found)
}

// resolveCaseInsensitive walks from root, matching each path component
// of rel case-insensitively against the directory entries actually on
// disk.
func resolveCaseInsensitive(root, rel string) (string, error) {
	components := strings.Split(filepath.ToSlash(rel), "/")
	current := root

	for _, want := range components {
		entries, err := os.ReadDir(current)
		if err != nil {
			return "", err
		}
		matched := ""
		for _, e := range entries {
			if strings.EqualFold(e.Name(), want) {
				matched = e.Name()
				break
			}
		}
		if matched == "" {
			return "", fmt.Errorf("process: %q not found under %q (case-insensitive)", want, current)
		}
		current = filepath.Join(current, matched)
	}
	return current, nil
}
