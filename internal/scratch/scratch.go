// Package scratch implements the package extractor (spec §4.4) and the
// process-wide scratch-directory registry (spec §4.15/C15).
//
// Grounded on the teacher's global-registry-with-explicit-init/teardown
// idiom (spec §9 "Global registry (scratch-directory list)") and on
// holo-build's rootPath-build-then-RemoveAll pattern in
// common/build.go's Package.Build.
package scratch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReservedPrefix names every scratch directory this module creates under
// the OS temporary root, so a stale-sweep can recognize (and only ever
// delete) directories that belong to this installer.
const ReservedPrefix = "ttw_mpi_"

// PackageSuffix is the on-disk extension of a packaged archive (spec §6).
const PackageSuffix = ".mpi"

// ManifestEntryPath is the mandatory manifest location inside a package
// (spec §6).
const ManifestEntryPath = "_package/index.json"

// Registry tracks every scratch directory created during the process
// lifetime so they can all be removed on teardown. Leftovers from a
// crashed prior run are not tracked here; SweepStale finds those by
// name under the temporary root.
type Registry struct {
	mu   sync.Mutex
	dirs map[string]struct{}
}

// NewRegistry returns an empty scratch-directory registry.
func NewRegistry() *Registry {
	return &Registry{dirs: make(map[string]struct{})}
}

// Register adds a directory to the registry.
func (r *Registry) Register(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirs[dir] = struct{}{}
}

// Unregister removes a directory from the registry, e.g. after it has
// been successfully deleted.
func (r *Registry) Unregister(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dirs, dir)
}

// CleanupAll deletes every registered directory whose name matches the
// reserved prefix (safety guard against ever deleting an unrelated
// directory), logging but not propagating individual failures.
func (r *Registry) CleanupAll(log zerolog.Logger) {
	r.mu.Lock()
	dirs := make([]string, 0, len(r.dirs))
	for d := range r.dirs {
		dirs = append(dirs, d)
	}
	r.mu.Unlock()

	for _, d := range dirs {
		if !isReserved(d) {
			log.Warn().Str("dir", d).Msg("refusing to clean up non-reserved scratch directory")
			continue
		}
		if err := os.RemoveAll(d); err != nil {
			log.Warn().Err(err).Str("dir", d).Msg("failed to remove scratch directory")
			continue
		}
		r.Unregister(d)
	}
}

func isReserved(dir string) bool {
	return strings.HasPrefix(filepath.Base(dir), ReservedPrefix)
}

// SweepStale removes any directory directly under tempRoot whose name
// matches the reserved prefix, intended to run once at process startup
// to clean up after a prior crashed run (spec §5, §8 invariant 7).
func SweepStale(tempRoot string, log zerolog.Logger) (removed int, err error) {
	entries, err := os.ReadDir(tempRoot)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), ReservedPrefix) {
			continue
		}
		full := filepath.Join(tempRoot, e.Name())
		if rmErr := os.RemoveAll(full); rmErr != nil {
			log.Warn().Err(rmErr).Str("dir", full).Msg("stale scratch sweep: failed to remove")
			continue
		}
		removed++
	}
	return removed, nil
}

// Extractor resolves the package input (an .mpi archive file or an
// already-extracted directory) to a directory it can be read from,
// extracting archives into a freshly created, registered scratch
// directory when necessary.
type Extractor struct {
	registry *Registry
	tempRoot string
	log      zerolog.Logger
}

// NewExtractor constructs an Extractor that creates scratch directories
// under tempRoot (typically os.TempDir()) and registers them with
// registry.
func NewExtractor(registry *Registry, tempRoot string, log zerolog.Logger) *Extractor {
	return &Extractor{registry: registry, tempRoot: tempRoot, log: log}
}

// ArchiveEntryReader abstracts the archive codec's read surface so this
// package doesn't import internal/bsa directly (extraction needs only a
// minimal subset: enumerate + extract + close).
type ArchiveEntryReader interface {
	Entries() []string
	Extract(entryPath string) ([]byte, error)
	Close() error
}

// ArchiveOpener opens a package archive for enumeration/extraction. It is
// injected so the extractor does not hard-depend on a concrete codec
// package, keeping this package testable with a fake.
type ArchiveOpener func(path string) (ArchiveEntryReader, error)

// Resolve returns a directory to read the package from. If input is a
// directory, it's returned unchanged. If input is a file whose name ends
// with PackageSuffix, its entries are extracted into a new scratch
// directory, which is registered for cleanup and returned.
func (x *Extractor) Resolve(input string, open ArchiveOpener) (string, error) {
	info, err := os.Stat(input)
	if err != nil {
		return "", fmt.Errorf("scratch: cannot stat package path %s: %w", input, err)
	}

	if info.IsDir() {
		return input, nil
	}

	if !strings.EqualFold(filepath.Ext(input), PackageSuffix) {
		return "", fmt.Errorf("scratch: %s is not a directory or a %s package", input, PackageSuffix)
	}

	dest := filepath.Join(x.tempRoot, ReservedPrefix+uuid.NewString())
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("scratch: creating scratch directory: %w", err)
	}
	x.registry.Register(dest)

	reader, err := open(input)
	if err != nil {
		return "", fmt.Errorf("scratch: opening package archive: %w", err)
	}
	defer reader.Close()

	for _, entry := range reader.Entries() {
		data, err := reader.Extract(entry)
		if err != nil {
			return "", fmt.Errorf("scratch: extracting %s: %w", entry, err)
		}
		target := filepath.Join(dest, filepath.FromSlash(entry))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return "", err
		}
	}

	x.log.Info().Str("dest", dest).Int("entries", len(reader.Entries())).Msg("extracted package archive")
	return dest, nil
}

// Cleanup removes a scratch directory previously returned by Resolve,
// provided it matches the reserved prefix.
func (x *Extractor) Cleanup(dir string) {
	if !isReserved(dir) {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		x.log.Warn().Err(err).Str("dir", dir).Msg("failed to clean up scratch directory")
		return
	}
	x.registry.Unregister(dir)
}
