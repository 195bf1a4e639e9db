// Package bsawrite implements the archive-write collector (spec §4.7,
// §3 "Write-archive staging record"): it declares write-archive targets
// from a profile's locations, stages files written to them on disk, and
// packs each target into a BSA file at the end of a run while detecting
// case-collisions.
//
// Grounded on the teacher's per-distribution packaging pipeline
// (holo-build's pacman/mtree.go walks a staged tree to build a package
// manifest the same way this collector walks a staging directory to
// build an archive) and on vendor/libpackagebuild/filesystem/tar.go's
// walk-then-write-archive shape.
package bsawrite

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"ttwinstall/internal/bsa"
	"ttwinstall/internal/location"
	"ttwinstall/internal/manifest"
)

// StagingDirName is the hidden directory under the destination root that
// holds every write-archive target's staging tree (spec §6).
const StagingDirName = ".ttw_bsa_staging_temp"

// CollisionReportName is the human-readable report emitted alongside the
// destination when any staging collisions were recorded (spec §4.7, E6).
const CollisionReportName = "bsa_collisions_report.txt"

// defaultFlags is used when a write-archive location doesn't specify
// ArchiveFlags explicitly (spec §4.7).
const defaultFlags = bsa.FlagDirectoryStrings | bsa.FlagFileStrings | bsa.FlagCompressed |
	bsa.FlagRetainDirectoryNames | bsa.FlagRetainFileNames | bsa.FlagRetainFileNameOffsets

// Collision records two logical paths that normalized to the same
// staging path (spec §3 GLOSSARY).
type Collision struct {
	Original    string
	Duplicate   string
	StagingPath string
}

// Target is one write-archive location's staging record (spec §3).
type Target struct {
	LocationIndex int
	DisplayName   string
	Flags         bsa.Flags
	Types         bsa.Types
	StagingDir    string

	mu               sync.Mutex
	stagingToLogical map[string]string
	collisions       []Collision
	fileCount        int64
	writeFailures    int64
}

// FileCount returns the number of distinct staged entries (spec invariant
// §8.3).
func (t *Target) FileCount() int64 { return atomic.LoadInt64(&t.fileCount) }

// Collisions returns every recorded collision for this target.
func (t *Target) Collisions() []Collision {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Collision, len(t.collisions))
	copy(out, t.collisions)
	return out
}

// Collector declares write-archive targets from a profile's locations
// and stages files written into them (spec §4.7).
type Collector struct {
	destination string
	log         zerolog.Logger

	order   []int
	targets map[int]*Target
}

// NewCollector scans locs for type-2 locations whose resolved name ends
// in ".bsa" and creates a staging target for each (spec §4.7).
func NewCollector(destination string, res *location.Resolver, locs []manifest.Location, log zerolog.Logger) (*Collector, error) {
	c := &Collector{
		destination: destination,
		log:         log,
		targets:     make(map[int]*Target),
	}

	for idx, loc := range locs {
		if loc.Type != manifest.LocationWriteArchive {
			continue
		}
		expanded := res.ResolvePath(loc)
		name := filepath.Base(filepath.FromSlash(expanded))
		if !strings.HasSuffix(strings.ToLower(name), ".bsa") {
			continue
		}

		flags := bsa.Flags(loc.ArchiveFlags)
		if flags == 0 {
			flags = defaultFlags
		}
		types := bsa.Types(loc.ArchiveType)
		if types == 0 {
			types = inferTypes(name)
		}

		stagingDir := filepath.Join(destination, StagingDirName, fmt.Sprintf("bsa_%d", idx))
		if err := os.MkdirAll(stagingDir, 0o755); err != nil {
			return nil, fmt.Errorf("bsawrite: creating staging directory for %s: %w", name, err)
		}

		c.targets[idx] = &Target{
			LocationIndex:    idx,
			DisplayName:      name,
			Flags:            flags,
			Types:            types,
			StagingDir:       stagingDir,
			stagingToLogical: make(map[string]string),
		}
		c.order = append(c.order, idx)
	}

	sort.Ints(c.order)
	return c, nil
}

func inferTypes(name string) bsa.Types {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "menuvoices"):
		return bsa.TypeMenus | bsa.TypeVoices
	case strings.Contains(lower, "meshes"):
		return bsa.TypeMeshes
	case strings.Contains(lower, "textures"):
		return bsa.TypeTextures
	case strings.Contains(lower, "voices"):
		return bsa.TypeVoices
	case strings.Contains(lower, "sound"):
		return bsa.TypeSounds
	case strings.Contains(lower, "main"):
		return bsa.TypeMeshes | bsa.TypeTextures | bsa.TypeSounds | bsa.TypeVoices | bsa.TypeMisc
	default:
		return bsa.TypeMisc
	}
}

// IsBsaLocation reports whether a write target was declared for loc.
func (c *Collector) IsBsaLocation(locIndex int) bool {
	_, ok := c.targets[locIndex]
	return ok
}

// NormalizeLogicalPath strips a leading "./" or ".\", collapses
// separators to '/', and lowercases the result, matching the BSA
// format's case-insensitive naming (spec §4.7, §9, §8 round-trip
// property).
func NormalizeLogicalPath(logicalPath string) string {
	p := strings.ReplaceAll(logicalPath, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimLeft(p, "/")
	return strings.ToLower(p)
}

// AddFile normalizes logicalPath, stages its bytes under the target's
// staging directory, and records a collision if another logical path
// already normalized to the same staging path (spec §4.7, §3 invariant:
// "the later write overwrites the earlier and a collision entry is
// recorded exactly once").
func (c *Collector) AddFile(locIndex int, logicalPath string, data []byte) error {
	target, ok := c.targets[locIndex]
	if !ok {
		return fmt.Errorf("bsawrite: location %d is not a write-archive target", locIndex)
	}

	normalized := NormalizeLogicalPath(logicalPath)
	stagingPath := filepath.Join(target.StagingDir, filepath.FromSlash(normalized))

	target.mu.Lock()
	prevLogical, exists := target.stagingToLogical[normalized]
	if exists {
		target.collisions = append(target.collisions, Collision{
			Original:    prevLogical,
			Duplicate:   logicalPath,
			StagingPath: normalized,
		})
	} else {
		target.stagingToLogical[normalized] = logicalPath
		atomic.AddInt64(&target.fileCount, 1)
	}
	target.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(stagingPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(stagingPath, data, 0o644)
}

// WriteAllBsas packs every target's staging directory into a BSA file,
// iterating targets in ascending location index (spec §4.7). It returns
// the total number of target-level failures; each failing target is
// skipped without aborting the others (spec §7).
func (c *Collector) WriteAllBsas() (failures int, err error) {
	for _, idx := range c.order {
		target := c.targets[idx]
		outPath := filepath.Join(c.destination, target.DisplayName)
		if err := c.packTarget(target, outPath); err != nil {
			failures++
			atomic.AddInt64(&target.writeFailures, 1)
			c.log.Error().Err(err).Str("archive", target.DisplayName).Msg("failed to write archive")
			continue
		}
		c.log.Info().Str("archive", target.DisplayName).Int64("files", target.FileCount()).Msg("wrote archive")
	}

	if err := c.writeCollisionReport(); err != nil {
		return failures, err
	}
	return failures, nil
}

func (c *Collector) packTarget(target *Target, outPath string) error {
	h := bsa.Create()
	defer h.Free()
	h.SetArchiveFlags(target.Flags)
	h.SetArchiveTypes(target.Types)

	err := filepath.WalkDir(target.StagingDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(target.StagingDir, path)
		if err != nil {
			return err
		}
		rel = strings.ToLower(filepath.ToSlash(rel))
		dir, name := splitDirName(rel)

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return h.AddFile(dir, name, data)
	})
	if err != nil {
		return err
	}

	return h.Write(outPath, bsa.VersionFO3)
}

func splitDirName(relPath string) (dir, name string) {
	idx := strings.LastIndexByte(relPath, '/')
	if idx < 0 {
		return "", relPath
	}
	return relPath[:idx], relPath[idx+1:]
}

func (c *Collector) writeCollisionReport() error {
	var lines []string
	for _, idx := range c.order {
		target := c.targets[idx]
		for _, col := range target.Collisions() {
			lines = append(lines, fmt.Sprintf("%s -> %s (staging: %s)", col.Original, col.Duplicate, col.StagingPath))
		}
	}
	if len(lines) == 0 {
		return nil
	}

	reportPath := filepath.Join(c.destination, CollisionReportName)
	content := strings.Join(lines, "\n") + "\n"
	return os.WriteFile(reportPath, []byte(content), 0o644)
}

// Dispose deletes every target's staging directory. Errors are logged,
// not propagated (spec §3: "destroyed on its disposal, whether or not
// 'pack all' succeeded").
func (c *Collector) Dispose() {
	for _, idx := range c.order {
		target := c.targets[idx]
		if err := os.RemoveAll(target.StagingDir); err != nil {
			c.log.Warn().Err(err).Str("dir", target.StagingDir).Msg("failed to remove bsa staging directory")
		}
	}
}
