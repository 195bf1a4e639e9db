// Package install implements the installer driver (C16, spec §4.13): a
// fixed state-machine pipeline from package extraction through
// validation, scheduled asset processing, archive packing,
// post-commands, and reporting, with cleanup guaranteed on every
// terminal state.
//
// Grounded on holo-build's build.go, which drives a Package through a
// fixed build/install sequence and always reaches a terminal cleanup
// step; generalized here from a single linear build to the broader
// extract/validate/schedule/pack/post/report pipeline this spec
// describes.
package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"ttwinstall/internal/audio"
	"ttwinstall/internal/bsa"
	"ttwinstall/internal/bsaread"
	"ttwinstall/internal/bsawrite"
	"ttwinstall/internal/config"
	"ttwinstall/internal/location"
	"ttwinstall/internal/manifest"
	"ttwinstall/internal/patch"
	"ttwinstall/internal/postcmd"
	"ttwinstall/internal/process"
	"ttwinstall/internal/report"
	"ttwinstall/internal/schedule"
	"ttwinstall/internal/scratch"
	"ttwinstall/internal/validate"
)

// State names every stop along the driver's pipeline (spec §4.13).
type State string

const (
	StateInit     State = "INIT"
	StateExtract  State = "EXTRACT"
	StateLoad     State = "LOAD"
	StateValidate State = "VALIDATE"
	StateDispatch State = "DISPATCH"
	StatePack     State = "PACK"
	StatePost     State = "POST"
	StateReport   State = "REPORT"
	StateCleanup  State = "CLEANUP"
	StateDone     State = "DONE"
	StateFailed   State = "FAILED"
)

// workDirName is the scratch subdirectory used for intermediate files
// produced while processing assets (patch/LZ4/audio scratch files).
const workDirName = "_ttw_work"

// Outcome summarizes a finished run.
type Outcome struct {
	FinalState    State
	ValidationLog string
	Errors        int
	Warnings      int
	Missing       int
	PackFailures  int
	PostFailures  int
	Report        string
}

// Driver runs one installation end to end.
type Driver struct {
	Config config.InstallConfig
	Log    zerolog.Logger

	// ContinueOnValidationFailure lets a caller (e.g. an interactive CLI
	// prompt, out of scope here per spec §7) opt to proceed despite a
	// failed validation pass instead of stopping at FAILED.
	ContinueOnValidationFailure bool

	// ProgressCh receives throttled scheduler progress updates (spec
	// §4.9). Optional; nil disables progress reporting.
	ProgressCh chan<- schedule.Progress
}

// Run executes the full pipeline (spec §4.13): INIT → EXTRACT → LOAD →
// VALIDATE → DISPATCH → PACK → POST → REPORT → CLEANUP → DONE/FAILED.
func (d *Driver) Run(ctx context.Context) (*Outcome, error) {
	logger := report.NewLogger()

	if err := scratch.SweepStale(os.TempDir(), d.Log); err != nil {
		d.Log.Warn().Err(err).Msg("stale scratch sweep failed")
	}

	// INIT
	if err := d.Config.Validate(); err != nil {
		return &Outcome{FinalState: StateFailed}, fmt.Errorf("install: %s: %w", StateInit, err)
	}

	registry := scratch.NewRegistry()
	extractor := scratch.NewExtractor(registry, os.TempDir(), d.Log)

	// EXTRACT
	packageRoot, err := extractor.Resolve(d.Config.PackagePath, openArchiveForExtraction)
	if err != nil {
		registry.CleanupAll(d.Log)
		return &Outcome{FinalState: StateFailed}, fmt.Errorf("install: %s: %w", StateExtract, err)
	}
	defer func() {
		extractor.Cleanup(packageRoot)
		registry.CleanupAll(d.Log)
	}()

	// LOAD
	manifestPath := filepath.Join(packageRoot, scratch.ManifestEntryPath)
	m, err := manifest.Load(manifestPath, d.Log)
	if err != nil {
		return &Outcome{FinalState: StateFailed}, fmt.Errorf("install: %s: %w", StateLoad, err)
	}
	locs, err := m.GetLocations(manifest.InstallationProfileIndex)
	if err != nil {
		return &Outcome{FinalState: StateFailed}, fmt.Errorf("install: %s: %w", StateLoad, err)
	}

	res := location.NewResolver(d.Config.Roots())

	// VALIDATE
	validator := validate.NewValidator(res, locs)
	pass, validationReport := validator.Run(m.Checks)
	if !pass && !d.ContinueOnValidationFailure {
		return &Outcome{FinalState: StateFailed, ValidationLog: validationReport}, fmt.Errorf("install: %s: validation failed:\n%s", StateValidate, validationReport)
	}

	// DISPATCH — schedule.Run internally sequences the five buckets in
	// the order this state name covers (new, copy, patch,
	// audio-resample, audio-transcode).
	workDir := filepath.Join(packageRoot, workDirName)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return &Outcome{FinalState: StateFailed}, fmt.Errorf("install: %s: %w", StateDispatch, err)
	}

	readCache := bsaread.NewCache(d.Log)
	defer readCache.Dispose()

	writeCollector, err := bsawrite.NewCollector(d.Config.Destination, res, locs, d.Log)
	if err != nil {
		return &Outcome{FinalState: StateFailed}, fmt.Errorf("install: %s: %w", StateDispatch, err)
	}
	defer writeCollector.Dispose()

	processor := &process.Processor{
		Resolver:       res,
		Locations:      locs,
		ReadCache:      readCache,
		WriteCollector: writeCollector,
		PatchEngine:    patch.NewEngine(d.Config.Tools.BinaryPatch, d.Config.Tools.LZ4Decode, d.Log),
		AudioEngine:    audio.NewEngine(d.Config.Tools.MediaTranscode, d.Log),
		PackageRoot:    packageRoot,
		ScratchDir:     workDir,
		Log:            d.Log,
	}

	results := schedule.Run(ctx, m.Assets, d.ProgressCh, processor.Process)
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		recordAssetFailure(logger, r)
	}

	// PACK
	packFailures, err := writeCollector.WriteAllBsas()
	if err != nil {
		logger.Error("pack", err.Error())
	}

	// POST
	interp := postcmd.NewInterpreter(d.Config.Roots(), d.Log)
	postFailures := interp.Run(m.PostCommands)

	// REPORT
	if err := logger.WriteTo(d.Config.Destination); err != nil {
		d.Log.Warn().Err(err).Msg("failed to write installation log")
	}

	errs, warns, missing := logger.Counts()
	outcome := &Outcome{
		FinalState:    StateDone,
		Errors:        errs,
		Warnings:      warns,
		Missing:       missing,
		PackFailures:  packFailures,
		PostFailures:  postFailures,
		ValidationLog: validationReport,
		Report:        logger.Render(),
	}
	return outcome, nil
}

func recordAssetFailure(logger *report.Logger, r schedule.Result) {
	var missingErr *process.MissingSourceError
	if errors.As(r.Err, &missingErr) {
		logger.Missing(r.Asset.EffectiveTargetPath(), missingErr.Error())
		return
	}
	logger.Error(r.Asset.EffectiveTargetPath(), r.Err.Error())
}

// openArchiveForExtraction adapts bsa.OpenArchive to the
// scratch.ArchiveOpener shape (spec §6: "Opened by the archive codec in
// reader mode").
func openArchiveForExtraction(path string) (scratch.ArchiveEntryReader, error) {
	return bsa.OpenArchive(path)
}
