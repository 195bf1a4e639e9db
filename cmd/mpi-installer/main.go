// Command mpi-installer runs one manifest-driven installation (spec §1,
// §4.13) from the command line.
//
// Grounded on holo-build's main.go for the overall shape (parse args,
// fail fast on bad input, run the one operation this binary exists for,
// map errors to exit codes) but using the github.com/ogier/pflag
// module for POSIX-style double-dash flags instead of
// hand-rolled switch-over-os.Args parsing.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ogier/pflag"
	"github.com/rs/zerolog"
	"ttwinstall/internal/config"
	"ttwinstall/internal/install"
	"ttwinstall/internal/logging"
	"ttwinstall/internal/schedule"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		destination  = pflag.StringP("destination", "d", "", "directory to install into (required)")
		packagePath  = pflag.StringP("package", "p", "", "path to the .mpi package, or an already-extracted package directory (required)")
		fo3Root      = pflag.String("fo3-root", "", "Fallout 3 installation root")
		fo3Data      = pflag.String("fo3-data", "", "override for the Fallout 3 data directory")
		fnvRoot      = pflag.String("fnv-root", "", "Fallout: New Vegas installation root")
		fnvData      = pflag.String("fnv-data", "", "override for the Fallout: New Vegas data directory")
		tes4Root     = pflag.String("tes4-root", "", "Oblivion installation root")
		tes4Data     = pflag.String("tes4-data", "", "override for the Oblivion data directory")
		binaryPatch  = pflag.String("binary-patch-tool", "", "path to the xdelta-compatible binary patch tool")
		lz4Tool      = pflag.String("lz4-tool", "", "path to the LZ4 frame decoder")
		mediaTool    = pflag.String("media-tool", "", "path to the ffmpeg-compatible audio transcoder")
		continueFlag = pflag.Bool("continue-on-validation-failure", false, "proceed to DISPATCH even if VALIDATE reports failures")
		pretty       = pflag.Bool("pretty", false, "write human-readable console logs instead of JSON")
		verbose      = pflag.BoolP("verbose", "v", false, "enable debug-level logging")
		version      = pflag.Bool("version", false, "print the version and exit")
	)
	pflag.Parse()

	if *version {
		fmt.Println(versionString)
		return 0
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := logging.New(logging.Config{Level: level, Pretty: *pretty, Version: versionString})

	if *destination == "" || *packagePath == "" {
		fmt.Fprintln(os.Stderr, "mpi-installer: --destination and --package are required")
		pflag.Usage()
		return 2
	}

	cfg := config.InstallConfig{
		Destination: *destination,
		PackagePath: *packagePath,
		Fallout3:    config.GameRoot{Root: *fo3Root, DataOverride: *fo3Data},
		FalloutNewVegas: config.GameRoot{
			Root:         *fnvRoot,
			DataOverride: *fnvData,
		},
		Oblivion: config.GameRoot{Root: *tes4Root, DataOverride: *tes4Data},
		Tools: config.ToolPaths{
			BinaryPatch:    *binaryPatch,
			LZ4Decode:      *lz4Tool,
			MediaTranscode: *mediaTool,
		},
	}

	progressCh := make(chan schedule.Progress, 16)
	done := make(chan struct{})
	go reportProgress(progressCh, done)

	driver := &install.Driver{
		Config:                      cfg,
		Log:                         log,
		ContinueOnValidationFailure: *continueFlag,
		ProgressCh:                  progressCh,
	}

	outcome, err := driver.Run(context.Background())
	close(progressCh)
	<-done

	if outcome != nil {
		fmt.Fprintf(os.Stderr, "mpi-installer: final state %s (errors=%d warnings=%d missing=%d)\n",
			outcome.FinalState, outcome.Errors, outcome.Warnings, outcome.Missing)
		if outcome.ValidationLog != "" {
			fmt.Fprintln(os.Stderr, outcome.ValidationLog)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "mpi-installer: %s\n", err.Error())
		return 1
	}
	return 0
}

func reportProgress(ch <-chan schedule.Progress, done chan<- struct{}) {
	defer close(done)
	for p := range ch {
		fmt.Fprintf(os.Stderr, "\r%s: %.0f%%", p.Status, p.PercentComplete)
	}
	fmt.Fprintln(os.Stderr)
}

const versionString = "mpi-installer (unversioned build)"
