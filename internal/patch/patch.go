// Package patch implements the binary-patch engine (spec §4.8 "patch
// (2)", §4.10): optional LZ4-frame decompression of the patch blob,
// materializing reference bytes and the patch to scratch files, and
// invoking the binary-patch helper tool.
//
// Grounded on Ambrevar-demlo's transformer.go, which shells out to an
// external tool against scratch files and inspects its result the same
// way this engine does for the patch applier.
package patch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"ttwinstall/internal/subproc"
)

// lz4FrameMagic is the four-byte marker identifying an LZ4-framed patch
// blob (spec §4.8, §8 edge case E-list: "04 22 4D 18").
var lz4FrameMagic = []byte{0x04, 0x22, 0x4D, 0x18}

// Engine applies binary patches via the external binary-patch tool,
// with an optional LZ4-decode pre-step.
type Engine struct {
	PatchTool string
	LZ4Tool   string
	Log       zerolog.Logger
}

// NewEngine constructs a patch Engine bound to the configured helper
// tool paths.
func NewEngine(patchTool, lz4Tool string, log zerolog.Logger) *Engine {
	return &Engine{PatchTool: patchTool, LZ4Tool: lz4Tool, Log: log}
}

// HintSourceWrongVersion is appended to a patch failure when the
// binary-patch tool's stderr suggests the reference file doesn't match
// what the patch was built against (spec §4.8, §7).
const HintSourceWrongVersion = "the reference file may be the wrong version"

// Error reports a patch-application failure, with the optional
// version-mismatch hint attached.
type Error struct {
	Stderr []byte
	Hint   string
}

func (e *Error) Error() string {
	msg := "patch: binary-patch tool failed"
	if e.Hint != "" {
		msg += ": " + e.Hint
	}
	return msg
}

// isLZ4Framed reports whether blob begins with the LZ4-frame magic. A
// blob shorter than 4 bytes is treated as uncompressed (spec §8 E-list).
func isLZ4Framed(blob []byte) bool {
	return len(blob) >= 4 && bytes.Equal(blob[:4], lz4FrameMagic)
}

// Apply produces the patched bytes for reference+patchBlob, using
// scratchDir for intermediate files (spec §4.8 "patch (2)").
func (e *Engine) Apply(ctx context.Context, reference, patchBlob []byte, scratchDir string) ([]byte, error) {
	runID := uuid.NewString()

	patch := patchBlob
	if isLZ4Framed(patchBlob) {
		decoded, err := e.decodeLZ4(ctx, patchBlob, scratchDir, runID)
		if err != nil {
			return nil, fmt.Errorf("patch: lz4 decode: %w", err)
		}
		patch = decoded
	}

	refPath := filepath.Join(scratchDir, runID+".ref")
	patchPath := filepath.Join(scratchDir, runID+".xd3")
	outPath := filepath.Join(scratchDir, runID+".out")
	defer removeAll(refPath, patchPath, outPath)

	if err := os.WriteFile(refPath, reference, 0o644); err != nil {
		return nil, err
	}
	if err := os.WriteFile(patchPath, patch, 0o644); err != nil {
		return nil, err
	}

	res, err := subproc.Run(ctx, 0, e.PatchTool, "-d", "-f", "-s", refPath, patchPath, outPath)
	if err != nil {
		return nil, &Error{Stderr: stderrOf(res), Hint: classifyHint(stderrOf(res))}
	}

	return os.ReadFile(outPath)
}

func (e *Engine) decodeLZ4(ctx context.Context, compressed []byte, scratchDir, runID string) ([]byte, error) {
	inPath := filepath.Join(scratchDir, runID+".lz4")
	outPath := filepath.Join(scratchDir, runID+".lz4.out")
	defer removeAll(inPath, outPath)

	if err := os.WriteFile(inPath, compressed, 0o644); err != nil {
		return nil, err
	}

	if _, err := subproc.Run(ctx, 0, e.LZ4Tool, "-d", "-f", inPath, outPath); err != nil {
		return nil, err
	}
	return os.ReadFile(outPath)
}

func stderrOf(res *subproc.Result) []byte {
	if res == nil {
		return nil
	}
	return res.Stderr
}

// classifyHint inspects the binary-patch tool's stderr for the
// recognized substrings that indicate the reference copy is the wrong
// version (spec §4.8: "source file too short" / "checksum mismatch").
func classifyHint(stderr []byte) string {
	lower := bytes.ToLower(stderr)
	if bytes.Contains(lower, []byte("source file too short")) || bytes.Contains(lower, []byte("checksum mismatch")) {
		return HintSourceWrongVersion
	}
	return ""
}

func removeAll(paths ...string) {
	for _, p := range paths {
		os.Remove(p)
	}
}
