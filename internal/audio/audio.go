// Package audio implements the audio-resample and audio-transcode asset
// operations (spec §4.8 "audio-resample (4)" / "audio-transcode (5)",
// §4.11 parameter parser): parsing `-key:value` asset params and driving
// the media-transcode helper tool under a 30-second timeout.
//
// Grounded on Ambrevar-demlo's ffmpegutil.go, which builds an ffmpeg
// argument list from parsed transform options the same way this engine
// builds one from parsed asset params.
package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"ttwinstall/internal/subproc"
)

// Timeout is the uniform wall-clock timeout for every media-tool
// invocation (spec §5 "Timeouts").
const Timeout = 30 * time.Second

// DefaultResampleRate is used for op-type 4 when params omits `f` (spec
// §4.8: "Missing `f` defaults to `24000` for op-type 4 only").
const DefaultResampleRate = "24000"

// ParseParams splits a space-delimited `-key:value` asset params string
// into a key→value map (spec §4.11). Tokens that don't match the
// `-k:v` shape are ignored, as are unrecognized keys by the caller.
func ParseParams(params string) map[string]string {
	out := make(map[string]string)
	for _, tok := range strings.Fields(params) {
		if !strings.HasPrefix(tok, "-") {
			continue
		}
		body := strings.TrimPrefix(tok, "-")
		k, v, ok := strings.Cut(body, ":")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

// Engine drives the media-transcode helper tool for the audio asset
// operations.
type Engine struct {
	MediaTool string
	Log       zerolog.Logger
}

// NewEngine constructs an audio Engine bound to the configured helper
// tool path.
func NewEngine(mediaTool string, log zerolog.Logger) *Engine {
	return &Engine{MediaTool: mediaTool, Log: log}
}

// ErrTimeout is returned when a media-tool invocation exceeds Timeout.
var ErrTimeout = subproc.ErrTimeout

// Resample runs the op-type 4 pipeline: source bytes are treated as an
// Ogg Vorbis stream resampled to the requested (or default) sample rate
// (spec §4.8 "audio-resample (4)").
func (e *Engine) Resample(ctx context.Context, source []byte, params string, scratchDir string) ([]byte, error) {
	p := ParseParams(params)
	rate := p["f"]
	if rate == "" {
		rate = DefaultResampleRate
	}

	runID := uuid.NewString()
	inPath := filepath.Join(scratchDir, runID+".ogg")
	outPath := filepath.Join(scratchDir, runID+".out.ogg")
	defer removeAll(inPath, outPath)

	if err := os.WriteFile(inPath, source, 0o644); err != nil {
		return nil, err
	}

	args := []string{"-nostdin", "-hide_banner", "-loglevel", "error", "-i", inPath,
		"-ar", rate, "-c:a", "libvorbis", "-y", outPath}

	if _, err := subproc.Run(ctx, Timeout, e.MediaTool, args...); err != nil {
		return nil, err
	}
	return os.ReadFile(outPath)
}

// Transcode runs the op-type 5 pipeline, dispatching the output codec by
// targetExt (spec §4.8 "audio-transcode (5)").
func (e *Engine) Transcode(ctx context.Context, source []byte, params, sourceExt, targetExt, scratchDir string) ([]byte, error) {
	p := ParseParams(params)

	codecArgs, err := codecArgsFor(normalizeExt(targetExt), p)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	inPath := filepath.Join(scratchDir, runID+"."+normalizeExt(sourceExt))
	outPath := filepath.Join(scratchDir, runID+".out."+normalizeExt(targetExt))
	defer removeAll(inPath, outPath)

	if err := os.WriteFile(inPath, source, 0o644); err != nil {
		return nil, err
	}

	args := []string{"-nostdin", "-hide_banner", "-loglevel", "error", "-i", inPath}
	args = append(args, codecArgs...)
	if f, ok := p["f"]; ok {
		args = append(args, "-ar", f)
	}
	if c, ok := p["c"]; ok {
		args = append(args, "-ac", c)
	}
	args = append(args, "-y", outPath)

	if _, err := subproc.Run(ctx, Timeout, e.MediaTool, args...); err != nil {
		return nil, err
	}
	return os.ReadFile(outPath)
}

func codecArgsFor(targetExt string, params map[string]string) ([]string, error) {
	switch targetExt {
	case "wav":
		return []string{"-c:a", "pcm_s16le"}, nil
	case "mp3":
		args := []string{"-c:a", "libmp3lame"}
		if b, ok := params["b"]; ok {
			args = append(args, "-b:a", b+"k")
		}
		return args, nil
	case "ogg":
		return []string{"-c:a", "libvorbis"}, nil
	default:
		return nil, fmt.Errorf("audio: unsupported transcode target extension %q", targetExt)
	}
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	return ext
}

func removeAll(paths ...string) {
	for _, p := range paths {
		os.Remove(p)
	}
}
