// Package media wraps ffmpeg and ffprobe as discrete external calls and
// composes them into the deterministic splice sequences that personalize a
// source video.
package media

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const (
	videoCodec  = "libx264"
	videoPreset = "veryfast"
	videoCRF    = "18"
	audioCodec  = "aac"
)

// ErrBadProbeOutput indicates ffprobe produced output that could not be
// parsed.
var ErrBadProbeOutput = errors.New("unparseable ffprobe output")

// Adapter shells out to ffmpeg and ffprobe. It implements core.MediaTool.
type Adapter struct {
	ffmpeg  string
	ffprobe string
}

// NewAdapter creates an adapter using the given binary paths, falling back to
// the bare command names when a path is empty.
func NewAdapter(ffmpegPath, ffprobePath string) *Adapter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}

	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}

	return &Adapter{ffmpeg: ffmpegPath, ffprobe: ffprobePath}
}

// CutCopy extracts [start, end) from input without re-encoding.
func (a *Adapter) CutCopy(ctx context.Context, input string, start, end float64, output string) error {
	return a.run(ctx, "cut copy",
		"-ss", fmtSeconds(start),
		"-to", fmtSeconds(end),
		"-i", input,
		"-c", "copy",
		output,
	)
}

// CutEncode extracts [start, end) from input with a full re-encode. Used for
// the segment that later receives an overlay, where frame-accurate boundaries
// matter more than speed.
func (a *Adapter) CutEncode(ctx context.Context, input string, start, end float64, output string) error {
	return a.run(ctx, "cut encode",
		"-ss", fmtSeconds(start),
		"-to", fmtSeconds(end),
		"-i", input,
		"-c:v", videoCodec,
		"-preset", videoPreset,
		"-crf", videoCRF,
		"-c:a", audioCodec,
		output,
	)
}

// ExtractAudio strips the video stream and writes mono 16 kHz audio, the
// shape the transcription service expects.
func (a *Adapter) ExtractAudio(ctx context.Context, input, output string) error {
	return a.run(ctx, "extract audio",
		"-i", input,
		"-ac", "1",
		"-ar", "16000",
		"-vn",
		output,
	)
}

// ExtractFrame writes a single frame taken at the given timestamp.
func (a *Adapter) ExtractFrame(ctx context.Context, input string, at float64, output string) error {
	return a.run(ctx, "extract frame",
		"-ss", fmtSeconds(at),
		"-i", input,
		"-frames:v", "1",
		"-q:v", "2",
		output,
	)
}

// ScaleLoopTrim scales input to the given width (aspect preserved), loops the
// source as needed and trims to exactly duration seconds. The explicit trim
// is what guarantees the overlay clip and the base segment have matching
// durations.
func (a *Adapter) ScaleLoopTrim(ctx context.Context, input string, width int, duration float64, output string) error {
	return a.run(ctx, "scale loop trim",
		"-stream_loop", "-1",
		"-i", input,
		"-filter:v", "scale="+strconv.Itoa(width)+":-2",
		"-t", fmtSeconds(duration),
		"-c:v", videoCodec,
		"-preset", videoPreset,
		"-crf", videoCRF,
		"-c:a", audioCodec,
		output,
	)
}

// Overlay composites overlay on top of base at the given position expression.
// The output carries the overlay's audio track, since the overlay is the clip
// that speaks the personalized line.
func (a *Adapter) Overlay(ctx context.Context, base, overlay, position, output string) error {
	return a.run(ctx, "overlay",
		"-i", base,
		"-i", overlay,
		"-filter_complex", "[0:v][1:v]overlay="+position+"[v]",
		"-map", "[v]",
		"-map", "1:a:0",
		"-c:v", videoCodec,
		"-preset", videoPreset,
		"-crf", videoCRF,
		"-c:a", audioCodec,
		"-shortest",
		output,
	)
}

// ConcatEncode joins the inputs into one file, re-encoding every segment
// uniformly so segments produced by different encode paths concatenate
// without container or keyframe mismatches.
func (a *Adapter) ConcatEncode(ctx context.Context, inputs []string, output string) error {
	args := make([]string, 0, 2*len(inputs)+8)

	var filter strings.Builder

	for i, input := range inputs {
		args = append(args, "-i", input)
		fmt.Fprintf(&filter, "[%d:v][%d:a]", i, i)
	}

	fmt.Fprintf(&filter, "concat=n=%d:v=1:a=1[v][a]", len(inputs))

	args = append(args,
		"-filter_complex", filter.String(),
		"-map", "[v]",
		"-map", "[a]",
		"-c:v", videoCodec,
		"-preset", videoPreset,
		"-crf", videoCRF,
		"-c:a", audioCodec,
		output,
	)

	return a.run(ctx, "concat encode", args...)
}

// ConcatAudio joins audio-only inputs into one stream.
func (a *Adapter) ConcatAudio(ctx context.Context, inputs []string, output string) error {
	args := make([]string, 0, 2*len(inputs)+6)

	var filter strings.Builder

	for i, input := range inputs {
		args = append(args, "-i", input)
		fmt.Fprintf(&filter, "[%d:0]", i)
	}

	fmt.Fprintf(&filter, "concat=n=%d:v=0:a=1[out]", len(inputs))

	args = append(args,
		"-filter_complex", filter.String(),
		"-map", "[out]",
		output,
	)

	return a.run(ctx, "concat audio", args...)
}

// ReplaceAudio remuxes video with the given audio track, dropping the
// original audio.
func (a *Adapter) ReplaceAudio(ctx context.Context, video, audio, output string) error {
	return a.run(ctx, "replace audio",
		"-i", video,
		"-i", audio,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", videoCodec,
		"-c:a", audioCodec,
		"-shortest",
		output,
	)
}

// ProbeDuration returns the container duration of input in seconds.
func (a *Adapter) ProbeDuration(ctx context.Context, input string) (float64, error) {
	out, err := a.probe(ctx,
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input,
	)
	if err != nil {
		return 0, err
	}

	seconds, parseErr := strconv.ParseFloat(out, 64)
	if parseErr != nil {
		return 0, fmt.Errorf("%w: duration %q: %w", ErrBadProbeOutput, out, parseErr)
	}

	return seconds, nil
}

// ProbeDimensions returns the pixel dimensions of the first video stream.
func (a *Adapter) ProbeDimensions(ctx context.Context, input string) (int, int, error) {
	out, err := a.probe(ctx,
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=x:p=0",
		input,
	)
	if err != nil {
		return 0, 0, err
	}

	parts := strings.Split(out, "x")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: dimensions %q", ErrBadProbeOutput, out)
	}

	width, widthErr := strconv.Atoi(strings.TrimSpace(parts[0]))
	if widthErr != nil {
		return 0, 0, fmt.Errorf("%w: width %q: %w", ErrBadProbeOutput, parts[0], widthErr)
	}

	height, heightErr := strconv.Atoi(strings.TrimSpace(parts[1]))
	if heightErr != nil {
		return 0, 0, fmt.Errorf("%w: height %q: %w", ErrBadProbeOutput, parts[1], heightErr)
	}

	return width, height, nil
}

func (a *Adapter) run(ctx context.Context, op string, args ...string) error {
	full := append([]string{"-y", "-hide_banner", "-loglevel", "error"}, args...)

	// #nosec G204 -- argument values are paths and numbers built by this package
	cmd := exec.CommandContext(ctx, a.ffmpeg, full...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg %s failed: %w - output: %s", op, err, string(output))
	}

	return nil
}

func (a *Adapter) probe(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-v", "error"}, args...)

	// #nosec G204 -- argument values are paths built by this package
	cmd := exec.CommandContext(ctx, a.ffprobe, full...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffprobe failed: %w - output: %s", err, string(output))
	}

	return strings.TrimSpace(string(output)), nil
}

func fmtSeconds(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', 3, 64)
}
