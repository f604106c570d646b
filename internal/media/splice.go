package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"

	"github.com/clipgreet/personalizer/internal/core"
)

// boundaryEpsilon absorbs float noise when deciding whether a splice boundary
// coincides with the start or end of the media. A boundary this close to the
// edge produces no before/after segment.
const boundaryEpsilon = 0.05

// ErrInvalidSpliceRange indicates the requested splice interval does not fit
// inside the source media.
var ErrInvalidSpliceRange = errors.New("splice interval outside media bounds")

// Engine runs the deterministic cut/scale/overlay/concat sequences that
// composite a personalized clip into the original media. All intermediate
// files live in a scratch directory that is removed on every exit path.
type Engine struct {
	tool core.MediaTool
	log  *logger.Logger
}

// NewEngine creates a splice engine on top of the given media tool.
func NewEngine(tool core.MediaTool, log *logger.Logger) *Engine {
	return &Engine{tool: tool, log: log}
}

// Splice replaces [start, end) of original with insert composited as an
// overlay. The inserted clip is scaled to scaleWidth and its duration forced
// to exactly the middle segment's duration before composition; the final
// assembly re-encodes every segment uniformly.
func (e *Engine) Splice(
	ctx context.Context,
	original, insert string,
	start, end float64,
	scaleWidth int,
	position, output string,
) error {
	total, probeErr := e.tool.ProbeDuration(ctx, original)
	if probeErr != nil {
		return fmt.Errorf("failed to probe original media: %w", probeErr)
	}

	if start < 0 || end <= start || start > total {
		return fmt.Errorf("%w: [%.3f, %.3f] in %.3fs media", ErrInvalidSpliceRange, start, end, total)
	}

	if end > total {
		end = total
	}

	scratch, scratchErr := os.MkdirTemp(filepath.Dir(output), "splice-")
	if scratchErr != nil {
		return fmt.Errorf("failed to create scratch dir: %w", scratchErr)
	}

	defer e.cleanup(scratch)

	segments := make([]string, 0, 3)

	if start > boundaryEpsilon {
		before := filepath.Join(scratch, "before.mp4")

		cutErr := e.tool.CutCopy(ctx, original, 0, start, before)
		if cutErr != nil {
			return fmt.Errorf("failed to cut leading segment: %w", cutErr)
		}

		segments = append(segments, before)
	}

	middle := filepath.Join(scratch, "middle.mp4")

	cutErr := e.tool.CutEncode(ctx, original, start, end, middle)
	if cutErr != nil {
		return fmt.Errorf("failed to cut middle segment: %w", cutErr)
	}

	scaled := filepath.Join(scratch, "scaled.mp4")

	scaleErr := e.tool.ScaleLoopTrim(ctx, insert, scaleWidth, end-start, scaled)
	if scaleErr != nil {
		return fmt.Errorf("failed to scale inserted clip: %w", scaleErr)
	}

	overlaid := filepath.Join(scratch, "overlaid.mp4")

	overlayErr := e.tool.Overlay(ctx, middle, scaled, position, overlaid)
	if overlayErr != nil {
		return fmt.Errorf("failed to composite overlay: %w", overlayErr)
	}

	segments = append(segments, overlaid)

	if end < total-boundaryEpsilon {
		after := filepath.Join(scratch, "after.mp4")

		cutErr := e.tool.CutCopy(ctx, original, end, total, after)
		if cutErr != nil {
			return fmt.Errorf("failed to cut trailing segment: %w", cutErr)
		}

		segments = append(segments, after)
	}

	concatErr := e.tool.ConcatEncode(ctx, segments, output)
	if concatErr != nil {
		return fmt.Errorf("failed to concat segments: %w", concatErr)
	}

	return nil
}

// SpliceAudio rebuilds the original audio track with snippet spliced into
// [start, end) and remuxes it onto the original video. This is the rendering
// path used when no avatar clip is available.
func (e *Engine) SpliceAudio(
	ctx context.Context,
	video, audio, snippet string,
	start, end float64,
	output string,
) error {
	total, probeErr := e.tool.ProbeDuration(ctx, audio)
	if probeErr != nil {
		return fmt.Errorf("failed to probe original audio: %w", probeErr)
	}

	if start < 0 || end <= start || start > total {
		return fmt.Errorf("%w: [%.3f, %.3f] in %.3fs audio", ErrInvalidSpliceRange, start, end, total)
	}

	if end > total {
		end = total
	}

	scratch, scratchErr := os.MkdirTemp(filepath.Dir(output), "splice-")
	if scratchErr != nil {
		return fmt.Errorf("failed to create scratch dir: %w", scratchErr)
	}

	defer e.cleanup(scratch)

	parts := make([]string, 0, 3)

	if start > boundaryEpsilon {
		before := filepath.Join(scratch, "before.wav")

		cutErr := e.tool.CutCopy(ctx, audio, 0, start, before)
		if cutErr != nil {
			return fmt.Errorf("failed to cut leading audio: %w", cutErr)
		}

		parts = append(parts, before)
	}

	parts = append(parts, snippet)

	if end < total-boundaryEpsilon {
		after := filepath.Join(scratch, "after.wav")

		cutErr := e.tool.CutCopy(ctx, audio, end, total, after)
		if cutErr != nil {
			return fmt.Errorf("failed to cut trailing audio: %w", cutErr)
		}

		parts = append(parts, after)
	}

	rebuilt := filepath.Join(scratch, "rebuilt.wav")

	concatErr := e.tool.ConcatAudio(ctx, parts, rebuilt)
	if concatErr != nil {
		return fmt.Errorf("failed to concat audio parts: %w", concatErr)
	}

	remuxErr := e.tool.ReplaceAudio(ctx, video, rebuilt, output)
	if remuxErr != nil {
		return fmt.Errorf("failed to remux personalized audio: %w", remuxErr)
	}

	return nil
}

func (e *Engine) cleanup(dir string) {
	removeErr := os.RemoveAll(dir)
	if removeErr != nil {
		e.log.Warn("Failed to remove scratch dir '%s': %v", dir, removeErr)
	}
}
