package transcript

import (
	"fmt"
	"strings"

	"github.com/clipgreet/personalizer/internal/core"
)

// LocateOptions controls the context window around the matched keyword.
type LocateOptions struct {
	// ContextBefore and ContextAfter are segment counts taken around the
	// match to form the window.
	ContextBefore int
	ContextAfter  int

	// PadMs widens the window on both sides to avoid clipping phoneme
	// onsets and codas.
	PadMs int

	// MinDuration, when positive, forces the interval to at least this
	// many seconds by re-centering on the matched token. TotalDuration
	// must be known for the extension to apply.
	MinDuration   float64
	TotalDuration float64
}

// Locate finds the first segment whose normalized text equals the normalized
// keyword and derives the splice interval around it. Segments are validated
// and sorted before matching.
func Locate(segments []core.TranscriptSegment, keyword string, opts LocateOptions) (core.SpliceInterval, error) {
	ordered, err := ValidateSegments(segments)
	if err != nil {
		return core.SpliceInterval{}, err
	}

	target := NormalizeToken(keyword)

	matched := -1

	for i, seg := range ordered {
		if !seg.IsWord() {
			continue
		}

		if NormalizeToken(seg.Text) == target {
			matched = i

			break
		}
	}

	if matched < 0 {
		return core.SpliceInterval{}, fmt.Errorf("%w: %q", core.ErrKeywordNotFound, keyword)
	}

	pad := float64(opts.PadMs) / 1000.0

	firstIdx := matched - opts.ContextBefore
	if firstIdx < 0 {
		firstIdx = 0
	}

	lastIdx := matched + opts.ContextAfter
	if lastIdx > len(ordered)-1 {
		lastIdx = len(ordered) - 1
	}

	start := ordered[firstIdx].Start - pad
	if start < 0 {
		start = 0
	}

	end := ordered[lastIdx].End + pad

	interval := core.SpliceInterval{
		Start:    start,
		End:      end,
		Template: buildTemplate(ordered, matched, start, end),
	}

	if opts.MinDuration > 0 && interval.Duration() < opts.MinDuration {
		interval = extend(interval, ordered[matched], opts)
	}

	if opts.TotalDuration > 0 && interval.End > opts.TotalDuration {
		interval.End = opts.TotalDuration
	}

	return interval, nil
}

// buildTemplate space-joins every word segment fully inside the window and
// replaces the first occurrence of the matched token with the name
// placeholder.
func buildTemplate(segments []core.TranscriptSegment, matched int, start, end float64) string {
	words := make([]string, 0, len(segments))

	for _, seg := range segments {
		if !seg.IsWord() {
			continue
		}

		if seg.Start >= start && seg.End <= end {
			words = append(words, seg.Text)
		}
	}

	joined := strings.Join(words, " ")

	return strings.Replace(joined, segments[matched].Text, core.NamePlaceholder, 1)
}

// extend widens the interval to the minimum duration by re-centering on the
// matched token's midpoint. When a side hits a media boundary, the excess is
// shifted onto the side that still has room. With the total duration unknown
// the naive window is kept and the condition is reported on the interval.
func extend(interval core.SpliceInterval, match core.TranscriptSegment, opts LocateOptions) core.SpliceInterval {
	if opts.TotalDuration <= 0 {
		interval.DurationUnknown = true

		return interval
	}

	total := opts.TotalDuration
	want := opts.MinDuration

	if want > total {
		// The whole media is shorter than the minimum; take all of it.
		interval.Start = 0
		interval.End = total
		interval.Extended = true

		return interval
	}

	mid := (match.Start + match.End) / 2
	half := want / 2

	start := mid - half
	end := mid + half

	if start < 0 {
		// Shift the clipped excess onto the tail.
		end += -start
		start = 0
	}

	if end > total {
		// Shift the clipped excess onto the head.
		start -= end - total
		end = total

		if start < 0 {
			start = 0
		}
	}

	interval.Start = start
	interval.End = end
	interval.Extended = true

	return interval
}
