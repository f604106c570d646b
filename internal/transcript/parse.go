package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/clipgreet/personalizer/internal/core"
)

// Millisecond detection threshold: timestamps above this magnitude are
// treated as milliseconds and divided down to seconds.
const millisecondThreshold = 10000

// ErrUnrecognizedShape indicates a transcription response that matches none
// of the accepted layouts.
var ErrUnrecognizedShape = errors.New("unrecognized transcription response shape")

// rawWord is one word entry as the transcription service reports it.
type rawWord struct {
	Type  string   `json:"type,omitempty"`
	Text  string   `json:"text,omitempty"`
	Word  string   `json:"word,omitempty"`
	Start *float64 `json:"start,omitempty"`
	End   *float64 `json:"end,omitempty"`
}

// response is the exact set of shapes the transcription service is known to
// produce: top-level text/words, a nested "transcribed" object, or a
// "segments" array in place of "words". Anything else is rejected loudly
// rather than guessed at.
type response struct {
	Text        string    `json:"text,omitempty"`
	Words       []rawWord `json:"words,omitempty"`
	Segments    []rawWord `json:"segments,omitempty"`
	Transcribed *struct {
		Text  string    `json:"text,omitempty"`
		Words []rawWord `json:"words,omitempty"`
	} `json:"transcribed,omitempty"`
}

// ParseResponse decodes a transcription service response into the transcript
// text and its time-aligned word segments. Timestamp units are auto-detected:
// values above 10000 are milliseconds.
func ParseResponse(data []byte) (string, []core.TranscriptSegment, error) {
	var resp response

	err := json.Unmarshal(data, &resp)
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode transcription response: %w", err)
	}

	text := resp.Text
	words := resp.Words

	if text == "" && resp.Transcribed != nil {
		text = resp.Transcribed.Text
	}

	if len(words) == 0 && resp.Transcribed != nil {
		words = resp.Transcribed.Words
	}

	if len(words) == 0 {
		words = resp.Segments
	}

	if text == "" && len(words) == 0 {
		return "", nil, ErrUnrecognizedShape
	}

	segments := make([]core.TranscriptSegment, 0, len(words))

	for _, w := range words {
		seg, ok := w.toSegment()
		if !ok {
			continue
		}

		segments = append(segments, seg)
	}

	return text, segments, nil
}

// toSegment converts one raw word to a segment, dropping entries that are not
// word tokens or that lack text or timestamps.
func (w rawWord) toSegment() (core.TranscriptSegment, bool) {
	if w.Type != "" && w.Type != "word" && w.Type != "token" {
		return core.TranscriptSegment{}, false
	}

	text := w.Text
	if text == "" {
		text = w.Word
	}

	if text == "" || w.Start == nil || w.End == nil {
		return core.TranscriptSegment{}, false
	}

	return core.TranscriptSegment{
		Kind:  core.SegmentKindWord,
		Text:  text,
		Start: toSeconds(*w.Start),
		End:   toSeconds(*w.End),
	}, true
}

// toSeconds normalizes a timestamp to seconds by magnitude.
func toSeconds(v float64) float64 {
	if v > millisecondThreshold {
		return v / 1000.0
	}

	return v
}

// ValidateSegments rejects segments with a negative span and sorts the
// sequence by start time. Upstream transcription output is assumed ordered
// but is not trusted: a misordered sequence would silently yield a wrong
// splice interval.
func ValidateSegments(segments []core.TranscriptSegment) ([]core.TranscriptSegment, error) {
	if len(segments) == 0 {
		return nil, core.ErrEmptySegments
	}

	for _, seg := range segments {
		if seg.End < seg.Start {
			return nil, fmt.Errorf("%w: %q [%f, %f]",
				core.ErrInvalidSegment, seg.Text, seg.Start, seg.End)
		}
	}

	ordered := make([]core.TranscriptSegment, len(segments))
	copy(ordered, segments)

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Start < ordered[j].Start
	})

	return ordered, nil
}
