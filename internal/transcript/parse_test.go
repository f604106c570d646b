package transcript_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipgreet/personalizer/internal/transcript"
)

func TestParseResponse_TopLevelWords(t *testing.T) {
	t.Parallel()

	data := []byte(`{
		"text": "boa tarde",
		"words": [
			{"type": "word", "text": "boa", "start": 0.0, "end": 0.3},
			{"type": "word", "text": "tarde", "start": 0.3, "end": 0.6},
			{"type": "spacing", "text": " ", "start": 0.3, "end": 0.3}
		]
	}`)

	text, segments, err := transcript.ParseResponse(data)
	require.NoError(t, err)

	assert.Equal(t, "boa tarde", text)
	require.Len(t, segments, 2)
	assert.Equal(t, "boa", segments[0].Text)
	assert.InDelta(t, 0.3, segments[1].Start, 1e-9)
}

func TestParseResponse_NestedTranscribedShape(t *testing.T) {
	t.Parallel()

	data := []byte(`{
		"transcribed": {
			"text": "ola mundo",
			"words": [{"word": "ola", "start": 0.1, "end": 0.4}]
		}
	}`)

	text, segments, err := transcript.ParseResponse(data)
	require.NoError(t, err)

	assert.Equal(t, "ola mundo", text)
	require.Len(t, segments, 1)
	assert.Equal(t, "ola", segments[0].Text)
}

func TestParseResponse_SegmentsShape(t *testing.T) {
	t.Parallel()

	data := []byte(`{
		"text": "oi",
		"segments": [{"text": "oi", "start": 0.0, "end": 0.2}]
	}`)

	_, segments, err := transcript.ParseResponse(data)
	require.NoError(t, err)

	require.Len(t, segments, 1)
}

func TestParseResponse_MillisecondAutoDetection(t *testing.T) {
	t.Parallel()

	data := []byte(`{
		"text": "late word",
		"words": [{"text": "word", "start": 12000, "end": 12500}]
	}`)

	_, segments, err := transcript.ParseResponse(data)
	require.NoError(t, err)

	require.Len(t, segments, 1)
	assert.InDelta(t, 12.0, segments[0].Start, 1e-9)
	assert.InDelta(t, 12.5, segments[0].End, 1e-9)
}

func TestParseResponse_MissingTimestampsDropped(t *testing.T) {
	t.Parallel()

	data := []byte(`{
		"text": "x",
		"words": [{"text": "x"}, {"text": "y", "start": 0.0, "end": 0.1}]
	}`)

	_, segments, err := transcript.ParseResponse(data)
	require.NoError(t, err)

	require.Len(t, segments, 1)
	assert.Equal(t, "y", segments[0].Text)
}

func TestParseResponse_UnrecognizedShapeFailsLoudly(t *testing.T) {
	t.Parallel()

	_, _, err := transcript.ParseResponse([]byte(`{"result": "nothing known"}`))

	require.ErrorIs(t, err, transcript.ErrUnrecognizedShape)
}

func TestParseResponse_InvalidJSON(t *testing.T) {
	t.Parallel()

	_, _, err := transcript.ParseResponse([]byte(`not json`))

	require.Error(t, err)
}
