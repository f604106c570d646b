// Package speech wraps the transcription, voice-cloning and speech-synthesis
// endpoints of the speech service behind the gateway.
package speech

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"

	"github.com/clipgreet/personalizer/internal/core"
	"github.com/clipgreet/personalizer/internal/gateway"
	"github.com/clipgreet/personalizer/internal/transcript"
)

// Speech service endpoints.
const (
	pathTranscribe   = "speech-to-text?detailed=true"
	pathListVoices   = "voices"
	pathConvertAudio = "convert-audio"
	pathAddVoice     = "add-voice"
	pathSynthesize   = "text-to-speech"
)

// Cloned voice registration language.
const voiceLanguage = "pt-BR"

const convertedSampleName = "converted_sample.wav"

// Static errors.
var (
	// ErrEmptyTranscription indicates a transcription with no text at all.
	ErrEmptyTranscription = errors.New("transcription returned empty text")
	// ErrVoiceIDMissing indicates a voice registration response without an
	// identifier in any accepted field.
	ErrVoiceIDMissing = errors.New("voice registration response carries no voice id")
	// ErrEmptyAudio indicates a synthesis response with no audio bytes.
	ErrEmptyAudio = errors.New("synthesis returned empty audio")
)

// Client calls the speech service. It implements core.Transcriber and
// core.VoiceProvider.
type Client struct {
	gw  *gateway.Client
	log *logger.Logger
}

// NewClient creates a speech service client on top of gw.
func NewClient(gw *gateway.Client, log *logger.Logger) *Client {
	return &Client{
		gw:  gw,
		log: log,
	}
}

// Transcribe uploads the audio file and returns the transcript text with its
// time-aligned word segments.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, []core.TranscriptSegment, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read audio file: %w", err)
	}

	body, uploadErr := c.gw.UploadRaw(
		ctx, pathTranscribe, "file", filepath.Base(audioPath), audio, nil)
	if uploadErr != nil {
		return "", nil, fmt.Errorf("transcription request failed: %w", uploadErr)
	}

	text, segments, parseErr := transcript.ParseResponse(body)
	if parseErr != nil {
		return "", nil, parseErr
	}

	if text == "" {
		return "", nil, ErrEmptyTranscription
	}

	c.log.Info("Transcribed %s: %d word segments", filepath.Base(audioPath), len(segments))

	return text, segments, nil
}

// voiceInfo is one entry of the voice list response.
type voiceInfo struct {
	Name    string `json:"name"`
	VoiceID string `json:"voiceId"`
}

// registerResponse is the exact accepted shape of the voice registration
// response: the identifier arrives either top-level or nested under "voice".
// Anything else fails loudly instead of being guessed at.
type registerResponse struct {
	VoiceID string `json:"voiceId"`
	Voice   *struct {
		VoiceID string `json:"voiceId"`
	} `json:"voice,omitempty"`
}

func (r registerResponse) id() (core.VoiceHandle, error) {
	if r.VoiceID != "" {
		return core.VoiceHandle(r.VoiceID), nil
	}

	if r.Voice != nil && r.Voice.VoiceID != "" {
		return core.VoiceHandle(r.Voice.VoiceID), nil
	}

	return "", ErrVoiceIDMissing
}

// EnsureVoice returns the cloned voice named after ownerKey, creating it on
// first miss. Name equality is the sole idempotency key: there is no
// retraining or versioning.
func (c *Client) EnsureVoice(ctx context.Context, ownerKey, samplePath string, _ string) (core.VoiceHandle, error) {
	var voices []voiceInfo

	listErr := c.gw.Request(ctx, http.MethodGet, pathListVoices, nil, &voices)
	if listErr != nil {
		return "", fmt.Errorf("failed to list voices: %w", listErr)
	}

	for _, voice := range voices {
		if voice.Name == ownerKey {
			if voice.VoiceID == "" {
				return "", ErrVoiceIDMissing
			}

			c.log.Info("Reusing voice %s for owner %s", voice.VoiceID, ownerKey)

			return core.VoiceHandle(voice.VoiceID), nil
		}
	}

	return c.registerVoice(ctx, ownerKey, samplePath)
}

// registerVoice converts the sample to the required encoding and registers a
// new voice under the owner name. The converted bytes go straight from the
// conversion response into the registration upload.
func (c *Client) registerVoice(ctx context.Context, ownerKey, samplePath string) (core.VoiceHandle, error) {
	sample, readErr := os.ReadFile(samplePath)
	if readErr != nil {
		return "", fmt.Errorf("failed to read voice sample: %w", readErr)
	}

	converted, convertErr := c.gw.UploadRaw(
		ctx, pathConvertAudio, "file", filepath.Base(samplePath), sample, nil)
	if convertErr != nil {
		return "", fmt.Errorf("failed to convert voice sample: %w", convertErr)
	}

	var resp registerResponse

	registerErr := c.gw.Upload(ctx, pathAddVoice, "file", convertedSampleName,
		converted, map[string]string{
			"name":     ownerKey,
			"language": voiceLanguage,
		}, &resp)
	if registerErr != nil {
		return "", fmt.Errorf("failed to register voice: %w", registerErr)
	}

	handle, idErr := resp.id()
	if idErr != nil {
		return "", idErr
	}

	c.log.Info("Registered voice %s for owner %s", handle, ownerKey)

	return handle, nil
}

// synthesisRequest is the payload for the text-to-speech endpoint.
type synthesisRequest struct {
	VoiceID string `json:"voiceId"`
	Text    string `json:"text"`
}

// Synthesize generates speech audio for text using the cloned voice.
func (c *Client) Synthesize(ctx context.Context, voice core.VoiceHandle, text string) ([]byte, error) {
	if voice == "" {
		return nil, core.ErrEmptyVoiceHandle
	}

	audio, err := c.gw.RequestRaw(ctx, http.MethodPost, pathSynthesize, synthesisRequest{
		VoiceID: string(voice),
		Text:    text,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}

	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}

	return audio, nil
}
