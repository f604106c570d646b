// Package core defines the domain types and collaborator interfaces shared by
// every stage of the personalization pipeline.
package core

import (
	"errors"
	"strings"
)

// Segment kinds reported by the transcription service.
const (
	SegmentKindWord  = "word"
	SegmentKindOther = "other"
)

// Input validation errors. These are caller-correctable and are never retried.
var (
	// ErrEmptySegments indicates that a transcript contained no usable segments.
	ErrEmptySegments = errors.New("transcript contains no segments")
	// ErrKeywordNotFound indicates that no segment matched the keyword.
	ErrKeywordNotFound = errors.New("keyword not found in transcript")
	// ErrEmptyVoiceHandle indicates that a voice handle was required but empty.
	ErrEmptyVoiceHandle = errors.New("voice handle is empty")
	// ErrInvalidContact indicates a contact with a missing name or phone.
	ErrInvalidContact = errors.New("contact is missing name or phone")
	// ErrInvalidSegment indicates a segment whose end precedes its start.
	ErrInvalidSegment = errors.New("segment end precedes start")
)

// TranscriptSegment is a single time-aligned token from the transcription
// service. Start and End are in seconds.
type TranscriptSegment struct {
	Kind  string  `json:"kind"`
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// IsWord reports whether the segment is a word-type token.
func (s TranscriptSegment) IsWord() bool {
	return s.Kind == SegmentKindWord
}

// SpliceInterval is the time range of the original media that personalization
// replaces, together with the substitution template for that range.
type SpliceInterval struct {
	Start float64
	End   float64

	// Template is the space-joined context text with the matched token
	// replaced by the name placeholder.
	Template string

	// Extended is true when the interval was widened to satisfy a minimum
	// duration. DurationUnknown is true when the widening was skipped
	// because the total media duration was not available.
	Extended        bool
	DurationUnknown bool
}

// Duration returns the interval length in seconds.
func (i SpliceInterval) Duration() float64 {
	return i.End - i.Start
}

// NamePlaceholder is the substitution marker inserted into the template where
// the contact name is spoken. The surrounding dots force a synthesis pause.
const NamePlaceholder = ". {nome}."

// PersonalizedText returns the template with the placeholder replaced by name.
func (i SpliceInterval) PersonalizedText(name string) string {
	return strings.Replace(i.Template, NamePlaceholder, ". "+name+".", 1)
}

// VoiceHandle names a cloned voice resource on the speech service. It is
// scoped to one end user and reused across every contact of a job.
type VoiceHandle string

// AvatarGroupHandle names a trained avatar group on the avatar service.
type AvatarGroupHandle string

// Contact is one recipient of a personalized video.
type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Validate checks that the contact has both a name and a phone number.
func (c Contact) Validate() error {
	if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Phone) == "" {
		return ErrInvalidContact
	}

	return nil
}

// Key returns the normalized deduplication key for the contact. The name is
// case-folded and trimmed; the phone is reduced to its digits, so "+5511999"
// and "5511999" collapse to one entry.
func (c Contact) Key() string {
	digits := make([]rune, 0, len(c.Phone))

	for _, r := range c.Phone {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}

	return strings.ToLower(strings.TrimSpace(c.Name)) + "\x00" + string(digits)
}

// RenderMode selects how the personalized clip is produced.
type RenderMode string

const (
	// RenderModeAudio splices a synthesized audio snippet into the original
	// soundtrack and remuxes it onto the video.
	RenderModeAudio RenderMode = "audio"
	// RenderModeAvatar renders a talking-head avatar clip and overlays it
	// onto the original video, falling back to RenderModeAudio on avatar
	// render failure.
	RenderModeAvatar RenderMode = "avatar"
)

// RenderOutcome tags how a contact's personalized clip was produced.
type RenderOutcome string

const (
	// OutcomeAvatarRendered means the avatar path succeeded.
	OutcomeAvatarRendered RenderOutcome = "avatar"
	// OutcomeAudioRendered means the audio splice path was the requested
	// mode and succeeded.
	OutcomeAudioRendered RenderOutcome = "audio"
	// OutcomeFallbackRendered means the avatar path failed and the audio
	// splice fallback produced the clip.
	OutcomeFallbackRendered RenderOutcome = "fallback"
	// OutcomeFailed means no clip was produced.
	OutcomeFailed RenderOutcome = "failed"
)

// RenderResult is the tagged result of rendering one contact's clip.
type RenderResult struct {
	Outcome RenderOutcome
	Path    string
	Err     error
}

// JobState tracks a job through the pipeline state machine.
type JobState string

// Job lifecycle states, in order of progression.
const (
	StateReceived        JobState = "received"
	StateTranscriptReady JobState = "transcript_ready"
	StateVoiceReady      JobState = "voice_ready"
	StateAvatarReady     JobState = "avatar_ready"
	StateCompleted       JobState = "completed"
)

// Job is the transient aggregate for one personalization request. It is
// created per request, optionally checkpointed between the preview and
// confirm phases, and discarded after the send phase.
type Job struct {
	ID       string              `json:"id"`
	OwnerKey string              `json:"owner_key"`
	Keyword  string              `json:"keyword"`
	Contacts []Contact           `json:"contacts"`
	Mode     RenderMode          `json:"mode"`
	State    JobState            `json:"state"`
	Segments []TranscriptSegment `json:"segments"`

	Transcript  string            `json:"transcript"`
	Voice       VoiceHandle       `json:"voice"`
	AvatarGroup AvatarGroupHandle `json:"avatar_group,omitempty"`

	// AvatarPendingTraining marks a freshly created group whose training
	// must complete before the confirm phase can render with it.
	AvatarPendingTraining bool `json:"avatar_pending_training,omitempty"`

	// VideoPath and AudioPath are the job-scoped source artifacts on disk.
	VideoPath string `json:"video_path"`
	AudioPath string `json:"audio_path"`

	// TotalDuration is the probed duration of the source video in seconds.
	TotalDuration float64 `json:"total_duration"`
}

// ContactOutcome records the result of one contact inside the send loop.
type ContactOutcome struct {
	Contact Contact       `json:"contact"`
	Outcome RenderOutcome `json:"outcome"`
	Error   string        `json:"error,omitempty"`
}
