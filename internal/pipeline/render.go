package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"

	"github.com/clipgreet/personalizer/internal/avatar"
	"github.com/clipgreet/personalizer/internal/core"
)

// Splicer composites a rendered clip or a synthesized audio snippet into the
// original media. Implemented by media.Engine.
type Splicer interface {
	Splice(ctx context.Context, original, insert string, start, end float64, scaleWidth int, position, output string) error
	SpliceAudio(ctx context.Context, video, audio, snippet string, start, end float64, output string) error
}

// Renderer produces the personalized clip for one contact, choosing between
// the avatar overlay path and the audio splice path.
type Renderer struct {
	voices  core.VoiceProvider
	avatars core.AvatarProvider
	splicer Splicer
	log     *logger.Logger

	overlayWidth    int
	overlayPosition string
}

// NewRenderer creates a renderer.
func NewRenderer(
	voices core.VoiceProvider,
	avatars core.AvatarProvider,
	splicer Splicer,
	overlayWidth int,
	overlayPosition string,
	log *logger.Logger,
) *Renderer {
	return &Renderer{
		voices:          voices,
		avatars:         avatars,
		splicer:         splicer,
		log:             log,
		overlayWidth:    overlayWidth,
		overlayPosition: overlayPosition,
	}
}

// RenderContact renders the personalized video for one contact into workDir.
// In avatar mode a failure of the avatar path falls back to the audio splice
// only when the failure is a typed *avatar.RenderError; media tool and input
// errors propagate as a failed result.
func (r *Renderer) RenderContact(
	ctx context.Context,
	job *core.Job,
	interval core.SpliceInterval,
	contact core.Contact,
	workDir string,
) core.RenderResult {
	script := interval.PersonalizedText(contact.Name)
	output := filepath.Join(workDir, "video_"+sanitizeName(contact.Name)+".mp4")

	fellBack := false

	if job.Mode == core.RenderModeAvatar && job.AvatarGroup != "" {
		avatarErr := r.renderAvatar(ctx, job, interval, script, sanitizeName(contact.Name), workDir, output)
		if avatarErr == nil {
			return core.RenderResult{Outcome: core.OutcomeAvatarRendered, Path: output, Err: nil}
		}

		var renderErr *avatar.RenderError
		if !errors.As(avatarErr, &renderErr) {
			return core.RenderResult{Outcome: core.OutcomeFailed, Path: "", Err: avatarErr}
		}

		r.log.Warn("Avatar render for '%s' failed, falling back to audio splice: %v", contact.Name, avatarErr)

		fellBack = true
	}

	audioErr := r.renderAudio(ctx, job, interval, script, sanitizeName(contact.Name), workDir, output)
	if audioErr != nil {
		return core.RenderResult{Outcome: core.OutcomeFailed, Path: "", Err: audioErr}
	}

	outcome := core.OutcomeAudioRendered
	if fellBack {
		outcome = core.OutcomeFallbackRendered
	}

	return core.RenderResult{Outcome: outcome, Path: output, Err: nil}
}

func (r *Renderer) renderAvatar(
	ctx context.Context,
	job *core.Job,
	interval core.SpliceInterval,
	script, slug, workDir, output string,
) error {
	clip := filepath.Join(workDir, "avatar_"+slug+".mp4")

	renderErr := r.avatars.RenderClip(ctx, job.AvatarGroup, job.Voice, script, clip)
	if renderErr != nil {
		return renderErr
	}

	spliceErr := r.splicer.Splice(
		ctx,
		job.VideoPath,
		clip,
		interval.Start,
		interval.End,
		r.overlayWidth,
		r.overlayPosition,
		output,
	)
	if spliceErr != nil {
		return fmt.Errorf("failed to splice avatar clip: %w", spliceErr)
	}

	return nil
}

func (r *Renderer) renderAudio(
	ctx context.Context,
	job *core.Job,
	interval core.SpliceInterval,
	script, slug, workDir, output string,
) error {
	audio, synthErr := r.voices.Synthesize(ctx, job.Voice, script)
	if synthErr != nil {
		return fmt.Errorf("failed to synthesize personalized snippet: %w", synthErr)
	}

	snippet := filepath.Join(workDir, "snippet_"+slug+".mp3")

	writeErr := os.WriteFile(snippet, audio, 0o600)
	if writeErr != nil {
		return fmt.Errorf("failed to write snippet file: %w", writeErr)
	}

	spliceErr := r.splicer.SpliceAudio(
		ctx,
		job.VideoPath,
		job.AudioPath,
		snippet,
		interval.Start,
		interval.End,
		output,
	)
	if spliceErr != nil {
		return fmt.Errorf("failed to splice personalized audio: %w", spliceErr)
	}

	return nil
}

// sanitizeName reduces a contact name to a filesystem-safe slug.
func sanitizeName(name string) string {
	var b strings.Builder

	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	return b.String()
}
