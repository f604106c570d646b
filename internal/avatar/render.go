package avatar

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/clipgreet/personalizer/internal/core"
	"github.com/clipgreet/personalizer/internal/gateway"
)

// RenderError marks a failure of the avatar render path. The orchestrator
// falls back to the audio-splice render only on this error type; anything
// else propagates as a job failure.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("avatar render failed: %v", e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// renderJobStatus is the render-job polling response.
type renderJobStatus struct {
	Status   string `json:"status"`
	VideoURL string `json:"video_url,omitempty"`
	Message  string `json:"message,omitempty"`
}

// RenderClip creates a render job for the group speaking the script with the
// cloned voice, waits for completion within the poll budget, and writes the
// resulting clip to outputPath. All failures are reported as *RenderError.
func (s *Service) RenderClip(ctx context.Context, group core.AvatarGroupHandle, voice core.VoiceHandle, script, outputPath string) error {
	if group == "" {
		return &RenderError{Err: ErrEmptyGroupHandle}
	}

	if voice == "" {
		return &RenderError{Err: core.ErrEmptyVoiceHandle}
	}

	jobID, createErr := s.createRenderJob(ctx, group, voice, script)
	if createErr != nil {
		return &RenderError{Err: createErr}
	}

	resultURL, waitErr := s.waitRenderJob(ctx, jobID)
	if waitErr != nil {
		return &RenderError{Err: waitErr}
	}

	clip, downloadErr := s.gw.DownloadFile(ctx, resultURL)
	if downloadErr != nil {
		return &RenderError{Err: fmt.Errorf("failed to download rendered clip: %w", downloadErr)}
	}

	writeErr := os.WriteFile(outputPath, clip, 0o600)
	if writeErr != nil {
		return &RenderError{Err: fmt.Errorf("failed to write rendered clip: %w", writeErr)}
	}

	s.log.Info("Rendered avatar clip %s (%d bytes)", outputPath, len(clip))

	return nil
}

// createRenderJob submits the render request. A 409 means the group's
// training has not finished propagating and is retried on the training
// schedule.
func (s *Service) createRenderJob(ctx context.Context, group core.AvatarGroupHandle, voice core.VoiceHandle, script string) (string, error) {
	payload := map[string]string{
		"group_id": string(group),
		"voice_id": string(voice),
		"script":   script,
	}

	var jobID string

	err := gateway.WaitWithSchedule(ctx, s.trainSchedule, s.pollBudget,
		func(ctx context.Context) (bool, error) {
			var resp struct {
				JobID string `json:"job_id"`
			}

			createErr := s.gw.Request(ctx, http.MethodPost, pathVideoCreate, payload, &resp)
			if createErr == nil {
				jobID = resp.JobID

				return true, nil
			}

			if gateway.IsConflict(createErr) {
				return false, nil
			}

			return false, createErr
		})
	if err != nil {
		return "", fmt.Errorf("failed to create render job: %w", err)
	}

	return jobID, nil
}

// waitRenderJob polls the job until COMPLETED and returns the result URL.
func (s *Service) waitRenderJob(ctx context.Context, jobID string) (string, error) {
	var resultURL string

	path := pathVideoStatus + "?job_id=" + url.QueryEscape(jobID)

	err := gateway.Wait(ctx, s.pollInterval, s.pollBudget,
		func(ctx context.Context) (bool, error) {
			var status renderJobStatus

			pollErr := s.gw.Request(ctx, http.MethodGet, path, nil, &status)
			if pollErr != nil {
				return false, pollErr
			}

			switch status.Status {
			case jobStatusCompleted:
				if status.VideoURL == "" {
					return false, ErrNoResultURL
				}

				resultURL = status.VideoURL

				return true, nil
			case jobStatusFailed, jobStatusError:
				return false, fmt.Errorf("render job %s failed: %s", jobID, status.Message)
			default:
				return false, nil
			}
		})
	if err != nil {
		return "", err
	}

	return resultURL, nil
}
