package avatar

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/clipgreet/personalizer/internal/core"
	"github.com/clipgreet/personalizer/internal/gateway"
)

// Video extensions that require a representative frame to be extracted.
var videoExtensions = map[string]bool{
	".mp4": true,
	".mov": true,
	".mkv": true,
	".avi": true,
	".webm": true,
}

// EnsureGroup returns a valid avatar group for ownerKey, reusing an existing
// trained group when possible and recreating a stale one otherwise. The
// returned bool is true when the group was freshly created and its training
// has been started but not awaited.
//
// At most one valid group exists per owner: a group with no trained member is
// deleted before a replacement is created.
func (s *Service) EnsureGroup(ctx context.Context, ownerKey, sourcePath string, existing core.AvatarGroupHandle, persist core.PersistHandleFunc) (core.AvatarGroupHandle, bool, error) {
	candidate := existing

	if candidate == "" {
		found, findErr := s.findGroupByName(ctx, ownerKey)
		if findErr != nil {
			return "", false, findErr
		}

		candidate = found
	}

	if candidate != "" {
		members, listErr := s.listMembers(ctx, candidate)
		if listErr != nil {
			return "", false, listErr
		}

		if hasTrainedMember(members) {
			return candidate, false, nil
		}

		// Stale group: delete is best-effort, creation proceeds anyway.
		deleteErr := s.deleteGroup(ctx, candidate)
		if deleteErr != nil {
			s.log.Warn("Failed to delete stale avatar group %s: %v", candidate, deleteErr)
		}
	}

	handle, createErr := s.createFreshGroup(ctx, ownerKey, sourcePath)
	if createErr != nil {
		return "", false, createErr
	}

	if persist != nil {
		go func() {
			persistErr := persist(context.WithoutCancel(ctx), ownerKey, handle)
			if persistErr != nil {
				s.log.Warn("Failed to persist avatar group handle %s: %v", handle, persistErr)
			}
		}()
	}

	if s.settleDelay > 0 {
		select {
		case <-ctx.Done():
			return "", false, fmt.Errorf("cancelled while group settled: %w", ctx.Err())
		case <-time.After(s.settleDelay):
		}
	}

	trainErr := s.startTraining(ctx, handle)
	if trainErr != nil {
		return "", false, trainErr
	}

	return handle, true, nil
}

// createFreshGroup uploads a representative still image and creates the
// group, retrying once under a uniqueness-suffixed name when the service
// reports a reused resource.
func (s *Service) createFreshGroup(ctx context.Context, ownerKey, sourcePath string) (core.AvatarGroupHandle, error) {
	imageData, imageName, frameErr := s.representativeImage(ctx, sourcePath)
	if frameErr != nil {
		return "", frameErr
	}

	imageKey, uploadErr := s.uploadImage(ctx, imageData, imageName)
	if uploadErr != nil {
		return "", uploadErr
	}

	created, createErr := s.createGroup(ctx, ownerKey, imageKey)
	if createErr != nil {
		return "", createErr
	}

	if !created.Reused {
		s.log.Info("Created avatar group %s for owner %s", created.GroupID, ownerKey)

		return core.AvatarGroupHandle(created.GroupID), nil
	}

	// Name collision on a group without trained avatars: discard it and
	// recreate under a timestamp-suffixed name.
	members, listErr := s.listMembers(ctx, core.AvatarGroupHandle(created.GroupID))
	if listErr == nil && hasTrainedMember(members) {
		return core.AvatarGroupHandle(created.GroupID), nil
	}

	deleteErr := s.deleteGroup(ctx, core.AvatarGroupHandle(created.GroupID))
	if deleteErr != nil {
		s.log.Warn("Failed to delete reused avatar group %s: %v", created.GroupID, deleteErr)
	}

	unique := ownerKey + "_" + strconv.FormatInt(s.now().Unix(), 10)

	recreated, recreateErr := s.createGroup(ctx, unique, imageKey)
	if recreateErr != nil {
		return "", recreateErr
	}

	s.log.Info("Recreated avatar group %s under unique name %s", recreated.GroupID, unique)

	return core.AvatarGroupHandle(recreated.GroupID), nil
}

// representativeImage returns the still image bytes for group creation:
// either the supplied image file, or a frame extracted from the midpoint of
// a source video.
func (s *Service) representativeImage(ctx context.Context, sourcePath string) ([]byte, string, error) {
	ext := strings.ToLower(filepath.Ext(sourcePath))

	if !videoExtensions[ext] {
		data, readErr := os.ReadFile(sourcePath)
		if readErr != nil {
			return nil, "", fmt.Errorf("failed to read source image: %w", readErr)
		}

		return data, filepath.Base(sourcePath), nil
	}

	duration, probeErr := s.media.ProbeDuration(ctx, sourcePath)
	if probeErr != nil {
		return nil, "", fmt.Errorf("failed to probe source video: %w", probeErr)
	}

	framePath := strings.TrimSuffix(sourcePath, ext) + "_frame.jpg"

	extractErr := s.media.ExtractFrame(ctx, sourcePath, duration/2, framePath)
	if extractErr != nil {
		return nil, "", fmt.Errorf("failed to extract representative frame: %w", extractErr)
	}

	data, readErr := os.ReadFile(framePath)
	if readErr != nil {
		return nil, "", fmt.Errorf("failed to read extracted frame: %w", readErr)
	}

	return data, filepath.Base(framePath), nil
}

// WaitTrained blocks until the group has at least one trained member avatar,
// checking on the training backoff schedule within the poll budget.
func (s *Service) WaitTrained(ctx context.Context, group core.AvatarGroupHandle) error {
	if group == "" {
		return ErrEmptyGroupHandle
	}

	err := gateway.WaitWithSchedule(ctx, s.trainSchedule, s.pollBudget,
		func(ctx context.Context) (bool, error) {
			members, listErr := s.listMembers(ctx, group)
			if listErr != nil {
				return false, listErr
			}

			return hasTrainedMember(members), nil
		})
	if err != nil {
		return fmt.Errorf("waiting for group %s training: %w", group, err)
	}

	return nil
}
