// Package avatar provisions per-user avatar groups on the avatar service and
// renders talking-head clips with them.
package avatar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/book-expert/logger"

	"github.com/clipgreet/personalizer/internal/core"
	"github.com/clipgreet/personalizer/internal/gateway"
)

// Avatar service endpoints.
const (
	pathUploadImage = "v1/asset/upload"
	pathGroupCreate = "v1/avatar_group/create"
	pathGroupList   = "v1/avatar_group/list"
	pathGroupDelete = "v1/avatar_group/delete"
	pathGroupTrain  = "v1/avatar_group/train"
	pathGroupMember = "v1/avatar_group/avatars"
	pathVideoCreate = "v1/video/generate"
	pathVideoStatus = "v1/video/status"
)

// Member avatar training states reported by the service.
const (
	memberStatusCompleted = "completed"
)

// Render job terminal states.
const (
	jobStatusCompleted = "COMPLETED"
	jobStatusFailed    = "FAILED"
	jobStatusError     = "ERROR"
)

// Static errors.
var (
	// ErrNoResultURL indicates a completed render job without a result URL.
	ErrNoResultURL = errors.New("render job completed without a result URL")
	// ErrEmptyGroupHandle indicates an operation on an empty group handle.
	ErrEmptyGroupHandle = errors.New("avatar group handle is empty")
)

// Service calls the avatar service. It implements core.AvatarProvider.
type Service struct {
	gw    *gateway.Client
	media core.MediaTool
	log   *logger.Logger

	pollInterval time.Duration
	pollBudget   time.Duration

	// trainSchedule is the backoff sequence for training-readiness checks;
	// the last entry repeats.
	trainSchedule []time.Duration

	// settleDelay gives the service time to materialize a freshly created
	// group before training is invoked. Zeroed in tests.
	settleDelay time.Duration

	now func() time.Time
}

// NewService creates an avatar service client.
func NewService(gw *gateway.Client, media core.MediaTool, pollInterval, pollBudget time.Duration, log *logger.Logger) *Service {
	return &Service{
		gw:           gw,
		media:        media,
		log:          log,
		pollInterval: pollInterval,
		pollBudget:   pollBudget,
		trainSchedule: []time.Duration{
			3 * time.Second,
			5 * time.Second,
			10 * time.Second,
			20 * time.Second,
		},
		settleDelay: 2 * time.Second,
		now:         time.Now,
	}
}

// NewServiceWithSchedule creates an avatar service client with explicit
// training schedule and settle delay. Primarily for testing, mirroring the
// injectable-client constructor pattern used elsewhere.
func NewServiceWithSchedule(gw *gateway.Client, media core.MediaTool, pollInterval, pollBudget time.Duration, trainSchedule []time.Duration, settleDelay time.Duration, log *logger.Logger) *Service {
	service := NewService(gw, media, pollInterval, pollBudget, log)
	service.trainSchedule = trainSchedule
	service.settleDelay = settleDelay

	return service
}

// groupInfo is one entry of the group list response.
type groupInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// memberAvatar is one member of a group with its training status.
type memberAvatar struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (s *Service) findGroupByName(ctx context.Context, name string) (core.AvatarGroupHandle, error) {
	var resp struct {
		Groups []groupInfo `json:"groups"`
	}

	err := s.gw.Request(ctx, http.MethodGet, pathGroupList, nil, &resp)
	if err != nil {
		return "", fmt.Errorf("failed to list avatar groups: %w", err)
	}

	for _, group := range resp.Groups {
		if group.Name == name {
			return core.AvatarGroupHandle(group.ID), nil
		}
	}

	return "", nil
}

func (s *Service) listMembers(ctx context.Context, group core.AvatarGroupHandle) ([]memberAvatar, error) {
	var resp struct {
		Avatars []memberAvatar `json:"avatars"`
	}

	path := pathGroupMember + "?group_id=" + url.QueryEscape(string(group))

	err := s.gw.Request(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to list group avatars: %w", err)
	}

	return resp.Avatars, nil
}

// hasTrainedMember reports whether any member avatar finished training.
func hasTrainedMember(members []memberAvatar) bool {
	for _, member := range members {
		if member.Status == memberStatusCompleted {
			return true
		}
	}

	return false
}

func (s *Service) deleteGroup(ctx context.Context, group core.AvatarGroupHandle) error {
	payload := map[string]string{"group_id": string(group)}

	err := s.gw.Request(ctx, http.MethodPost, pathGroupDelete, payload, nil)
	if err != nil {
		return fmt.Errorf("failed to delete avatar group %s: %w", group, err)
	}

	return nil
}

func (s *Service) uploadImage(ctx context.Context, imageData []byte, fileName string) (string, error) {
	var resp struct {
		ImageKey string `json:"image_key"`
	}

	err := s.gw.Upload(ctx, pathUploadImage, "file", fileName, imageData, nil, &resp)
	if err != nil {
		return "", fmt.Errorf("failed to upload avatar image: %w", err)
	}

	return resp.ImageKey, nil
}

// createGroupResponse is the group creation response. Reused marks a
// name-collision where the service returned an existing group instead of
// creating one.
type createGroupResponse struct {
	GroupID string `json:"group_id"`
	Reused  bool   `json:"reused,omitempty"`
}

func (s *Service) createGroup(ctx context.Context, name, imageKey string) (createGroupResponse, error) {
	payload := map[string]string{
		"name":      name,
		"image_key": imageKey,
	}

	var resp createGroupResponse

	err := s.gw.Request(ctx, http.MethodPost, pathGroupCreate, payload, &resp)
	if err != nil {
		return createGroupResponse{}, fmt.Errorf("failed to create avatar group: %w", err)
	}

	return resp, nil
}

// startTraining kicks off asynchronous training for the group. A 409 means
// the group is not ready to train yet and is retried on the training
// schedule; training completion is not awaited here.
func (s *Service) startTraining(ctx context.Context, group core.AvatarGroupHandle) error {
	payload := map[string]string{"group_id": string(group)}

	err := gateway.WaitWithSchedule(ctx, s.trainSchedule, s.pollBudget,
		func(ctx context.Context) (bool, error) {
			trainErr := s.gw.Request(ctx, http.MethodPost, pathGroupTrain, payload, nil)
			if trainErr == nil {
				return true, nil
			}

			if gateway.IsConflict(trainErr) {
				return false, nil
			}

			return false, trainErr
		})
	if err != nil {
		return fmt.Errorf("failed to start training for group %s: %w", group, err)
	}

	return nil
}
