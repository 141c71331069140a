package usecase

import (
	"context"
	"encoding/json"
	"errors"

	"OutlierScope/internal/domain/models"
	"OutlierScope/pkg/queue"
)

// JobTypeDetect is the queue type for deferred detections.
const JobTypeDetect = "detect"

// DetectionJob runs queued detection requests. Input errors are permanent;
// timeouts are retried by the queue.
type DetectionJob struct {
	detect *DetectOutliers
}

func NewDetectionJob(detect *DetectOutliers) *DetectionJob {
	return &DetectionJob{detect: detect}
}

func (j *DetectionJob) Type() string { return JobTypeDetect }

func (j *DetectionJob) Handle(ctx context.Context, payload json.RawMessage) (any, error) {
	req, _, err := DecodeRequest(payload)
	if err != nil {
		return nil, queue.Permanent(err)
	}
	resp, err := j.detect.Execute(ctx, req)
	if err != nil {
		var de *models.DetectionError
		if errors.As(err, &de) {
			return nil, queue.Permanent(err)
		}
		return nil, err
	}
	return resp, nil
}

var _ queue.Job = (*DetectionJob)(nil)
