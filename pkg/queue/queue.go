package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueReconcile is the Redis list key for provider reconciliation jobs.
	QueueReconcile = "worker:reconcile"
	// QueueThumbnails is the Redis list key for thumbnail cache jobs.
	QueueThumbnails = "worker:thumbnails"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeReconcile      JobType = "reconcile"
	JobTypeThumbnailCache JobType = "thumbnail_cache"
)

// ReconcilePayload is the payload for provider reconciliation jobs: pull the
// provider's view of an upload and apply it to the local record.
type ReconcilePayload struct {
	VideoID  uuid.UUID `json:"video_id"`
	UploadID string    `json:"upload_id"`
}

// ThumbnailCachePayload is the payload for thumbnail cache jobs: copy the
// provider-derived thumbnail into our S3 bucket.
type ThumbnailCachePayload struct {
	VideoID      uuid.UUID `json:"video_id"`
	PlaybackID   string    `json:"playback_id"`
	ThumbnailURL string    `json:"thumbnail_url"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueReconcile enqueues a provider reconciliation job.
func (q *Queue) EnqueueReconcile(ctx context.Context, payload ReconcilePayload) error {
	job, err := newJob(JobTypeReconcile, payload)
	if err != nil {
		return err
	}
	if err := q.push(ctx, QueueReconcile, job); err != nil {
		return err
	}
	q.logger.Debug("enqueued reconcile job", zap.String("job_id", job.ID), zap.String("upload_id", payload.UploadID))
	return nil
}

// EnqueueThumbnailCache enqueues a thumbnail cache job.
func (q *Queue) EnqueueThumbnailCache(ctx context.Context, payload ThumbnailCachePayload) error {
	job, err := newJob(JobTypeThumbnailCache, payload)
	if err != nil {
		return err
	}
	if err := q.push(ctx, QueueThumbnails, job); err != nil {
		return err
	}
	q.logger.Debug("enqueued thumbnail cache job", zap.String("job_id", job.ID), zap.String("video_id", payload.VideoID.String()))
	return nil
}

func newJob(jobType JobType, payload interface{}) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   body,
		Attempt:   0,
		CreatedAt: time.Now(),
	}, nil
}

func (q *Queue) push(ctx context.Context, key string, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	return nil
}

// Dequeue blocks until a job is available or ctx is done. Returns job and key (queue name).
func (q *Queue) Dequeue(ctx context.Context) (*Job, string, error) {
	result, err := q.client.BLPop(ctx, 0, QueueReconcile, QueueThumbnails).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(result) < 2 {
		return nil, "", nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, "", nil
	}
	return &job, result[0], nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, key string, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
