// Package worker runs background reconciliation: it re-checks stuck videos
// against the provider (the pull complement to webhooks) and caches ready
// thumbnails in S3.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/streamhive/backend/internal/models"
	"github.com/streamhive/backend/internal/provider"
	"github.com/streamhive/backend/internal/videos"
	"github.com/streamhive/backend/pkg/queue"
	"github.com/streamhive/backend/pkg/storage"
)

// Config holds processor timing settings.
type Config struct {
	SweepInterval time.Duration // between sweeps for stuck records
	StuckAfter    time.Duration // non-terminal age before a provider re-check
	GiveUpAfter   time.Duration // age before a record with no provider progress is failed
}

// Processor consumes reconcile and thumbnail-cache jobs and periodically
// sweeps for stuck records.
type Processor struct {
	repo       *videos.Repository
	reconciler *videos.Reconciler
	client     *provider.Client
	s3         *storage.S3
	queue      *queue.Queue
	cfg        Config
	logger     *zap.Logger
}

// NewProcessor creates a worker processor. s3 may be nil; thumbnail jobs are
// then skipped.
func NewProcessor(repo *videos.Repository, reconciler *videos.Reconciler, client *provider.Client, s3 *storage.S3, q *queue.Queue, cfg Config, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 10 * time.Minute
	}
	if cfg.GiveUpAfter <= 0 {
		cfg.GiveUpAfter = 24 * time.Hour
	}
	return &Processor{repo: repo, reconciler: reconciler, client: client, s3: s3, queue: q, cfg: cfg, logger: logger}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeReconcile:
		var payload queue.ReconcilePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.reconcile(ctx, payload)
	case queue.JobTypeThumbnailCache:
		var payload queue.ThumbnailCachePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.cacheThumbnail(ctx, payload)
	}
	return fmt.Errorf("unknown job type: %s", job.Type)
}

// reconcile pulls the provider's view of an upload and applies it locally.
// A record the provider no longer knows, or one stuck past GiveUpAfter with no
// provider-side progress, is failed and logged as an operational signal.
func (p *Processor) reconcile(ctx context.Context, payload queue.ReconcilePayload) error {
	v, err := p.repo.GetByUploadID(ctx, payload.UploadID)
	if errors.Is(err, videos.ErrNotFound) {
		p.logger.Warn("reconcile job for unknown upload", zap.String("upload_id", payload.UploadID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load video: %w", err)
	}
	if models.IsTerminal(v.Status) {
		return nil
	}

	up, asset, err := p.client.GetAssetByUploadID(ctx, payload.UploadID)
	if errors.Is(err, provider.ErrNotFound) {
		// The provider never saw (or has expired) this upload session. The
		// record cannot make progress; fail it rather than hide it.
		p.logger.Error("upload session unknown to provider, marking errored",
			zap.String("video_id", v.ID.String()),
			zap.String("upload_id", payload.UploadID),
		)
		_, err := p.repo.MarkErrored(ctx, payload.UploadID, "")
		return err
	}
	if err != nil {
		return fmt.Errorf("provider lookup: %w", err)
	}

	if err := p.reconciler.ApplySnapshot(ctx, payload.UploadID, up, asset); err != nil {
		return fmt.Errorf("apply snapshot: %w", err)
	}

	if asset == nil && time.Since(v.CreatedAt) > p.cfg.GiveUpAfter {
		p.logger.Error("upload never produced an asset, marking errored",
			zap.String("video_id", v.ID.String()),
			zap.String("upload_id", payload.UploadID),
			zap.Duration("age", time.Since(v.CreatedAt)),
		)
		_, err := p.repo.MarkErrored(ctx, payload.UploadID, "")
		return err
	}
	return nil
}

// cacheThumbnail copies the provider-derived thumbnail into our S3 bucket and
// points the record at the cached copy. Cosmetic: status is never touched.
func (p *Processor) cacheThumbnail(ctx context.Context, payload queue.ThumbnailCachePayload) error {
	if p.s3 == nil || p.s3.ThumbnailsBucket() == "" {
		p.logger.Debug("thumbnail cache skipped, no bucket configured", zap.String("video_id", payload.VideoID.String()))
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, payload.ThumbnailURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download thumbnail: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("thumbnail download status: %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	key := storage.ThumbnailKey(payload.VideoID.String())
	url, err := p.s3.Upload(ctx, p.s3.ThumbnailsBucket(), key, contentType, resp.Body)
	if err != nil {
		return err
	}

	if err := p.repo.UpdateThumbnailByID(ctx, payload.VideoID, url); err != nil {
		return fmt.Errorf("update thumbnail: %w", err)
	}
	p.logger.Info("thumbnail cached", zap.String("video_id", payload.VideoID.String()), zap.String("s3_key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker stopping")
			return
		default:
		}

		job, key, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, key, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}

// RunSweeper periodically enqueues reconcile jobs for videos stuck in a
// non-terminal state. This is the operational safety net for lost webhooks and
// the orphaned-session inconsistency from upload initiation.
func (p *Processor) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("sweeper stopping")
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Processor) sweep(ctx context.Context) {
	stuck, err := p.repo.ListStuck(ctx, p.cfg.StuckAfter, 100)
	if err != nil {
		p.logger.Warn("stuck sweep failed", zap.Error(err))
		return
	}
	for _, v := range stuck {
		if err := p.queue.EnqueueReconcile(ctx, queue.ReconcilePayload{VideoID: v.ID, UploadID: v.UploadID}); err != nil {
			p.logger.Warn("enqueue reconcile failed", zap.Error(err), zap.String("video_id", v.ID.String()))
		}
	}
	if len(stuck) > 0 {
		p.logger.Info("enqueued reconcile sweep", zap.Int("count", len(stuck)))
	}
}
