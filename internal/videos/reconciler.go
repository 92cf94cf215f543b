package videos

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/streamhive/backend/internal/models"
	"github.com/streamhive/backend/internal/provider"
	"github.com/streamhive/backend/pkg/queue"
)

// Store is the slice of the repository the reconciler drives. Every mutation
// is an atomic find-by-key-and-set operation; replaying an event produces the
// same end state.
type Store interface {
	CreateFromUpload(ctx context.Context, uploadID string) error
	GetByUploadID(ctx context.Context, uploadID string) (*models.Video, error)
	GetByAssetID(ctx context.Context, assetID string) (*models.Video, error)
	SetAsset(ctx context.Context, uploadID, assetID string) (int64, error)
	MarkReady(ctx context.Context, uploadID, assetID, playbackID, thumbnailURL string, duration int) (int64, error)
	MarkErrored(ctx context.Context, uploadID, assetID string) (int64, error)
	MarkDeleted(ctx context.Context, uploadID, assetID string) (int64, error)
	UpdateThumbnailByAsset(ctx context.Context, assetID, thumbnailURL string) (int64, error)
}

// ThumbnailResolver derives the thumbnail location for a playback id.
// *provider.Client satisfies it.
type ThumbnailResolver interface {
	ThumbnailURL(playbackID string) string
}

// Enqueuer enqueues follow-up jobs after a transition. May be nil when no
// queue is configured.
type Enqueuer interface {
	EnqueueThumbnailCache(ctx context.Context, payload queue.ThumbnailCachePayload) error
}

// Reconciler applies verified provider events to video records. Events arrive
// at least once and unordered; transitions tolerate replays and races through
// the store's conditional updates.
type Reconciler struct {
	store  Store
	thumbs ThumbnailResolver
	jobs   Enqueuer
	logger *zap.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(store Store, thumbs ThumbnailResolver, jobs Enqueuer, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, thumbs: thumbs, jobs: jobs, logger: logger}
}

// transitions maps event types to their state transition. A single table keeps
// webhook and pull-based reconciliation from drifting apart.
var transitions = map[string]func(ctx context.Context, r *Reconciler, payload interface{}) error{
	EventUploadCreated: applyUploadCreated,
	EventAssetCreated:  applyAssetCreated,
	EventAssetReady:    applyAssetReady,
	EventAssetErrored:  applyAssetErrored,
	EventAssetDeleted:  applyAssetDeleted,
	EventTrackReady:    applyTrackReady,
}

// Apply dispatches one verified event. Per-event failures (unresolvable
// correlation, missing playback id, bad payload) are returned for reporting;
// the caller decides they do not fail the delivery as a whole.
func (r *Reconciler) Apply(ctx context.Context, env Envelope) error {
	fn, ok := transitions[env.Type]
	if !ok {
		r.logger.Debug("ignoring unhandled event type", zap.String("type", env.Type))
		return nil
	}
	payload, err := decodeEvent(env.Type, env.Data)
	if err != nil {
		return err
	}
	return fn(ctx, r, payload)
}

func applyUploadCreated(ctx context.Context, r *Reconciler, payload interface{}) error {
	ev := payload.(*UploadCreatedEvent)
	// Create-if-missing repairs a lost insert after provider session creation;
	// an existing record is left as-is.
	if err := r.store.CreateFromUpload(ctx, ev.ID); err != nil {
		return fmt.Errorf("upload.created %s: %w", ev.ID, err)
	}
	return nil
}

func applyAssetCreated(ctx context.Context, r *Reconciler, payload interface{}) error {
	ev := payload.(*AssetCreatedEvent)
	rows, err := r.store.SetAsset(ctx, ev.UploadID, ev.ID)
	if err != nil {
		return fmt.Errorf("asset.created %s: %w", ev.ID, err)
	}
	if rows > 0 {
		return nil
	}
	v, err := r.store.GetByUploadID(ctx, ev.UploadID)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("asset.created %s: %w (upload %s)", ev.ID, ErrUnresolvedEvent, ev.UploadID)
	}
	if err != nil {
		return fmt.Errorf("asset.created %s: %w", ev.ID, err)
	}
	// Guard refused: asset id already set to a different value, or tombstoned.
	r.logger.Warn("asset.created did not apply",
		zap.String("upload_id", ev.UploadID),
		zap.String("event_asset_id", ev.ID),
		zap.String("record_asset_id", v.AssetID),
		zap.String("status", v.Status),
	)
	return nil
}

func applyAssetReady(ctx context.Context, r *Reconciler, payload interface{}) error {
	ev := payload.(*AssetReadyEvent)
	if len(ev.PlaybackIDs) == 0 || ev.PlaybackIDs[0].ID == "" {
		// A ready video without playback data is unusable; never publish it.
		return fmt.Errorf("asset.ready %s: %w", ev.ID, ErrNoPlaybackID)
	}
	playbackID := ev.PlaybackIDs[0].ID
	thumbnail := r.thumbs.ThumbnailURL(playbackID)
	duration := int(math.Round(ev.Duration))

	rows, err := r.store.MarkReady(ctx, ev.UploadID, ev.ID, playbackID, thumbnail, duration)
	if err != nil {
		return fmt.Errorf("asset.ready %s: %w", ev.ID, err)
	}
	if rows == 0 {
		v, findErr := r.findByKeys(ctx, ev.UploadID, ev.ID)
		if findErr != nil {
			return fmt.Errorf("asset.ready %s: %w (upload %s)", ev.ID, ErrUnresolvedEvent, ev.UploadID)
		}
		r.logger.Warn("asset.ready for tombstoned video ignored",
			zap.String("video_id", v.ID.String()),
			zap.String("asset_id", ev.ID),
		)
		return nil
	}

	if r.jobs != nil {
		if v, findErr := r.findByKeys(ctx, ev.UploadID, ev.ID); findErr == nil {
			if err := r.jobs.EnqueueThumbnailCache(ctx, queue.ThumbnailCachePayload{
				VideoID:      v.ID,
				PlaybackID:   playbackID,
				ThumbnailURL: thumbnail,
			}); err != nil {
				r.logger.Warn("enqueue thumbnail cache failed", zap.Error(err), zap.String("video_id", v.ID.String()))
			}
		}
	}
	return nil
}

func applyAssetErrored(ctx context.Context, r *Reconciler, payload interface{}) error {
	ev := payload.(*AssetErroredEvent)
	rows, err := r.store.MarkErrored(ctx, ev.UploadID, ev.ID)
	if err != nil {
		return fmt.Errorf("asset.errored %s: %w", ev.ID, err)
	}
	if rows > 0 {
		r.logger.Info("video errored",
			zap.String("asset_id", ev.ID),
			zap.String("upload_id", ev.UploadID),
			zap.Strings("messages", ev.Errors.Messages),
		)
		return nil
	}
	v, findErr := r.findByKeys(ctx, ev.UploadID, ev.ID)
	if findErr != nil {
		// An errored event never creates a record.
		return fmt.Errorf("asset.errored %s: %w (upload %s)", ev.ID, ErrUnresolvedEvent, ev.UploadID)
	}
	if v.Status == models.VideoStatusReady {
		// Ready dominates errored: a stale errored retry never un-publishes.
		r.logger.Warn("stale asset.errored for ready video ignored",
			zap.String("video_id", v.ID.String()),
			zap.String("asset_id", ev.ID),
		)
	}
	return nil
}

func applyAssetDeleted(ctx context.Context, r *Reconciler, payload interface{}) error {
	ev := payload.(*AssetDeletedEvent)
	rows, err := r.store.MarkDeleted(ctx, ev.UploadID, ev.ID)
	if err != nil {
		return fmt.Errorf("asset.deleted %s: %w", ev.ID, err)
	}
	if rows > 0 {
		return nil
	}
	if _, findErr := r.findByKeys(ctx, ev.UploadID, ev.ID); findErr != nil {
		return fmt.Errorf("asset.deleted %s: %w (upload %s)", ev.ID, ErrUnresolvedEvent, ev.UploadID)
	}
	// Replay against an already-tombstoned record.
	return nil
}

func applyTrackReady(ctx context.Context, r *Reconciler, payload interface{}) error {
	ev := payload.(*TrackReadyEvent)
	v, err := r.store.GetByAssetID(ctx, ev.AssetID)
	if errors.Is(err, ErrNotFound) {
		// Cosmetic event; nothing to refresh.
		r.logger.Debug("track.ready for unknown asset ignored", zap.String("asset_id", ev.AssetID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("track.ready %s: %w", ev.AssetID, err)
	}
	if v.PlaybackID == "" {
		return nil
	}
	if _, err := r.store.UpdateThumbnailByAsset(ctx, ev.AssetID, r.thumbs.ThumbnailURL(v.PlaybackID)); err != nil {
		return fmt.Errorf("track.ready %s: %w", ev.AssetID, err)
	}
	return nil
}

// ApplySnapshot reconciles a directly-queried provider state (the pull path
// used by the status facade and the sweeper) through the same transitions the
// webhook path uses.
func (r *Reconciler) ApplySnapshot(ctx context.Context, uploadID string, up *provider.Upload, asset *provider.Asset) error {
	if asset != nil {
		switch asset.Status {
		case "ready":
			playbackIDs := make([]EventPlaybackID, 0, len(asset.PlaybackIDs))
			for _, p := range asset.PlaybackIDs {
				playbackIDs = append(playbackIDs, EventPlaybackID{ID: p.ID, Policy: p.Policy})
			}
			return applyAssetReady(ctx, r, &AssetReadyEvent{
				ID:          asset.ID,
				UploadID:    uploadID,
				PlaybackIDs: playbackIDs,
				Duration:    asset.Duration,
			})
		case "errored":
			ev := &AssetErroredEvent{ID: asset.ID, UploadID: uploadID}
			if asset.Errors != nil {
				ev.Errors.Type = asset.Errors.Type
				ev.Errors.Messages = asset.Errors.Messages
			}
			return applyAssetErrored(ctx, r, ev)
		default: // preparing
			return applyAssetCreated(ctx, r, &AssetCreatedEvent{ID: asset.ID, UploadID: uploadID})
		}
	}
	if up != nil {
		switch up.Status {
		case "errored", "timed_out", "cancelled":
			return applyAssetErrored(ctx, r, &AssetErroredEvent{UploadID: uploadID})
		}
	}
	return nil
}

func (r *Reconciler) findByKeys(ctx context.Context, uploadID, assetID string) (*models.Video, error) {
	if uploadID != "" {
		if v, err := r.store.GetByUploadID(ctx, uploadID); err == nil {
			return v, nil
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	if assetID != "" {
		return r.store.GetByAssetID(ctx, assetID)
	}
	return nil, ErrNotFound
}

// IsEventError reports whether err is a per-event reconciliation failure that
// should be logged but acknowledged with 200, so the provider does not retry
// the whole delivery forever.
func IsEventError(err error) bool {
	return errors.Is(err, ErrUnresolvedEvent) ||
		errors.Is(err, ErrNoPlaybackID) ||
		errors.Is(err, ErrBadEventPayload)
}
