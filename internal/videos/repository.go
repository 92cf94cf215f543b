package videos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streamhive/backend/internal/models"
)

// ErrNotFound is returned when no video matches the given key.
var ErrNotFound = errors.New("video not found")

const videoColumns = `id, owner_id, title, description, upload_id, asset_id, status, playback_id, thumbnail_url, duration, is_published, created_at, updated_at`

// Repository handles video persistence. Every lifecycle transition is a single
// conditional UPDATE so that concurrent events for the same record serialize on
// the row itself; callers never read-then-write.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a videos repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new video for an initiated upload session (status = uploading).
func (r *Repository) Create(ctx context.Context, v *models.Video) error {
	const q = `INSERT INTO videos (id, owner_id, title, description, upload_id, status)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, v.OwnerID, v.Title, v.Description, v.UploadID, models.VideoStatusUploading).
		Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
}

// CreateFromUpload inserts a placeholder record for an upload session that has
// no local record (repair path for a lost insert after session creation).
// Idempotent: an existing record for the upload id is left untouched.
func (r *Repository) CreateFromUpload(ctx context.Context, uploadID string) error {
	const q = `INSERT INTO videos (id, title, upload_id, status)
		VALUES (gen_random_uuid(), 'Untitled', $1, $2)
		ON CONFLICT (upload_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, q, uploadID, models.VideoStatusUploading)
	return err
}

// GetByID returns a video by internal id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	const q = `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, q, id))
}

// GetByUploadID returns a video by its upload session id.
func (r *Repository) GetByUploadID(ctx context.Context, uploadID string) (*models.Video, error) {
	const q = `SELECT ` + videoColumns + ` FROM videos WHERE upload_id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, q, uploadID))
}

// GetByAssetID returns a video by provider asset id.
func (r *Repository) GetByAssetID(ctx context.Context, assetID string) (*models.Video, error) {
	const q = `SELECT ` + videoColumns + ` FROM videos WHERE asset_id = $1 AND asset_id <> ''`
	return r.scanOne(r.pool.QueryRow(ctx, q, assetID))
}

// ListByOwner returns an owner's videos, newest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Video, error) {
	const q = `SELECT ` + videoColumns + ` FROM videos WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Video
	for rows.Next() {
		var v models.Video
		if err := scanVideo(rows, &v); err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

// SetAsset records the provider asset id for an upload session and promotes the
// record to processing. The asset id is set-once: a different id on a record
// that already has one matches no row. Never demotes a record past processing.
func (r *Repository) SetAsset(ctx context.Context, uploadID, assetID string) (int64, error) {
	const q = `UPDATE videos
		SET asset_id = $2,
		    status = CASE WHEN status = 'uploading' THEN 'processing' ELSE status END,
		    updated_at = NOW()
		WHERE upload_id = $1
		  AND (asset_id = '' OR asset_id = $2)
		  AND status <> 'deleted'`
	tag, err := r.pool.Exec(ctx, q, uploadID, assetID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkReady publishes a video: sets playback id, thumbnail, duration and
// status = ready. Correlates by upload id with asset id fallback, backfilling
// asset_id when the asset-created event was lost. A deleted record is never
// resurrected.
func (r *Repository) MarkReady(ctx context.Context, uploadID, assetID, playbackID, thumbnailURL string, duration int) (int64, error) {
	const q = `UPDATE videos
		SET status = 'ready',
		    playback_id = $3,
		    thumbnail_url = $4,
		    duration = $5,
		    is_published = TRUE,
		    asset_id = CASE WHEN asset_id = '' AND $2 <> '' THEN $2 ELSE asset_id END,
		    updated_at = NOW()
		WHERE (($1 <> '' AND upload_id = $1) OR ($2 <> '' AND asset_id = $2))
		  AND status <> 'deleted'`
	tag, err := r.pool.Exec(ctx, q, uploadID, assetID, playbackID, thumbnailURL, duration)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkErrored fails a video. Ready dominates errored: a record already ready
// (or deleted) matches no row, leaving the caller to flag the event as stale.
func (r *Repository) MarkErrored(ctx context.Context, uploadID, assetID string) (int64, error) {
	const q = `UPDATE videos
		SET status = 'errored',
		    is_published = FALSE,
		    updated_at = NOW()
		WHERE (($1 <> '' AND upload_id = $1) OR ($2 <> '' AND asset_id = $2))
		  AND status NOT IN ('ready', 'deleted')`
	tag, err := r.pool.Exec(ctx, q, uploadID, assetID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkDeleted tombstones a video from any state. The row persists for audit;
// playback is cleared so a deleted record never carries a playback id.
func (r *Repository) MarkDeleted(ctx context.Context, uploadID, assetID string) (int64, error) {
	const q = `UPDATE videos
		SET status = 'deleted',
		    is_published = FALSE,
		    playback_id = '',
		    updated_at = NOW()
		WHERE (($1 <> '' AND upload_id = $1) OR ($2 <> '' AND asset_id = $2))
		  AND status <> 'deleted'`
	tag, err := r.pool.Exec(ctx, q, uploadID, assetID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UpdateThumbnailByAsset sets the thumbnail for an asset (cosmetic, e.g. a
// derived image track becoming ready). Status is untouched.
func (r *Repository) UpdateThumbnailByAsset(ctx context.Context, assetID, thumbnailURL string) (int64, error) {
	const q = `UPDATE videos SET thumbnail_url = $2, updated_at = NOW()
		WHERE asset_id = $1 AND asset_id <> '' AND status <> 'deleted'`
	tag, err := r.pool.Exec(ctx, q, assetID, thumbnailURL)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UpdateThumbnailByID sets the thumbnail by internal id (S3 cache swap).
func (r *Repository) UpdateThumbnailByID(ctx context.Context, id uuid.UUID, thumbnailURL string) error {
	const q = `UPDATE videos SET thumbnail_url = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, thumbnailURL)
	return err
}

// UpdateMeta updates presentation fields owned by the creator.
func (r *Repository) UpdateMeta(ctx context.Context, id uuid.UUID, ownerID uuid.UUID, title, description string, isPublished *bool) (*models.Video, error) {
	const q = `UPDATE videos
		SET title = COALESCE(NULLIF($3, ''), title),
		    description = CASE WHEN $4::text IS NULL THEN description ELSE $4 END,
		    is_published = CASE WHEN $5::boolean IS NULL THEN is_published ELSE $5 AND status = 'ready' END,
		    updated_at = NOW()
		WHERE id = $1 AND owner_id = $2
		RETURNING ` + videoColumns
	var desc *string
	if description != "" {
		desc = &description
	}
	return r.scanOne(r.pool.QueryRow(ctx, q, id, ownerID, title, desc, isPublished))
}

// ListStuck returns non-terminal videos that have not progressed within the
// given age, for the reconciliation sweeper.
func (r *Repository) ListStuck(ctx context.Context, olderThan time.Duration, limit int) ([]models.Video, error) {
	const q = `SELECT ` + videoColumns + ` FROM videos
		WHERE status IN ('uploading', 'processing')
		  AND updated_at < NOW() - make_interval(secs => $1)
		ORDER BY updated_at ASC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, q, olderThan.Seconds(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Video
	for rows.Next() {
		var v models.Video
		if err := scanVideo(rows, &v); err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

func (r *Repository) scanOne(row pgx.Row) (*models.Video, error) {
	var v models.Video
	if err := scanVideo(row, &v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func scanVideo(row pgx.Row, v *models.Video) error {
	return row.Scan(&v.ID, &v.OwnerID, &v.Title, &v.Description, &v.UploadID, &v.AssetID,
		&v.Status, &v.PlaybackID, &v.ThumbnailURL, &v.Duration, &v.IsPublished,
		&v.CreatedAt, &v.UpdatedAt)
}
