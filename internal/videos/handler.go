package videos

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/streamhive/backend/internal/middleware"
	"github.com/streamhive/backend/internal/models"
	"github.com/streamhive/backend/internal/provider"
	"github.com/streamhive/backend/pkg/response"
)

// VideoStore is the full persistence surface the HTTP handlers use.
// *Repository satisfies it.
type VideoStore interface {
	Store
	Create(ctx context.Context, v *models.Video) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Video, error)
	UpdateMeta(ctx context.Context, id, ownerID uuid.UUID, title, description string, isPublished *bool) (*models.Video, error)
}

// ProviderAPI is the slice of the provider client the handlers call.
// *provider.Client satisfies it.
type ProviderAPI interface {
	CreateUpload(ctx context.Context) (*provider.Upload, error)
	GetAssetByUploadID(ctx context.Context, uploadID string) (*provider.Upload, *provider.Asset, error)
	DeleteAsset(ctx context.Context, assetID string) error
}

// Handler handles video HTTP endpoints: upload session creation, status
// polling and owner CRUD.
type Handler struct {
	store       VideoStore
	client      ProviderAPI
	reconciler  *Reconciler
	pullTimeout time.Duration
	logger      *zap.Logger
}

// NewHandler creates a video handler. pullTimeout bounds the synchronous
// provider lookup on the status poll path.
func NewHandler(store VideoStore, client ProviderAPI, reconciler *Reconciler, pullTimeout time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pullTimeout <= 0 {
		pullTimeout = 5 * time.Second
	}
	return &Handler{store: store, client: client, reconciler: reconciler, pullTimeout: pullTimeout, logger: logger}
}

// CreateUploadResponse is the body returned by POST /videos/uploads.
type CreateUploadResponse struct {
	VideoID   uuid.UUID `json:"video_id"`
	UploadID  string    `json:"upload_id"`
	UploadURL string    `json:"upload_url"`
}

// CreateUpload handles POST /videos/uploads: requests an upload session from
// the provider, then creates the pending video record. Provider failure means
// nothing is created; an insert failure after session creation leaves an
// orphaned session that the upload.created webhook repairs.
func (h *Handler) CreateUpload(c *gin.Context) {
	ownerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	up, err := h.client.CreateUpload(c.Request.Context())
	if err != nil {
		h.logger.Error("create upload session failed", zap.Error(err), zap.String("owner_id", ownerID.String()))
		response.ServiceUnavailable(c, "upload session unavailable, retry")
		return
	}

	v := &models.Video{
		OwnerID:  ownerID,
		Title:    "Untitled",
		UploadID: up.ID,
		Status:   models.VideoStatusUploading,
	}
	if err := h.store.Create(c.Request.Context(), v); err != nil {
		// Orphaned provider session; upload.created webhook will recreate the
		// record, the sweeper flags it if that is also lost.
		h.logger.Error("create video record failed after session creation",
			zap.Error(err),
			zap.String("upload_id", up.ID),
			zap.String("owner_id", ownerID.String()),
		)
		response.Internal(c, "failed to create video")
		return
	}

	h.logger.Info("upload session created", zap.String("video_id", v.ID.String()), zap.String("upload_id", up.ID))
	response.Created(c, CreateUploadResponse{VideoID: v.ID, UploadID: up.ID, UploadURL: up.URL})
}

// UploadStatusResponse is the body returned by the status poll endpoint.
type UploadStatusResponse struct {
	Status       string `json:"status"`
	PlaybackID   string `json:"playback_id"`
	IsPublished  bool   `json:"is_published"`
	ThumbnailURL string `json:"thumbnail_url"`
	Duration     int    `json:"duration"`
}

// GetUploadStatus handles GET /videos/uploads/:uploadId/status. Polling
// clients use it while webhook delivery lags. When the record is still
// non-terminal the provider is queried directly with a bounded timeout and the
// snapshot reconciled; on any pull failure the last known local state wins.
func (h *Handler) GetUploadStatus(c *gin.Context) {
	uploadID := c.Param("uploadId")

	v, err := h.store.GetByUploadID(c.Request.Context(), uploadID)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "video not found")
		return
	}
	if err != nil {
		response.Internal(c, "lookup failed")
		return
	}

	if !models.IsTerminal(v.Status) {
		if fresh := h.pullStatus(c.Request.Context(), uploadID); fresh != nil {
			v = fresh
		}
	}

	response.OK(c, UploadStatusResponse{
		Status:       v.Status,
		PlaybackID:   v.PlaybackID,
		IsPublished:  v.IsPublished,
		ThumbnailURL: v.ThumbnailURL,
		Duration:     v.Duration,
	})
}

// pullStatus queries the provider for the upload's current state and runs the
// snapshot through the reconciler. Returns the refreshed record, or nil when
// the pull failed or changed nothing; failures degrade to local state.
func (h *Handler) pullStatus(ctx context.Context, uploadID string) *models.Video {
	pullCtx, cancel := context.WithTimeout(ctx, h.pullTimeout)
	defer cancel()

	up, asset, err := h.client.GetAssetByUploadID(pullCtx, uploadID)
	if err != nil {
		h.logger.Warn("provider status pull failed, serving local state",
			zap.Error(err), zap.String("upload_id", uploadID))
		return nil
	}
	if err := h.reconciler.ApplySnapshot(pullCtx, uploadID, up, asset); err != nil {
		h.logger.Warn("snapshot reconcile failed", zap.Error(err), zap.String("upload_id", uploadID))
		return nil
	}
	v, err := h.store.GetByUploadID(ctx, uploadID)
	if err != nil {
		return nil
	}
	return v
}

// GetVideo handles GET /videos/:id (asset details for page renders).
func (h *Handler) GetVideo(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid video id")
		return
	}
	v, err := h.store.GetByID(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "video not found")
		return
	}
	if err != nil {
		response.Internal(c, "lookup failed")
		return
	}
	response.OK(c, v)
}

// List handles GET /videos: the authenticated owner's videos.
func (h *Handler) List(c *gin.Context) {
	ownerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.store.ListByOwner(c.Request.Context(), ownerID)
	if err != nil {
		response.Internal(c, "list failed")
		return
	}
	if list == nil {
		list = []models.Video{}
	}
	response.OK(c, list)
}

// UpdateRequest is the body for PATCH /videos/:id.
type UpdateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	IsPublished *bool  `json:"is_published"`
}

// Update handles PATCH /videos/:id (title, description, visibility).
func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid video id")
		return
	}
	ownerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	v, err := h.store.UpdateMeta(c.Request.Context(), id, ownerID, req.Title, req.Description, req.IsPublished)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "video not found")
		return
	}
	if err != nil {
		response.Internal(c, "update failed")
		return
	}
	response.OK(c, v)
}

// Delete handles DELETE /videos/:id: deletes the provider asset (when one
// exists) and tombstones the local record. The provider's asset.deleted
// webhook then replays as a no-op.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid video id")
		return
	}
	ownerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	v, err := h.store.GetByID(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "video not found")
		return
	}
	if err != nil {
		response.Internal(c, "lookup failed")
		return
	}
	if v.OwnerID != ownerID {
		response.Forbidden(c, "not your video")
		return
	}

	if v.AssetID != "" {
		if err := h.client.DeleteAsset(c.Request.Context(), v.AssetID); err != nil {
			h.logger.Error("provider asset delete failed", zap.Error(err), zap.String("asset_id", v.AssetID))
			response.ServiceUnavailable(c, "provider delete failed, retry")
			return
		}
	}

	if _, err := h.store.MarkDeleted(c.Request.Context(), v.UploadID, v.AssetID); err != nil {
		response.Internal(c, "delete failed")
		return
	}
	h.logger.Info("video deleted", zap.String("video_id", id.String()))
	response.NoContent(c)
}
