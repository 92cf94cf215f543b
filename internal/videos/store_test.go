package videos

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streamhive/backend/internal/models"
)

// memStore is an in-memory VideoStore with the same conditional-update
// semantics as the SQL repository.
type memStore struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*models.Video
	failed error // when set, every call returns this error
}

func newMemStore() *memStore {
	return &memStore{byID: make(map[uuid.UUID]*models.Video)}
}

func (s *memStore) findByUploadID(uploadID string) *models.Video {
	if uploadID == "" {
		return nil
	}
	for _, v := range s.byID {
		if v.UploadID == uploadID {
			return v
		}
	}
	return nil
}

func (s *memStore) findByAssetID(assetID string) *models.Video {
	if assetID == "" {
		return nil
	}
	for _, v := range s.byID {
		if v.AssetID == assetID {
			return v
		}
	}
	return nil
}

func (s *memStore) findByKeys(uploadID, assetID string) *models.Video {
	if v := s.findByUploadID(uploadID); v != nil {
		return v
	}
	return s.findByAssetID(assetID)
}

func (s *memStore) Create(_ context.Context, v *models.Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return s.failed
	}
	if s.findByUploadID(v.UploadID) != nil {
		return fmt.Errorf("duplicate upload_id %s", v.UploadID)
	}
	v.ID = uuid.New()
	v.Status = models.VideoStatusUploading
	v.CreatedAt = time.Now()
	v.UpdatedAt = v.CreatedAt
	clone := *v
	s.byID[v.ID] = &clone
	return nil
}

func (s *memStore) CreateFromUpload(_ context.Context, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return s.failed
	}
	if s.findByUploadID(uploadID) != nil {
		return nil
	}
	id := uuid.New()
	s.byID[id] = &models.Video{
		ID:        id,
		Title:     "Untitled",
		UploadID:  uploadID,
		Status:    models.VideoStatusUploading,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return nil, s.failed
	}
	v, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *v
	return &clone, nil
}

func (s *memStore) GetByUploadID(_ context.Context, uploadID string) (*models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return nil, s.failed
	}
	v := s.findByUploadID(uploadID)
	if v == nil {
		return nil, ErrNotFound
	}
	clone := *v
	return &clone, nil
}

func (s *memStore) GetByAssetID(_ context.Context, assetID string) (*models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return nil, s.failed
	}
	v := s.findByAssetID(assetID)
	if v == nil {
		return nil, ErrNotFound
	}
	clone := *v
	return &clone, nil
}

func (s *memStore) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return nil, s.failed
	}
	var list []models.Video
	for _, v := range s.byID {
		if v.OwnerID == ownerID {
			list = append(list, *v)
		}
	}
	return list, nil
}

func (s *memStore) SetAsset(_ context.Context, uploadID, assetID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return 0, s.failed
	}
	v := s.findByUploadID(uploadID)
	if v == nil || v.Status == models.VideoStatusDeleted {
		return 0, nil
	}
	if v.AssetID != "" && v.AssetID != assetID {
		return 0, nil
	}
	v.AssetID = assetID
	if v.Status == models.VideoStatusUploading {
		v.Status = models.VideoStatusProcessing
	}
	v.UpdatedAt = time.Now()
	return 1, nil
}

func (s *memStore) MarkReady(_ context.Context, uploadID, assetID, playbackID, thumbnailURL string, duration int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return 0, s.failed
	}
	v := s.findByKeys(uploadID, assetID)
	if v == nil || v.Status == models.VideoStatusDeleted {
		return 0, nil
	}
	if v.AssetID == "" && assetID != "" {
		v.AssetID = assetID
	}
	v.Status = models.VideoStatusReady
	v.PlaybackID = playbackID
	v.ThumbnailURL = thumbnailURL
	v.Duration = duration
	v.IsPublished = true
	v.UpdatedAt = time.Now()
	return 1, nil
}

func (s *memStore) MarkErrored(_ context.Context, uploadID, assetID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return 0, s.failed
	}
	v := s.findByKeys(uploadID, assetID)
	if v == nil || v.Status == models.VideoStatusReady || v.Status == models.VideoStatusDeleted {
		return 0, nil
	}
	v.Status = models.VideoStatusErrored
	v.IsPublished = false
	v.UpdatedAt = time.Now()
	return 1, nil
}

func (s *memStore) MarkDeleted(_ context.Context, uploadID, assetID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return 0, s.failed
	}
	v := s.findByKeys(uploadID, assetID)
	if v == nil || v.Status == models.VideoStatusDeleted {
		return 0, nil
	}
	v.Status = models.VideoStatusDeleted
	v.IsPublished = false
	v.PlaybackID = ""
	v.UpdatedAt = time.Now()
	return 1, nil
}

func (s *memStore) UpdateThumbnailByAsset(_ context.Context, assetID, thumbnailURL string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return 0, s.failed
	}
	v := s.findByAssetID(assetID)
	if v == nil || v.Status == models.VideoStatusDeleted {
		return 0, nil
	}
	v.ThumbnailURL = thumbnailURL
	v.UpdatedAt = time.Now()
	return 1, nil
}

func (s *memStore) UpdateMeta(_ context.Context, id, ownerID uuid.UUID, title, description string, isPublished *bool) (*models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return nil, s.failed
	}
	v, ok := s.byID[id]
	if !ok || v.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	if title != "" {
		v.Title = title
	}
	if description != "" {
		v.Description = description
	}
	if isPublished != nil {
		v.IsPublished = *isPublished && v.Status == models.VideoStatusReady
	}
	v.UpdatedAt = time.Now()
	clone := *v
	return &clone, nil
}

// snapshot returns a copy of the record for an upload id, or nil.
func (s *memStore) snapshot(uploadID string) *models.Video {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.findByUploadID(uploadID)
	if v == nil {
		return nil
	}
	clone := *v
	return &clone
}
