package models

import (
	"time"

	"github.com/google/uuid"
)

// VideoStatus represents the video ingestion lifecycle.
const (
	VideoStatusUploading  = "uploading"
	VideoStatusProcessing = "processing"
	VideoStatusReady      = "ready"
	VideoStatusErrored    = "errored"
	VideoStatusDeleted    = "deleted"
)

// Video is a creator video tracked from upload through transcoding (provider → playback).
// UploadID correlates early-lifecycle provider events; AssetID is assigned once the
// provider starts processing and correlates the rest.
type Video struct {
	ID           uuid.UUID `json:"id"`
	OwnerID      uuid.UUID `json:"owner_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	UploadID     string    `json:"upload_id"`
	AssetID      string    `json:"asset_id,omitempty"`
	Status       string    `json:"status"`
	PlaybackID   string    `json:"playback_id,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Duration     int       `json:"duration"`
	IsPublished  bool      `json:"is_published"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsTerminal reports whether the status admits no further provider-driven progress
// (deleted is absorbing; ready and errored only ever move to deleted).
func IsTerminal(status string) bool {
	switch status {
	case VideoStatusReady, VideoStatusErrored, VideoStatusDeleted:
		return true
	}
	return false
}
