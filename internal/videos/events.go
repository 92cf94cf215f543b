package videos

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Provider webhook event types handled by the reconciler. Anything else is
// acknowledged and ignored.
const (
	EventUploadCreated = "video.upload.created"
	EventAssetCreated  = "video.asset.created"
	EventAssetReady    = "video.asset.ready"
	EventAssetErrored  = "video.asset.errored"
	EventAssetDeleted  = "video.asset.deleted"
	EventTrackReady    = "video.asset.track.ready"
)

// Per-event reconciliation errors. These are reported, not fatal to the
// delivery: one bad event must not block the rest of a batch.
var (
	ErrUnresolvedEvent = errors.New("event references no known video")
	ErrNoPlaybackID    = errors.New("ready event carries no playback id")
	ErrBadEventPayload = errors.New("event payload failed validation")
)

// Envelope is the provider webhook wire format.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// UploadCreatedEvent signals a direct-upload session was opened. Data carries
// the upload object; ID is the upload session id.
type UploadCreatedEvent struct {
	ID string `json:"id"`
}

// AssetCreatedEvent signals the provider started processing uploaded bytes.
type AssetCreatedEvent struct {
	ID       string `json:"id"`
	UploadID string `json:"upload_id"`
}

// EventPlaybackID is a playback identifier inside an asset event payload.
type EventPlaybackID struct {
	ID     string `json:"id"`
	Policy string `json:"policy"`
}

// AssetReadyEvent signals an asset is streamable. Its payload carries
// everything needed to publish, so it reconciles even when asset.created was
// lost or reordered.
type AssetReadyEvent struct {
	ID          string            `json:"id"`
	UploadID    string            `json:"upload_id"`
	PlaybackIDs []EventPlaybackID `json:"playback_ids"`
	Duration    float64           `json:"duration"`
}

// AssetErroredEvent signals processing failed.
type AssetErroredEvent struct {
	ID       string `json:"id"`
	UploadID string `json:"upload_id"`
	Errors   struct {
		Type     string   `json:"type"`
		Messages []string `json:"messages"`
	} `json:"errors"`
}

// AssetDeletedEvent signals the provider-side asset is gone.
type AssetDeletedEvent struct {
	ID       string `json:"id"`
	UploadID string `json:"upload_id"`
}

// TrackReadyEvent signals a sub-asset track (e.g. a generated image track)
// became ready. Data is the track object; AssetID links it back.
type TrackReadyEvent struct {
	ID      string `json:"id"`
	AssetID string `json:"asset_id"`
	Type    string `json:"type"`
}

// decodeEvent unmarshals and validates a payload for a known event type,
// returning ErrBadEventPayload when required correlation fields are missing.
// The reconciler only ever sees fully validated payloads.
func decodeEvent(eventType string, data json.RawMessage) (interface{}, error) {
	switch eventType {
	case EventUploadCreated:
		var ev UploadCreatedEvent
		if err := unmarshalEvent(data, &ev); err != nil {
			return nil, err
		}
		if ev.ID == "" {
			return nil, fmt.Errorf("%w: %s missing upload id", ErrBadEventPayload, eventType)
		}
		return &ev, nil
	case EventAssetCreated:
		var ev AssetCreatedEvent
		if err := unmarshalEvent(data, &ev); err != nil {
			return nil, err
		}
		if ev.ID == "" || ev.UploadID == "" {
			return nil, fmt.Errorf("%w: %s missing asset or upload id", ErrBadEventPayload, eventType)
		}
		return &ev, nil
	case EventAssetReady:
		var ev AssetReadyEvent
		if err := unmarshalEvent(data, &ev); err != nil {
			return nil, err
		}
		if ev.ID == "" && ev.UploadID == "" {
			return nil, fmt.Errorf("%w: %s missing correlation id", ErrBadEventPayload, eventType)
		}
		return &ev, nil
	case EventAssetErrored:
		var ev AssetErroredEvent
		if err := unmarshalEvent(data, &ev); err != nil {
			return nil, err
		}
		if ev.ID == "" && ev.UploadID == "" {
			return nil, fmt.Errorf("%w: %s missing correlation id", ErrBadEventPayload, eventType)
		}
		return &ev, nil
	case EventAssetDeleted:
		var ev AssetDeletedEvent
		if err := unmarshalEvent(data, &ev); err != nil {
			return nil, err
		}
		if ev.ID == "" && ev.UploadID == "" {
			return nil, fmt.Errorf("%w: %s missing correlation id", ErrBadEventPayload, eventType)
		}
		return &ev, nil
	case EventTrackReady:
		var ev TrackReadyEvent
		if err := unmarshalEvent(data, &ev); err != nil {
			return nil, err
		}
		if ev.AssetID == "" {
			return nil, fmt.Errorf("%w: %s missing asset id", ErrBadEventPayload, eventType)
		}
		return &ev, nil
	}
	return nil, nil
}

func unmarshalEvent(data json.RawMessage, out interface{}) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadEventPayload, err)
	}
	return nil
}
