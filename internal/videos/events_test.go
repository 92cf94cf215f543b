package videos

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeEventRejectsMissingCorrelation(t *testing.T) {
	cases := []struct {
		name      string
		eventType string
		data      string
	}{
		{"upload.created without id", EventUploadCreated, `{}`},
		{"asset.created without upload id", EventAssetCreated, `{"id":"as_1"}`},
		{"asset.created without asset id", EventAssetCreated, `{"upload_id":"up_1"}`},
		{"asset.ready without any key", EventAssetReady, `{"playback_ids":[{"id":"pb_1"}]}`},
		{"asset.errored without any key", EventAssetErrored, `{}`},
		{"asset.deleted without any key", EventAssetDeleted, `{}`},
		{"track.ready without asset id", EventTrackReady, `{"id":"trk_1"}`},
		{"asset.created malformed json", EventAssetCreated, `{"id":`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeEvent(tc.eventType, json.RawMessage(tc.data))
			if !errors.Is(err, ErrBadEventPayload) {
				t.Fatalf("expected ErrBadEventPayload, got %v", err)
			}
		})
	}
}

func TestDecodeEventValidPayloads(t *testing.T) {
	payload, err := decodeEvent(EventAssetReady, json.RawMessage(
		`{"id":"as_1","upload_id":"up_1","playback_ids":[{"id":"pb_1","policy":"public"}],"duration":125.4}`))
	if err != nil {
		t.Fatal(err)
	}
	ev, ok := payload.(*AssetReadyEvent)
	if !ok {
		t.Fatalf("wrong payload type %T", payload)
	}
	if ev.PlaybackIDs[0].ID != "pb_1" || ev.Duration != 125.4 {
		t.Fatalf("unexpected payload: %+v", ev)
	}
}

func TestBadPayloadIsPerEventError(t *testing.T) {
	store := newMemStore()
	r := newTestReconciler(store)

	env := Envelope{Type: EventAssetCreated, Data: json.RawMessage(`{"id":"as_1"}`)}
	err := r.Apply(context.Background(), env)
	if !IsEventError(err) {
		t.Fatalf("bad payload should be a reportable per-event error, got %v", err)
	}
}
