package videos

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/streamhive/backend/internal/models"
	"github.com/streamhive/backend/internal/provider"
)

const webhookSecret = "test-webhook-secret"

func signWebhook(secret string, body []byte, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func newWebhookRouter(store Store) (*gin.Engine, *WebhookHandler) {
	gin.SetMode(gin.TestMode)
	verifier := provider.NewWebhookVerifier(webhookSecret, 5*time.Minute, false, zap.NewNop())
	reconciler := NewReconciler(store, staticThumbs{}, nil, zap.NewNop())
	h := NewWebhookHandler(verifier, reconciler, zap.NewNop())

	router := gin.New()
	router.POST("/webhooks/video", h.HandleEvent)
	return router, h
}

func postWebhook(router *gin.Engine, body []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/video", bytes.NewReader(body))
	if header != "" {
		req.Header.Set(provider.SignatureHeader, header)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWebhookValidDelivery(t *testing.T) {
	store := newMemStore()
	router, _ := newWebhookRouter(store)

	body, _ := json.Marshal(map[string]interface{}{
		"type": EventUploadCreated,
		"data": map[string]string{"id": "up_1"},
	})
	w := postWebhook(router, body, signWebhook(webhookSecret, body, time.Now().Unix()))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	if v := store.snapshot("up_1"); v == nil || v.Status != models.VideoStatusUploading {
		t.Fatalf("record not created: %+v", v)
	}
}

func TestWebhookInvalidSignatureLeavesStateUntouched(t *testing.T) {
	store := newMemStore()
	if err := store.CreateFromUpload(context.Background(), "up_1"); err != nil {
		t.Fatal(err)
	}
	router, _ := newWebhookRouter(store)

	body, _ := json.Marshal(map[string]interface{}{
		"type": EventAssetReady,
		"data": map[string]interface{}{
			"id": "as_1", "upload_id": "up_1",
			"playback_ids": []map[string]string{{"id": "pb_1"}},
			"duration":     10,
		},
	})
	w := postWebhook(router, body, signWebhook("attacker-secret", body, time.Now().Unix()))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if v := store.snapshot("up_1"); v.Status != models.VideoStatusUploading {
		t.Fatalf("record mutated by unauthenticated webhook: %+v", v)
	}
}

func TestWebhookMissingSignatureHeader(t *testing.T) {
	store := newMemStore()
	router, _ := newWebhookRouter(store)

	body := []byte(`{"type":"video.upload.created","data":{"id":"up_1"}}`)
	w := postWebhook(router, body, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if store.snapshot("up_1") != nil {
		t.Fatal("record created without signature")
	}
}

func TestWebhookUnresolvableEventStillAcknowledged(t *testing.T) {
	store := newMemStore()
	router, _ := newWebhookRouter(store)

	body, _ := json.Marshal(map[string]interface{}{
		"type": EventAssetErrored,
		"data": map[string]interface{}{"id": "as_ghost", "upload_id": "up_ghost"},
	})
	w := postWebhook(router, body, signWebhook(webhookSecret, body, time.Now().Unix()))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for unresolvable event", w.Code)
	}
	var resp struct {
		Received   bool `json:"received"`
		Reconciled bool `json:"reconciled"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Received || resp.Reconciled {
		t.Fatalf("unexpected ack: %+v", resp)
	}
	if store.snapshot("up_ghost") != nil {
		t.Fatal("errored event created a record")
	}
}

func TestWebhookMalformedBody(t *testing.T) {
	store := newMemStore()
	router, _ := newWebhookRouter(store)

	body := []byte(`not-json`)
	w := postWebhook(router, body, signWebhook(webhookSecret, body, time.Now().Unix()))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestWebhookStorageFailureIs500(t *testing.T) {
	store := newMemStore()
	store.failed = fmt.Errorf("connection refused")
	router, _ := newWebhookRouter(store)

	body, _ := json.Marshal(map[string]interface{}{
		"type": EventUploadCreated,
		"data": map[string]string{"id": "up_1"},
	})
	w := postWebhook(router, body, signWebhook(webhookSecret, body, time.Now().Unix()))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}
