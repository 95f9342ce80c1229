package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetInfo(t *testing.T) {
	h := NewInfoHandler("1.2.3")
	rec := httptest.NewRecorder()
	h.GetInfo(rec, httptest.NewRequest("GET", "/api/info", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		WAS struct {
			Version string `json:"version"`
		} `json:"was"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.WAS.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", body.WAS.Version)
	}
}
