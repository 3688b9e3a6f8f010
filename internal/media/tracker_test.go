package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPTracker_Refresh(t *testing.T) {
	var gotMethod, gotProvider string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotProvider = r.URL.Query().Get("provider")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tracker := NewHTTPTracker(srv.URL + "/")
	if err := tracker.Refresh(context.Background(), "cloudinary"); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("Expected POST, got %s", gotMethod)
	}
	if gotProvider != "cloudinary" {
		t.Errorf("Expected provider cloudinary, got %s", gotProvider)
	}
}

func TestHTTPTracker_RefreshErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tracker := NewHTTPTracker(srv.URL)
	if err := tracker.Refresh(context.Background(), "cloudinary"); err == nil {
		t.Error("Expected error on 502 response")
	}
}

func TestHTTPTracker_NoURL(t *testing.T) {
	tracker := NewHTTPTracker("")
	if err := tracker.Refresh(context.Background(), "cloudinary"); err == nil {
		t.Error("Expected error when refresh URL is not configured")
	}
}
