package exporters

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/vidgrab/internal/metrics"
)

func TestHTTPHandler(t *testing.T) {
	handler := HTTPHandler()
	if handler == nil {
		t.Fatal("expected non-nil handler")
	}

	metrics.FrameCaptured("/dev/video-http", time.Millisecond)
	defer metrics.DeleteCaptureMetrics("/dev/video-http")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	if !strings.Contains(body, "vidgrab_capture_frames_total") {
		t.Error("expected capture counter in response")
	}
	if !strings.Contains(body, "vidgrab_capture_conversion_seconds_bucket") {
		t.Error("expected conversion histogram in response")
	}
}
