package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mzyy94/glasscap/internal/transport"
)

func TestHandlerExposesRecordedMetrics(t *testing.T) {
	RecordChunk()
	RecordImage(12345)
	RecordDiscard("out_of_order_frame")
	RecordQueueDrop()
	RecordPostprocess(20*time.Millisecond, true)
	RecordHTTPRequest("GET", 200, 5*time.Millisecond)
	stats := func() transport.Stats { return transport.Stats{Received: 7, Dropped: 2} }
	if err := RegisterTransport("udp", stats); err != nil {
		t.Fatalf("RegisterTransport failed: %v", err)
	}
	if err := RegisterTransport("udp", stats); err != nil {
		t.Errorf("second RegisterTransport failed: %v", err)
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		"glasscap_reassembly_chunks_total",
		"glasscap_reassembly_images_total",
		"glasscap_reassembly_image_bytes_bucket",
		`glasscap_reassembly_discards_total{reason="out_of_order_frame"}`,
		"glasscap_postproc_queue_drops_total",
		`glasscap_postproc_duration_seconds_count{success="true"}`,
		`glasscap_http_requests_total{method="GET",status="200"}`,
		`glasscap_transport_notifications_total{transport="udp"} 7`,
		`glasscap_transport_dropped_total{transport="udp"} 2`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRegisterMetricsIdempotent(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics() // must not panic on duplicate registration
}
