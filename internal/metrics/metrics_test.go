package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveAction(t *testing.T) {
	m := New()
	m.ObserveAction("create_post", "ok", 20*time.Millisecond)
	m.ObserveAction("create_post", "ok", 10*time.Millisecond)
	m.ObserveAction("create_post", "error_access_denied", time.Millisecond)

	if got := testutil.ToFloat64(m.actions.WithLabelValues("create_post", "ok")); got != 2 {
		t.Fatalf("ok count = %v", got)
	}
	if got := testutil.ToFloat64(m.actions.WithLabelValues("create_post", "error_access_denied")); got != 1 {
		t.Fatalf("denied count = %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveAction("get_posts", "ok", time.Second)
	m.ObserveDelivery(DeliverySent)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveDelivery(DeliveryPruned)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `bbs_push_deliveries_total{outcome="pruned"} 1`) {
		t.Fatalf("metrics output missing delivery counter:\n%s", body)
	}
}
