package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestReconcileOutcomesCounts(t *testing.T) {
	before := testutil.ToFloat64(ReconcileOutcomes.WithLabelValues("duplicate"))
	ReconcileOutcomes.WithLabelValues("duplicate").Inc()

	if got := testutil.ToFloat64(ReconcileOutcomes.WithLabelValues("duplicate")); got != before+1 {
		t.Fatalf("duplicate count = %v, want %v", got, before+1)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	RoomSwitches.Inc()
	LiveEvents.WithLabelValues("receive_message").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{
		"shopchat_room_switches_total",
		"shopchat_live_events_total",
		"shopchat_history_load_seconds",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
