package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.StateAccepted("zigbee2mqtt")
	m.StateAccepted("zigbee2mqtt")
	m.StateSuppressed(ReasonNoise)
	m.ConductsPublished("fan", 3)
	m.ProcessFired("p1")
	m.ProcessFailed("p2")
	m.MQTTConnected()

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"state accepted", testutil.ToFloat64(m.stateAccepted.WithLabelValues("zigbee2mqtt")), 2},
		{"state suppressed", testutil.ToFloat64(m.stateSuppressed.WithLabelValues(ReasonNoise)), 1},
		{"conducts published", testutil.ToFloat64(m.conductsPublished.WithLabelValues("fan")), 3},
		{"processes fired", testutil.ToFloat64(m.processesFired.WithLabelValues("p1")), 1},
		{"process failures", testutil.ToFloat64(m.processFailures.WithLabelValues("p2")), 1},
		{"mqtt connects", testutil.ToFloat64(m.mqttConnects), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestMetrics_HandlerExposesQueues(t *testing.T) {
	m := New()
	if err := m.RegisterQueue("delayed_conducts", func() int { return 4 }); err != nil {
		t.Fatalf("RegisterQueue() error = %v", err)
	}
	if err := m.RegisterQueue("delayed_conducts", func() int { return 1 }); err == nil {
		t.Error("RegisterQueue() duplicate should fail")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if !strings.Contains(string(body), `beacon_dispatch_pending_items{queue="delayed_conducts"} 4`) {
		t.Errorf("queue gauge missing from exposition:\n%s", body)
	}
}
