package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.DeviceOpened("capture", true)
	m.Recognized(OutcomeText, 0.2)
	m.StateChanged("listening", []string{"listening"})
	m.RegisterLevel(func() float64 { return 0 })
	m.WorkerStarted()
	m.WorkerFinished()
}

func TestStateChangedIsOneHot(t *testing.T) {
	m := New()
	all := []string{"opening", "listening", "recovering"}
	m.StateChanged("opening", all)
	m.StateChanged("listening", all)

	if got := testutil.ToFloat64(m.CaptureState.WithLabelValues("listening")); got != 1 {
		t.Fatalf("expected listening=1, got %f", got)
	}
	if got := testutil.ToFloat64(m.CaptureState.WithLabelValues("opening")); got != 0 {
		t.Fatalf("expected opening=0, got %f", got)
	}
	m.StateChanged("opening", all)
	if got := testutil.ToFloat64(m.StateTransitions.WithLabelValues("opening")); got != 2 {
		t.Fatalf("expected 2 entries into opening, got %f", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RegisterLevel(func() float64 { return 0.25 })
	m.Recognized(OutcomeBackendUnavailable, 1.5)
	m.Recovery("transient")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`voicewatch_input_level 0.25`,
		`voicewatch_recognitions_total{outcome="backend_unavailable"} 1`,
		`voicewatch_recoveries_total{kind="transient"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in output:\n%s", want, body)
		}
	}
}
