package mqtt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"stationwatch/internal/apperr"
	"stationwatch/internal/config"
	"stationwatch/internal/metrics"
)

func newTestSubscriber(t *testing.T, h Handler) *Subscriber {
	t.Helper()
	cfg := config.Config{MQTTBroker: "localhost", MQTTPort: 1883, MQTTClientID: "test", MQTTTopic: "stations/+/telemetry"}
	s := NewSubscriber(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics.NewMetricsForTesting())
	s.SetMessageHandler(h)
	return s
}

func outcome(s *Subscriber, name string) float64 {
	return testutil.ToFloat64(s.metrics.MQTTMessages.WithLabelValues(name))
}

func TestHandleMessage(t *testing.T) {
	var got []Telemetry
	var handlerErr error
	s := newTestSubscriber(t, func(_ context.Context, tel Telemetry) error {
		got = append(got, tel)
		return handlerErr
	})
	ctx := context.Background()

	s.handleMessage(ctx, "stations/s1/telemetry",
		[]byte(`{"station_id":"s1","timestamp":"2026-01-01T00:00:00Z","temperature_c":-4.5,"light_lux":300}`))
	if len(got) != 1 || got[0].StationID != "s1" || *got[0].Temperature != -4.5 || *got[0].LightLevel != 300 {
		t.Fatalf("handler got %+v", got)
	}
	if outcome(s, "stored") != 1 {
		t.Errorf("stored = %v; want 1", outcome(s, "stored"))
	}

	s.handleMessage(ctx, "stations/from-topic/telemetry", []byte(`{"humidity_pct":40}`))
	if len(got) != 2 || got[1].StationID != "from-topic" {
		t.Errorf("station id not taken from topic: %+v", got)
	}

	s.handleMessage(ctx, "stations/s1/telemetry", []byte(`not json`))
	s.handleMessage(ctx, "stations/s1/telemetry", []byte(`{"station_id":"s1"}`))
	if len(got) != 2 {
		t.Errorf("invalid messages reached the handler")
	}

	handlerErr = apperr.NotFound("unknown station")
	s.handleMessage(ctx, "stations/s9/telemetry", []byte(`{"station_id":"s9","pressure_hpa":1000}`))
	if outcome(s, "rejected") != 3 {
		t.Errorf("rejected = %v; want 3", outcome(s, "rejected"))
	}

	handlerErr = apperr.Persistence("insert measurement", errors.New("locked"))
	s.handleMessage(ctx, "stations/s1/telemetry", []byte(`{"station_id":"s1","pressure_hpa":1000}`))
	if outcome(s, "failed") != 1 {
		t.Errorf("failed = %v; want 1", outcome(s, "failed"))
	}
}

func TestStationFromTopic(t *testing.T) {
	tests := map[string]string{
		"stations/abc/telemetry":      "abc",
		"site/stations/xyz/telemetry": "xyz",
		"stations":                    "",
		"other/abc":                   "",
	}
	for topic, want := range tests {
		if got := stationFromTopic(topic); got != want {
			t.Errorf("stationFromTopic(%q) = %q; want %q", topic, got, want)
		}
	}
}

func TestValidateTelemetry(t *testing.T) {
	v := 1.0
	if err := validateTelemetry(Telemetry{StationID: "s", Rainfall: &v}); err != nil {
		t.Errorf("rainfall only: err = %v; want nil", err)
	}
	if err := validateTelemetry(Telemetry{StationID: " ", Rainfall: &v}); err == nil {
		t.Error("blank station id accepted")
	}
	if err := validateTelemetry(Telemetry{StationID: "s"}); err == nil {
		t.Error("empty reading accepted")
	}
}
