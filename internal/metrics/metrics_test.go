package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounters(t *testing.T) {
	rec := NewRecorder()

	before := testutil.ToFloat64(PollCyclesTotal.WithLabelValues("test-agent", "idle"))
	rec.RecordCycle("test-agent", "idle")
	after := testutil.ToFloat64(PollCyclesTotal.WithLabelValues("test-agent", "idle"))
	if after != before+1 {
		t.Errorf("poll cycle counter = %v, want %v", after, before+1)
	}

	before = testutil.ToFloat64(SignalsTotal.WithLabelValues("test-agent", "ENTER"))
	rec.RecordSignal("test-agent", "ENTER")
	if got := testutil.ToFloat64(SignalsTotal.WithLabelValues("test-agent", "ENTER")); got != before+1 {
		t.Errorf("signal counter = %v, want %v", got, before+1)
	}

	before = testutil.ToFloat64(MarginRejections)
	rec.RecordMarginRejection()
	if got := testutil.ToFloat64(MarginRejections); got != before+1 {
		t.Errorf("margin rejection counter = %v, want %v", got, before+1)
	}
}

func TestRecorderGatewayStatus(t *testing.T) {
	rec := NewRecorder()

	rec.RecordGatewayStatus(true)
	if got := testutil.ToFloat64(GatewayConnected); got != 1 {
		t.Errorf("gateway gauge = %v, want 1", got)
	}
	rec.RecordGatewayStatus(false)
	if got := testutil.ToFloat64(GatewayConnected); got != 0 {
		t.Errorf("gateway gauge = %v, want 0", got)
	}
}

func TestTimerElapsed(t *testing.T) {
	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	if timer.Elapsed() < 10*time.Millisecond {
		t.Errorf("Elapsed() = %v, want at least 10ms", timer.Elapsed())
	}
}

func TestServerHealthEndpoints(t *testing.T) {
	server := NewServer(ServerConfig{Port: 19203, MetricsPath: "/metrics", HealthPath: "/health"}, nil)
	server.RegisterHealthCheck("always-ok", func() Check {
		return Check{Status: "healthy"}
	})

	if err := server.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}()

	// The listener comes up asynchronously.
	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://localhost:19203/health")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("health endpoint unreachable: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	var status HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if status.Status != "healthy" {
		t.Errorf("status = %s, want healthy", status.Status)
	}
	if check, ok := status.Checks["always-ok"]; !ok || check.Status != "healthy" {
		t.Errorf("checks = %v, want always-ok healthy", status.Checks)
	}

	metricsResp, err := http.Get(fmt.Sprintf("http://localhost:%d/metrics", 19203))
	if err != nil {
		t.Fatalf("metrics endpoint unreachable: %v", err)
	}
	defer func() { _ = metricsResp.Body.Close() }()
	if metricsResp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", metricsResp.StatusCode)
	}
}
