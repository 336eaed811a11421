package fastpagi

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/marcelog/FastPAGI/fastpagi/internal/exec"
)

// metricValue returns the value of the named counter or gauge. If reason is not
// empty, only the series with that reason label is considered.
func metricValue(t *testing.T, m *Metrics, name, reason string) float64 {
	t.Helper()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatal("failed to gather:", err)
	}

	for _, family := range families {
		if family.GetName() != name {
			continue
		}

	series:
		for _, metric := range family.GetMetric() {
			if reason != "" {
				for _, label := range metric.GetLabel() {
					if label.GetName() == "reason" && label.GetValue() != reason {
						continue series
					}
				}
			}

			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}

	return 0
}

func assertMetric(t *testing.T, m *Metrics, name, reason string, expect float64) {
	t.Helper()

	if v := metricValue(t, m, name, reason); v != expect {
		t.Errorf("%s{%s} = %v, expected %v", name, reason, v, expect)
	}
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatal("failed to GET:", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal("failed to read body:", err)
	}

	return resp.StatusCode, string(b)
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	m.connectionAccepted()
	m.connectionAccepted()
	m.dispatchFailed()
	m.workerSpawned()
	m.workerGone("killed")

	assertMetric(t, m, "fastpagi_connections_accepted_total", "", 2)
	assertMetric(t, m, "fastpagi_dispatch_errors_total", "", 1)
	assertMetric(t, m, "fastpagi_workers_active", "", 0)
	assertMetric(t, m, "fastpagi_workers_exited_total", "killed", 1)

	// A nil *Metrics records nothing.
	var nilMetrics *Metrics
	nilMetrics.connectionAccepted()
	nilMetrics.dispatchFailed()
	nilMetrics.workerSpawned()
	nilMetrics.workerGone("exited")
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.connectionAccepted()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	code, body := get(t, srv.URL+"/metrics")
	if code != http.StatusOK {
		t.Errorf("/metrics returned %d", code)
	}
	if !strings.Contains(body, "fastpagi_connections_accepted_total 1") {
		t.Errorf("/metrics misses the accepted counter:\n%s", body)
	}

	code, body = get(t, srv.URL+"/healthz")
	if code != http.StatusOK {
		t.Errorf("/healthz returned %d", code)
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(body), &health); err != nil || health.Status != "ok" {
		t.Errorf("unexpected /healthz body %q: %v", body, err)
	}

	resp, err := http.Post(srv.URL+"/healthz", "text/plain", strings.NewReader(""))
	if err != nil {
		t.Fatal("failed to POST:", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST /healthz returned %d", resp.StatusCode)
	}
}

func TestMetricsServer(t *testing.T) {
	m := NewMetrics()

	srv, err := StartMetricsServer("127.0.0.1:0", m, NopJournaler)
	if err != nil {
		t.Fatal("failed to start:", err)
	}

	if code, _ := get(t, "http://"+srv.Addr().String()+"/healthz"); code != http.StatusOK {
		t.Errorf("/healthz returned %d", code)
	}

	if err := srv.Stop(); err != nil {
		t.Error("failed to stop:", err)
	}

	if _, err := StartMetricsServer("not an address", m, NopJournaler); err == nil {
		t.Error("expected bind error")
	}
}

func TestSupervisorMetrics(t *testing.T) {
	m := NewMetrics()
	l := &sleepLauncher{procs: &exec.SleepProcesses{}, dura: forever}

	s, err := start(testConfig(t), Options{Launcher: l, Metrics: m}, l.procs)
	if err != nil {
		t.Fatal("failed to start:", err)
	}
	t.Cleanup(func() { s.router.Stop() })

	for i := 0; i < 2; i++ {
		client, server := net.Pipe()
		defer client.Close()
		s.dispatch(server)
	}

	assertMetric(t, m, "fastpagi_workers_active", "", 2)

	s.Shutdown("test")

	assertMetric(t, m, "fastpagi_workers_active", "", 0)
	assertMetric(t, m, "fastpagi_workers_exited_total", "killed", 2)
}
