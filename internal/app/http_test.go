package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestApp(t *testing.T) *httptest.Server {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(Config{SessionTTL: time.Hour}, log)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a.reg, a.auth, a.ws, a.deviceGW)

	srv := httptest.NewServer(WithRequestLogging(mux, log))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	return resp.StatusCode, string(body)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestApp(t)
	status, body := get(t, srv.URL+"/healthz")
	if status != http.StatusOK || body != "ok\n" {
		t.Fatalf("healthz: %d %q", status, body)
	}
}

func TestMetricsExposesRelayCounters(t *testing.T) {
	t.Parallel()

	srv := newTestApp(t)
	status, body := get(t, srv.URL+"/metrics")
	if status != http.StatusOK {
		t.Fatalf("metrics: %d", status)
	}
	for _, metric := range []string{"plotrelay_connections_active", "go_goroutines"} {
		if !strings.Contains(body, metric) {
			t.Fatalf("missing metric %s", metric)
		}
	}
}

func TestWebPages(t *testing.T) {
	t.Parallel()

	srv := newTestApp(t)

	status, body := get(t, srv.URL+"/")
	if status != http.StatusOK || !strings.Contains(body, "plotrelay") {
		t.Fatalf("index: %d", status)
	}

	status, _ = get(t, srv.URL+"/login")
	if status != http.StatusOK {
		t.Fatalf("login page: %d", status)
	}

	status, _ = get(t, srv.URL+"/nope")
	if status != http.StatusNotFound {
		t.Fatalf("unknown path: %d", status)
	}
}

func TestMeServesAnonymousState(t *testing.T) {
	t.Parallel()

	srv := newTestApp(t)
	status, body := get(t, srv.URL+"/me")
	if status != http.StatusOK || !strings.Contains(body, `"authenticated":false`) {
		t.Fatalf("/me: %d %q", status, body)
	}
}
