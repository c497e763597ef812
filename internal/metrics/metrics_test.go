package metrics

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.SymbolsTotal.WithLabelValues("ok").Add(3)
	m.SetupsCompleted.WithLabelValues("bearish").Inc()
	m.BarsProcessed.Add(250)

	if got := testutil.ToFloat64(m.SymbolsTotal.WithLabelValues("ok")); got != 3 {
		t.Errorf("symbols ok = %v", got)
	}
	if got := testutil.ToFloat64(m.BarsProcessed); got != 250 {
		t.Errorf("bars = %v", got)
	}

	// a second set on a fresh registry must not panic
	NewMetrics(prometheus.NewRegistry())
}

func healthBody(t *testing.T, h *HealthStatus) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, body
}

func TestHealth_Status(t *testing.T) {
	tests := []struct {
		name       string
		redis      bool
		redisUp    bool
		sqliteOK   bool
		wantCode   int
		wantStatus string
	}{
		{"sqlite only healthy", false, false, true, 200, "healthy"},
		{"all up", true, true, true, 200, "healthy"},
		{"redis down", true, false, true, 503, "degraded"},
		{"sqlite down, redis up", true, true, false, 503, "degraded"},
		{"sqlite down, no redis", false, false, false, 503, "unhealthy"},
		{"everything down", true, false, false, 503, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthStatus(tt.redis)
			h.SetRedisConnected(tt.redisUp)
			h.SetSQLiteOK(tt.sqliteOK)
			code, body := healthBody(t, h)
			if code != tt.wantCode || body["status"] != tt.wantStatus {
				t.Errorf("got %d %v, want %d %s", code, body["status"], tt.wantCode, tt.wantStatus)
			}
		})
	}
}

func TestHealth_RecordRun(t *testing.T) {
	h := NewHealthStatus(false)
	h.SetSQLiteOK(true)
	h.RecordRun("cron-abc", 40, 2)
	_, body := healthBody(t, h)
	if body["last_run_id"] != "cron-abc" || body["last_run_failed"].(float64) != 2 {
		t.Errorf("body %v", body)
	}
}

func TestServer_Routes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.BarsProcessed.Inc()

	h := NewHealthStatus(false)
	h.SetSQLiteOK(true)
	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "app:"+r.URL.Path)
	})
	ts := httptest.NewServer(NewServer(":0", h, reg, app).Handler())
	defer ts.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(b)
	}

	if code, body := get("/metrics"); code != 200 || !strings.Contains(body, "indengine_bars_processed_total 1") {
		t.Errorf("/metrics %d:\n%s", code, body)
	}
	if code, _ := get("/healthz"); code != 200 {
		t.Errorf("/healthz %d", code)
	}
	if _, body := get("/signals"); body != "app:/signals" {
		t.Errorf("app route got %q", body)
	}
}
