package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/devblac/bridge-monitor/internal/storage"
)

func seededStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(storage.DriverSQLite, filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	reports := []storage.Report{
		{Kind: storage.ReportEvents, Mode: "native-to-erc", CheckedAt: 1, PayloadJSON: `{"mode":"native-to-erc","lastChecked":1}`},
		{Kind: storage.ReportEvents, Mode: "native-to-erc", CheckedAt: 2, Discrepancies: 1, PayloadJSON: `{"mode":"native-to-erc","lastChecked":2}`},
		{Kind: storage.ReportBalances, Mode: "native-to-erc", CheckedAt: 2, PayloadJSON: `{"balanceDiff":0}`},
	}
	for _, r := range reports {
		if _, err := store.InsertReport(ctx, r); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	return store
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestLatestReports(t *testing.T) {
	h := Handler(seededStore(t), nil)

	w := get(t, h, "/eventsStats")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var ev map[string]any
	if err := json.NewDecoder(w.Body).Decode(&ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev["lastChecked"] != float64(2) {
		t.Fatalf("expected latest report, got %v", ev)
	}

	w = get(t, h, "/balances")
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("balances status=%d ct=%q", w.Code, w.Header().Get("Content-Type"))
	}
}

func TestLatestReportMissing(t *testing.T) {
	store, err := storage.Open(storage.DriverSQLite, filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	w := get(t, Handler(store, nil), "/balances")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestListReports(t *testing.T) {
	h := Handler(seededStore(t), nil)

	tests := []struct {
		path     string
		wantCode int
		wantLen  int
	}{
		{"/reports/events", http.StatusOK, 2},
		{"/reports/events?limit=1", http.StatusOK, 1},
		{"/reports/all", http.StatusOK, 3},
		{"/reports/balances", http.StatusOK, 1},
		{"/reports/unknown", http.StatusBadRequest, 0},
		{"/reports/events?limit=-2", http.StatusBadRequest, 0},
		{"/reports/events?limit=abc", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := get(t, h, tt.path)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var views []ReportView
			if err := json.NewDecoder(w.Body).Decode(&views); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(views) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(views), tt.wantLen)
			}
			if len(views[0].Report) == 0 {
				t.Fatalf("expected embedded report payload")
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{storage.ReportEvents, storage.ReportEvents, false},
		{storage.ReportBalances, storage.ReportBalances, false},
		{"all", "", false},
		{"alerts", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("ParseKind(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestCORSAllowedOrigin(t *testing.T) {
	h := Handler(seededStore(t), []string{"https://dash.example"})
	req := httptest.NewRequest(http.MethodGet, "/eventsStats", nil)
	req.Header.Set("Origin", "https://dash.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example" {
		t.Fatalf("allow origin = %q", got)
	}
}

type failingStore struct{}

func (failingStore) LatestReport(ctx context.Context, kind string) (storage.Report, bool, error) {
	return storage.Report{}, false, errors.New("db locked")
}

func (failingStore) ListReports(ctx context.Context, kind string, limit int) ([]storage.Report, error) {
	return nil, errors.New("db locked")
}

func TestStoreErrors(t *testing.T) {
	h := NewRouter(failingStore{})
	for _, path := range []string{"/eventsStats", "/reports/all"} {
		w := get(t, h, path)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("%s: status = %d", path, w.Code)
		}
		var body map[string]string
		_ = json.NewDecoder(w.Body).Decode(&body)
		if body["error"] != "db locked" {
			t.Fatalf("%s: body = %v", path, body)
		}
	}
}
