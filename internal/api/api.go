// Package api serves the latest reconciliation reports over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/devblac/bridge-monitor/internal/storage"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

const maxListLimit = 1000

var errNoReport = errors.New("no report available yet")

// ReportStore is the read side of storage.Store.
type ReportStore interface {
	LatestReport(ctx context.Context, kind string) (storage.Report, bool, error)
	ListReports(ctx context.Context, kind string, limit int) ([]storage.Report, error)
}

// ReportView is one stored report as returned by /reports.
type ReportView struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	Mode          string          `json:"mode"`
	CheckedAt     int64           `json:"checkedAt"`
	Discrepancies int             `json:"discrepancies"`
	Report        json.RawMessage `json:"report"`
}

// NewReportView wraps a stored report, embedding its payload verbatim.
func NewReportView(rep storage.Report) ReportView {
	return ReportView{
		ID:            rep.ID,
		Kind:          rep.Kind,
		Mode:          rep.Mode,
		CheckedAt:     rep.CheckedAt,
		Discrepancies: rep.Discrepancies,
		Report:        json.RawMessage(rep.PayloadJSON),
	}
}

// ParseKind maps a requested report kind to the storage filter. "all" selects every kind.
func ParseKind(kind string) (string, error) {
	switch kind {
	case storage.ReportEvents, storage.ReportBalances:
		return kind, nil
	case "all":
		return "", nil
	default:
		return "", fmt.Errorf("unknown report kind %q", kind)
	}
}

type server struct {
	store ReportStore
}

// NewRouter registers the report routes.
func NewRouter(store ReportStore) *mux.Router {
	s := &server{store: store}
	r := mux.NewRouter()
	r.HandleFunc("/eventsStats", s.latestHandler(storage.ReportEvents)).Methods("GET")
	r.HandleFunc("/balances", s.latestHandler(storage.ReportBalances)).Methods("GET")
	r.HandleFunc("/reports/{kind}", s.listHandler).Methods("GET")
	return r
}

// Handler wraps the router with CORS.
func Handler(store ReportStore, allowedOrigins []string) http.Handler {
	corsOptions := []handlers.CORSOption{
		handlers.AllowedMethods([]string{"GET"}),
	}
	if len(allowedOrigins) != 0 {
		corsOptions = append(corsOptions,
			handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type"}),
			handlers.AllowedOrigins(allowedOrigins),
		)
	}
	return handlers.CORS(corsOptions...)(NewRouter(store))
}

// Serve starts the API in the background.
func Serve(addr string, h http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

func (s *server) latestHandler(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, ok, err := s.store.LatestReport(r.Context(), kind)
		switch {
		case err != nil:
			writeResponse(w, http.StatusInternalServerError, nil, err)
		case !ok:
			writeResponse(w, http.StatusNotFound, nil, errNoReport)
		default:
			writeResponse(w, http.StatusOK, json.RawMessage(rep.PayloadJSON), nil)
		}
	}
}

func (s *server) listHandler(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		writeResponse(w, http.StatusBadRequest, nil, err)
		return
	}

	limit, err := getLimit(r)
	if err != nil {
		writeResponse(w, http.StatusBadRequest, nil, err)
		return
	}

	reports, err := s.store.ListReports(r.Context(), kind, limit)
	if err != nil {
		writeResponse(w, http.StatusInternalServerError, nil, err)
		return
	}
	views := make([]ReportView, 0, len(reports))
	for _, rep := range reports {
		views = append(views, NewReportView(rep))
	}
	writeResponse(w, http.StatusOK, views, nil)
}

func getLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 20, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

func writeResponse(w http.ResponseWriter, code int, resp any, err error) {
	// Header must be set before WriteHeader.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err != nil {
		resp = map[string]string{"error": err.Error()}
	}
	_ = json.NewEncoder(w).Encode(resp)
}
