package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

type Checker struct {
	DBPing  func(ctx context.Context) error
	RPCPing func(ctx context.Context) map[string]error
	// LastCycle reports when the last reconcile cycle finished; zero means none yet.
	LastCycle func() time.Time
	MaxAge    time.Duration
}

// Handler serves /healthz with per-dependency status.
func Handler(checker Checker) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := map[string]string{"status": "ok"}
		code := http.StatusOK

		if checker.DBPing != nil {
			if err := checker.DBPing(ctx); err != nil {
				status["db"] = "fail"
				code = http.StatusServiceUnavailable
			} else {
				status["db"] = "ok"
			}
		}
		if checker.RPCPing != nil {
			for side, err := range checker.RPCPing(ctx) {
				if err != nil {
					status[side] = "fail"
					code = http.StatusServiceUnavailable
				} else {
					status[side] = "ok"
				}
			}
		}
		if checker.LastCycle != nil && checker.MaxAge > 0 {
			last := checker.LastCycle()
			switch {
			case last.IsZero():
				status["cycle"] = "pending"
			case time.Since(last) > checker.MaxAge:
				status["cycle"] = "stale"
				code = http.StatusServiceUnavailable
			default:
				status["cycle"] = "ok"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
	return mux
}

// Serve starts the /healthz handler in the background.
func Serve(addr string, checker Checker) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(checker),
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Shutdown gracefully shuts down the health server.
func Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
