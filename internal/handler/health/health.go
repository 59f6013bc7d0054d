// Package health serves the liveness report of the server's dependencies.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

const checkTimeout = 3 * time.Second

// Checker verifies that an infrastructure dependency is reachable.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Check(ctx context.Context) error { return f(ctx) }

type Handler struct {
	required map[string]Checker
	optional map[string]Checker
	logger   *slog.Logger
}

// NewHandler reports 503 when a required check fails. A failing optional
// check only marks the report degraded.
func NewHandler(logger *slog.Logger, required, optional map[string]Checker) *Handler {
	return &Handler{required: required, optional: optional, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.check)
	return r
}

type CheckResult struct {
	Status     string `json:"status"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

type Response struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		resp     = Response{Status: "ok", Checks: make(map[string]CheckResult, len(h.required)+len(h.optional))}
		httpCode = http.StatusOK
	)

	run := func(name string, c Checker, required bool) {
		defer wg.Done()
		start := time.Now()
		err := c.Check(ctx)
		res := CheckResult{Status: "ok", DurationMs: time.Since(start).Milliseconds()}

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			h.logger.Error("health check failed", "name", name, "required", required, "error", err)
			res.Status = "error"
			res.Error = err.Error()
			if required {
				resp.Status = "error"
				httpCode = http.StatusServiceUnavailable
			} else if resp.Status == "ok" {
				resp.Status = "degraded"
			}
		}
		resp.Checks[name] = res
	}

	for name, c := range h.required {
		wg.Add(1)
		go run(name, c, true)
	}
	for name, c := range h.optional {
		wg.Add(1)
		go run(name, c, false)
	}
	wg.Wait()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	json.NewEncoder(w).Encode(resp)
}
