// Package api exposes the operator-facing HTTP surface: activity listings,
// match candidates, the watcher toggle and manual outlet assignment.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/aureopos/aureo/internal/outlets"
	"github.com/aureopos/aureo/internal/pipeline"
	"github.com/aureopos/aureo/internal/storage"
	"github.com/aureopos/aureo/internal/watcher"
)

// Deps are the collaborators the handlers close over.
type Deps struct {
	Store       *storage.Store
	Coordinator *watcher.Coordinator
	Processor   *pipeline.Processor
	Events      http.HandlerFunc // websocket endpoint, may be nil
	Token       string
	ExcelDir    string
	PDFDir      string
}

// NewHandler builds the full router. API routes are bearer-authenticated;
// the health check and the event stream are open.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Events != nil {
		r.Get("/ws", deps.Events)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/activities", handleListActivities(deps))
		r.Get("/activities/{id}", handleGetActivity(deps))
		r.Get("/activities/{id}/records", handleListRecords(deps))
		r.Get("/activities/{id}/suggestion", handleSuggestOutlet(deps))
		r.Post("/activities/{id}/assign-store", handleAssignStore(deps))
		r.Get("/matches", handleListMatches(deps))
		r.Get("/watcher", handleGetWatcher(deps))
		r.Post("/watcher", handleSetWatcher(deps))
	})

	return r
}

func handleListActivities(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		activities, err := deps.Store.ListFileActivities(r.URL.Query().Get("status"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing activities: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, activities)
	}
}

func handleGetActivity(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := deps.Store.GetFileActivity(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "activity not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading activity: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func handleListRecords(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		records, err := deps.Store.ListTransactionRecords(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing records: %v", err)
			return
		}
		documents, err := deps.Store.ListDocumentRecords(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing documents: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"transactions": records,
			"documents":    documents,
		})
	}
}

func handleSuggestOutlet(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := deps.Store.GetFileActivity(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "activity not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading activity: %v", err)
			return
		}

		registered, err := deps.Store.ListOutlets(a.FileType)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing outlets: %v", err)
			return
		}
		best, score := outlets.Suggest(a.DetectedStoreCode, registered)
		if best == nil {
			writeJSON(w, http.StatusOK, map[string]any{"suggestion": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"suggestion": best,
			"score":      score,
		})
	}
}

type assignStoreRequest struct {
	StoreCode string `json:"storeCode"`
}

func handleAssignStore(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req assignStoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.StoreCode == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "storeCode is required")
			return
		}

		a, err := deps.Store.GetFileActivity(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "activity not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading activity: %v", err)
			return
		}
		if a.Status != storage.StatusPendingStoreAssignment {
			httpError(w, http.StatusConflict, "invalid_request_error",
				"activity is %s, only PendingStoreAssignment activities accept an assignment", a.Status)
			return
		}
		if _, err := deps.Store.GetOutletByCode(req.StoreCode); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no outlet with code %q", req.StoreCode)
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading outlet: %v", err)
			return
		}

		dir := deps.ExcelDir
		if a.FileType == storage.FileTypePDF {
			dir = deps.PDFDir
		}
		path := filepath.Join(dir, a.Filename)
		if _, err := os.Stat(path); err != nil {
			httpError(w, http.StatusConflict, "invalid_request_error",
				"file %s is no longer present in the watch directory", a.Filename)
			return
		}

		// The fresh attempt runs asynchronously; progress is observable via
		// the activity status and the event stream.
		go func() {
			if _, err := deps.Processor.Reprocess(path, a.ID, req.StoreCode); err != nil {
				// Reprocess only errors before the attempt starts; the
				// attempt itself records its own terminal state.
				slog.Error("reprocess failed", "activity_id", a.ID, "error", err)
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"id": a.ID, "status": "reprocessing"})
	}
}

func handleListMatches(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matches, err := deps.Store.ListMatchCandidates(r.URL.Query().Get("recordId"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing matches: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, matches)
	}
}

func handleGetWatcher(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"active": deps.Coordinator.Enabled()})
	}
}

type setWatcherRequest struct {
	Enabled bool `json:"enabled"`
}

func handleSetWatcher(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setWatcherRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		value := "false"
		if req.Enabled {
			value = "true"
		}
		if err := deps.Store.SetConfigValue("FILE_PROCESSING_ENABLED", value); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "persisting toggle: %v", err)
			return
		}
		deps.Coordinator.SetEnabled(req.Enabled)
		writeJSON(w, http.StatusOK, map[string]bool{"active": req.Enabled})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
