package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/sortcam/internal/store"
)

// MaxListLimit caps the limit query parameter.
const MaxListLimit = 500

// DetectionHandler serves the detection history.
type DetectionHandler struct {
	store *store.Store
}

// NewDetectionHandler creates a new DetectionHandler with the given store.
func NewDetectionHandler(s *store.Store) *DetectionHandler {
	return &DetectionHandler{store: s}
}

type listDetectionsResponse struct {
	Detections []*store.Detection `json:"detections"`
}

type statsResponse struct {
	Total      int            `json:"total"`
	Categories map[string]int `json:"categories"`
}

// ServeHTTP routes /api/detections and /api/detections/stats.
func (h *DetectionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/detections")
	path = strings.Trim(path, "/")

	switch path {
	case "":
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodDelete:
			h.clear(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "stats":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.stats(w, r)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// list handles GET /api/detections?limit=n.
func (h *DetectionHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(n, MaxListLimit)
	}

	detections, err := h.store.Detections().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list detections")
		return
	}

	writeJSON(w, http.StatusOK, listDetectionsResponse{Detections: detections})
}

// clear handles DELETE /api/detections.
func (h *DetectionHandler) clear(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.Detections().DeleteAll(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete detections")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// stats handles GET /api/detections/stats.
func (h *DetectionHandler) stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.Detections().CountByCategory()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count detections")
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	writeJSON(w, http.StatusOK, statsResponse{Total: total, Categories: counts})
}
