package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/ayusman/sortcam/internal/sorting"
	"github.com/ayusman/sortcam/internal/store"
)

// MappingHandler manages label to category bindings. Changes are written to
// the store and applied to the live catalog.
type MappingHandler struct {
	store   *store.Store
	catalog *sorting.Catalog
}

// NewMappingHandler creates a new MappingHandler. catalog may be nil, in
// which case only the store is updated and categories are not validated.
func NewMappingHandler(s *store.Store, catalog *sorting.Catalog) *MappingHandler {
	return &MappingHandler{store: s, catalog: catalog}
}

type mappingRequest struct {
	Label    string `json:"label"`
	Category string `json:"category"`
}

type listMappingsResponse struct {
	Mappings   []*store.Mapping   `json:"mappings"`
	Categories []sorting.Category `json:"categories,omitempty"`
}

// ServeHTTP routes /api/mappings and /api/mappings/{label}.
func (h *MappingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/mappings")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	label, err := url.PathUnescape(path)
	if err != nil || strings.Contains(label, "/") {
		writeError(w, http.StatusBadRequest, "Invalid label")
		return
	}
	label = sorting.NormalizeLabel(label)

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, label)
	case http.MethodPut:
		h.update(w, r, label)
	case http.MethodDelete:
		h.delete(w, r, label)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// list handles GET /api/mappings.
func (h *MappingHandler) list(w http.ResponseWriter, r *http.Request) {
	mappings, err := h.store.Mappings().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list mappings")
		return
	}

	resp := listMappingsResponse{Mappings: mappings}
	if h.catalog != nil {
		resp.Categories = h.catalog.Categories()
	}
	writeJSON(w, http.StatusOK, resp)
}

// get handles GET /api/mappings/{label}.
func (h *MappingHandler) get(w http.ResponseWriter, r *http.Request, label string) {
	m, err := h.store.Mappings().Get(label)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Mapping not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get mapping")
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// create handles POST /api/mappings.
func (h *MappingHandler) create(w http.ResponseWriter, r *http.Request) {
	var req mappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	h.save(w, sorting.NormalizeLabel(req.Label), req.Category, http.StatusCreated)
}

// update handles PUT /api/mappings/{label}.
func (h *MappingHandler) update(w http.ResponseWriter, r *http.Request, label string) {
	var req mappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	h.save(w, label, req.Category, http.StatusOK)
}

func (h *MappingHandler) save(w http.ResponseWriter, label, category string, status int) {
	if label == "" {
		writeError(w, http.StatusBadRequest, "Label is required")
		return
	}
	if category == "" {
		writeError(w, http.StatusBadRequest, "Category is required")
		return
	}
	if h.catalog != nil {
		if _, ok := h.catalog.Category(category); !ok {
			writeError(w, http.StatusBadRequest, "Unknown category")
			return
		}
	}

	m := &store.Mapping{Label: label, Category: category}
	if err := h.store.Mappings().Upsert(m); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save mapping")
		return
	}
	if h.catalog != nil {
		h.catalog.Map(label, category)
	}

	saved, err := h.store.Mappings().Get(label)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get mapping")
		return
	}
	writeJSON(w, status, saved)
}

// delete handles DELETE /api/mappings/{label}. The label becomes unknown
// both live and after a restart, since defaults are seeded only once.
func (h *MappingHandler) delete(w http.ResponseWriter, r *http.Request, label string) {
	if err := h.store.Mappings().Delete(label); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Mapping not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete mapping")
		return
	}
	if h.catalog != nil {
		h.catalog.Unmap(label)
	}

	w.WriteHeader(http.StatusNoContent)
}
