package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ayusman/sortcam/internal/debounce"
	"github.com/ayusman/sortcam/internal/sorting"
	"github.com/ayusman/sortcam/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDetectionHandler(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, c := range []string{"trash", "compost", "trash"} {
		d := &store.Detection{Label: "x", Category: c, Probability: 0.9, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := s.Detections().Create(d); err != nil {
			t.Fatal(err)
		}
	}
	h := NewDetectionHandler(s)

	t.Run("list", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/detections?limit=2", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var resp listDetectionsResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(resp.Detections) != 2 || resp.Detections[0].Category != "trash" {
			t.Errorf("detections = %+v", resp.Detections)
		}
	})

	t.Run("invalid limit", func(t *testing.T) {
		for _, q := range []string{"abc", "0", "-3"} {
			rec := do(t, h, http.MethodGet, "/api/detections?limit="+q, "")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("limit=%s: status = %d, want 400", q, rec.Code)
			}
		}
	})

	t.Run("stats", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/detections/stats", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var resp statsResponse
		json.NewDecoder(rec.Body).Decode(&resp)
		if resp.Total != 3 || resp.Categories["trash"] != 2 || resp.Categories["compost"] != 1 {
			t.Errorf("stats = %+v", resp)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		if rec := do(t, h, http.MethodPost, "/api/detections", "{}"); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", rec.Code)
		}
		if rec := do(t, h, http.MethodDelete, "/api/detections/stats", ""); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", rec.Code)
		}
	})

	t.Run("unknown subpath", func(t *testing.T) {
		if rec := do(t, h, http.MethodGet, "/api/detections/other", ""); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("clear", func(t *testing.T) {
		rec := do(t, h, http.MethodDelete, "/api/detections", "")
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
		rows, _ := s.Detections().List(0)
		if len(rows) != 0 {
			t.Errorf("%d rows left after clear", len(rows))
		}
	})
}

func TestMappingHandler(t *testing.T) {
	s := newTestStore(t)
	catalog := sorting.NewCatalog(sorting.DefaultCategories(), sorting.Options{IgnoreUnknown: true})
	h := NewMappingHandler(s, catalog)

	// Create
	rec := do(t, h, http.MethodPost, "/api/mappings", `{"label": "bottle", "category": "recycling"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST status = %d, want 201: %s", rec.Code, rec.Body)
	}
	if got, ok := catalog.CategoryFor("bottle"); !ok || got != sorting.Recycling {
		t.Errorf("catalog not updated: (%q, %v)", got, ok)
	}

	// Update
	rec = do(t, h, http.MethodPut, "/api/mappings/bottle", `{"category": "trash"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200", rec.Code)
	}
	var m store.Mapping
	json.NewDecoder(rec.Body).Decode(&m)
	if m.Label != "bottle" || m.Category != sorting.Trash {
		t.Errorf("PUT response = %+v", m)
	}
	if got, _ := catalog.CategoryFor("bottle"); got != sorting.Trash {
		t.Errorf("catalog category = %q, want trash", got)
	}

	// Get and list
	if rec := do(t, h, http.MethodGet, "/api/mappings/bottle", ""); rec.Code != http.StatusOK {
		t.Errorf("GET status = %d, want 200", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/api/mappings", "")
	var list listMappingsResponse
	json.NewDecoder(rec.Body).Decode(&list)
	if len(list.Mappings) != 1 || len(list.Categories) != 3 {
		t.Errorf("list = %+v", list)
	}

	// Delete
	if rec := do(t, h, http.MethodDelete, "/api/mappings/bottle", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", rec.Code)
	}
	if _, ok := catalog.CategoryFor("bottle"); ok {
		t.Error("catalog still maps bottle after delete")
	}
	if rec := do(t, h, http.MethodGet, "/api/mappings/bottle", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want 404", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/mappings/bottle", ""); rec.Code != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want 404", rec.Code)
	}
}

func TestMappingHandler_NormalizesLabels(t *testing.T) {
	s := newTestStore(t)
	catalog := sorting.NewCatalog(sorting.DefaultCategories(), sorting.Options{IgnoreUnknown: true})
	h := NewMappingHandler(s, catalog)

	if rec := do(t, h, http.MethodPut, "/api/mappings/Bottle", `{"category": "recycling"}`); rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200", rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/api/mappings/bottle", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", rec.Code)
	}
	var m store.Mapping
	json.NewDecoder(rec.Body).Decode(&m)
	if m.Label != "bottle" {
		t.Errorf("stored label = %q, want bottle", m.Label)
	}

	if rec := do(t, h, http.MethodPost, "/api/mappings", `{"label": " CAN ", "category": "recycling"}`); rec.Code != http.StatusCreated {
		t.Fatalf("POST status = %d, want 201", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/mappings/can", ""); rec.Code != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want 204", rec.Code)
	}
}

func TestMappingHandler_DeleteDefaults(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Mappings().Seed(sorting.DefaultMappings()); err != nil {
		t.Fatal(err)
	}
	load := func() *sorting.Catalog {
		c := sorting.NewCatalog(sorting.DefaultCategories(), sorting.Options{})
		c.SetMappings(sorting.DefaultMappings())
		m, err := s.Mappings().Map()
		if err != nil {
			t.Fatal(err)
		}
		c.SetMappings(m)
		return c
	}
	catalog := load()
	h := NewMappingHandler(s, catalog)

	if rec := do(t, h, http.MethodPut, "/api/mappings/face", `{"category": "compost"}`); rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200", rec.Code)
	}
	for _, label := range []string{"face", "glass"} {
		if rec := do(t, h, http.MethodDelete, "/api/mappings/"+label, ""); rec.Code != http.StatusNoContent {
			t.Errorf("DELETE %s status = %d, want 204", label, rec.Code)
		}
	}

	restarted := load()
	for _, label := range []string{"face", "glass"} {
		live, _ := catalog.CategoryFor(label)
		again, _ := restarted.CategoryFor(label)
		if live != again {
			t.Errorf("%s resolves to %q live but %q after restart", label, live, again)
		}
		if _, ok := restarted.Mapped(label); ok {
			t.Errorf("%s still mapped after restart", label)
		}
	}
	if got, _ := restarted.CategoryFor("hand"); got != sorting.Trash {
		t.Errorf("hand = %q, want trash", got)
	}
}

func TestMappingHandler_Validation(t *testing.T) {
	h := NewMappingHandler(newTestStore(t), sorting.NewCatalog(sorting.DefaultCategories(), sorting.Options{}))

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"invalid json", http.MethodPost, "/api/mappings", `{`},
		{"missing label", http.MethodPost, "/api/mappings", `{"category": "trash"}`},
		{"missing category", http.MethodPost, "/api/mappings", `{"label": "can"}`},
		{"unknown category", http.MethodPut, "/api/mappings/can", `{"category": "landfill"}`},
		{"nested path", http.MethodGet, "/api/mappings/a/b", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, h, tt.method, tt.path, tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

type fakeApplier struct {
	cfg    debounce.Config
	ignore bool
	err    error
	calls  int
}

func (f *fakeApplier) CurrentSettings() (debounce.Config, bool) {
	return f.cfg, f.ignore
}

func (f *fakeApplier) ApplySettings(cfg debounce.Config, ignore bool) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.cfg, f.ignore = cfg, ignore
	return nil
}

func TestSettingsHandler_Get(t *testing.T) {
	applier := &fakeApplier{cfg: debounce.Config{Threshold: 0.7, Cooldown: 3 * time.Second, Policy: debounce.Cooldown}, ignore: true}
	h := NewSettingsHandler(newTestStore(t), applier)

	rec := do(t, h, http.MethodGet, "/api/settings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got Settings
	json.NewDecoder(rec.Body).Decode(&got)
	want := Settings{Threshold: 0.7, CooldownSeconds: 3, Policy: "cooldown", IgnoreUnknown: true}
	if got != want {
		t.Errorf("GET = %+v, want %+v", got, want)
	}
}

func TestSettingsHandler_GetWithoutApplier(t *testing.T) {
	h := NewSettingsHandler(newTestStore(t), nil)

	rec := do(t, h, http.MethodGet, "/api/settings", "")
	var got Settings
	json.NewDecoder(rec.Body).Decode(&got)
	if got.Threshold != debounce.DefaultThreshold || got.Policy != string(debounce.LatchUntilChange) {
		t.Errorf("GET = %+v, want defaults", got)
	}
}

func TestSettingsHandler_Put(t *testing.T) {
	s := newTestStore(t)
	applier := &fakeApplier{cfg: debounce.DefaultConfig()}
	h := NewSettingsHandler(s, applier)

	rec := do(t, h, http.MethodPut, "/api/settings", `{"policy": "cooldown", "cooldownSeconds": 2.5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}

	want := debounce.Config{Threshold: debounce.DefaultThreshold, Cooldown: 2500 * time.Millisecond, Policy: debounce.Cooldown}
	if applier.cfg != want {
		t.Errorf("applied = %+v, want %+v", applier.cfg, want)
	}

	stored, _, err := s.Settings().LoadDebounce(debounce.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if stored != want {
		t.Errorf("stored = %+v, want %+v", stored, want)
	}
}

func TestSettingsHandler_PutInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"threshold above one", `{"threshold": 1.5}`},
		{"negative threshold", `{"threshold": -0.2}`},
		{"negative cooldown", `{"cooldownSeconds": -1}`},
		{"unknown policy", `{"policy": "sometimes"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applier := &fakeApplier{cfg: debounce.DefaultConfig()}
			h := NewSettingsHandler(newTestStore(t), applier)

			if rec := do(t, h, http.MethodPut, "/api/settings", tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if applier.calls != 0 {
				t.Error("invalid settings should not be applied")
			}
		})
	}
}

func TestSettingsHandler_ApplyError(t *testing.T) {
	applier := &fakeApplier{cfg: debounce.DefaultConfig(), err: errors.New("boom")}
	h := NewSettingsHandler(newTestStore(t), applier)

	if rec := do(t, h, http.MethodPut, "/api/settings", `{"threshold": 0.5}`); rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
