package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ayusman/sortcam/internal/debounce"
	"github.com/ayusman/sortcam/internal/store"
)

// SettingsApplier swaps the running debouncer configuration.
type SettingsApplier interface {
	CurrentSettings() (debounce.Config, bool)
	ApplySettings(cfg debounce.Config, ignoreUnknown bool) error
}

// Settings is the wire form of the debouncer settings.
type Settings struct {
	Threshold       float64 `json:"threshold"`
	CooldownSeconds float64 `json:"cooldownSeconds"`
	Policy          string  `json:"policy"`
	IgnoreUnknown   bool    `json:"ignoreUnknown"`
}

// settingsPatch carries only the fields present in a PUT body.
type settingsPatch struct {
	Threshold       *float64 `json:"threshold"`
	CooldownSeconds *float64 `json:"cooldownSeconds"`
	Policy          *string  `json:"policy"`
	IgnoreUnknown   *bool    `json:"ignoreUnknown"`
}

// SettingsHandler serves GET and PUT /api/settings.
type SettingsHandler struct {
	store   *store.Store
	applier SettingsApplier
}

// NewSettingsHandler creates a SettingsHandler. applier may be nil, in which
// case settings are only persisted.
func NewSettingsHandler(s *store.Store, applier SettingsApplier) *SettingsHandler {
	return &SettingsHandler{store: s, applier: applier}
}

// ServeHTTP implements the http.Handler interface.
func (h *SettingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPut:
		h.update(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SettingsHandler) current() (debounce.Config, bool, error) {
	if h.applier != nil {
		cfg, ignore := h.applier.CurrentSettings()
		return cfg, ignore, nil
	}
	return h.store.Settings().LoadDebounce(debounce.DefaultConfig())
}

func (h *SettingsHandler) get(w http.ResponseWriter, r *http.Request) {
	cfg, ignore, err := h.current()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, toSettings(cfg, ignore))
}

func (h *SettingsHandler) update(w http.ResponseWriter, r *http.Request) {
	var patch settingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	cfg, ignore, err := h.current()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}

	if patch.Threshold != nil {
		cfg.Threshold = *patch.Threshold
	}
	if patch.CooldownSeconds != nil {
		cfg.Cooldown = time.Duration(*patch.CooldownSeconds * float64(time.Second))
	}
	if patch.Policy != nil {
		p, err := debounce.ParsePolicy(*patch.Policy)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cfg.Policy = p
	}
	if patch.IgnoreUnknown != nil {
		ignore = *patch.IgnoreUnknown
	}

	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.Settings().SaveDebounce(cfg, ignore); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save settings")
		return
	}
	if h.applier != nil {
		if err := h.applier.ApplySettings(cfg, ignore); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to apply settings")
			return
		}
	}

	writeJSON(w, http.StatusOK, toSettings(cfg, ignore))
}

func toSettings(cfg debounce.Config, ignoreUnknown bool) Settings {
	return Settings{
		Threshold:       cfg.Threshold,
		CooldownSeconds: cfg.Cooldown.Seconds(),
		Policy:          string(cfg.Policy),
		IgnoreUnknown:   ignoreUnknown,
	}
}
