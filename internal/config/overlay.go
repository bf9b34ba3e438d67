package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// OverlaySections lists the admin-mutable config sections.
var OverlaySections = []string{"model", "hitl", "permissions", "conversation"}

// RuntimeOverlay is the process-wide admin-mutable config overlay. Updates
// are applied in memory immediately and persisted to disk atomically via a
// temp file and rename; persistence failure is logged by the caller, never
// fatal.
type RuntimeOverlay struct {
	mu       sync.RWMutex
	sections map[string]map[string]any
	path     string
}

// NewRuntimeOverlay creates an overlay persisted at path. If the file exists
// its contents are loaded; a missing file is an empty overlay.
func NewRuntimeOverlay(path string) (*RuntimeOverlay, error) {
	o := &RuntimeOverlay{
		sections: make(map[string]map[string]any),
		path:     path,
	}
	if path == "" {
		return o, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return o, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read overlay: %w", err)
	}
	if err := json.Unmarshal(data, &o.sections); err != nil {
		return nil, fmt.Errorf("parse overlay %s: %w", path, err)
	}
	return o, nil
}

// ValidSection reports whether name is an admin-mutable section.
func ValidSection(name string) bool {
	for _, s := range OverlaySections {
		if s == name {
			return true
		}
	}
	return false
}

// Section returns a copy of one section's values.
func (o *RuntimeOverlay) Section(name string) map[string]any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]any, len(o.sections[name]))
	for k, v := range o.sections[name] {
		out[k] = v
	}
	return out
}

// Snapshot returns a copy of every section.
func (o *RuntimeOverlay) Snapshot() map[string]map[string]any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]map[string]any, len(o.sections))
	for name, sec := range o.sections {
		cp := make(map[string]any, len(sec))
		for k, v := range sec {
			cp[k] = v
		}
		out[name] = cp
	}
	return out
}

// Put replaces one section and persists the overlay. The in-memory update
// always succeeds; the returned error reports persistence failure only.
func (o *RuntimeOverlay) Put(section string, values map[string]any) error {
	if !ValidSection(section) {
		return fmt.Errorf("overlay: unknown section %q", section)
	}
	o.mu.Lock()
	o.sections[section] = values
	snapshot, err := json.MarshalIndent(o.sections, "", "  ")
	o.mu.Unlock()
	if err != nil {
		return fmt.Errorf("overlay: encode: %w", err)
	}
	return o.persist(snapshot)
}

// persist writes the overlay to disk via temp-file + rename so readers never
// observe a torn file.
func (o *RuntimeOverlay) persist(data []byte) error {
	if o.path == "" {
		return nil
	}
	dir := filepath.Dir(o.path)
	tmp, err := os.CreateTemp(dir, ".overlay-*.json")
	if err != nil {
		return fmt.Errorf("overlay: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("overlay: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("overlay: close: %w", err)
	}
	if err := os.Rename(tmpName, o.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("overlay: rename: %w", err)
	}
	return nil
}

// apply folds overlay values into a scoped config. Unknown keys and
// mistyped values are ignored.
func (o *RuntimeOverlay) apply(s *Scoped) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if sec := o.sections["model"]; sec != nil {
		if v, ok := sec["default"].(string); ok && v != "" {
			s.DefaultModel = v
		}
		if v, ok := asInt(sec["max_tokens"]); ok && v > 0 {
			s.MaxTokens = v
		}
	}
	if sec := o.sections["hitl"]; sec != nil {
		if v, ok := sec["default_level"].(string); ok {
			if lvl := models.HitlLevel(v); lvl.Valid() {
				s.HitlLevel = lvl
			}
		}
	}
	if sec := o.sections["permissions"]; sec != nil {
		if v, ok := sec["allow_user_model_select"].(bool); ok {
			s.AllowUserModelSelect = v
		}
		if v, ok := sec["allow_user_hitl_config"].(bool); ok {
			s.AllowUserHitlConfig = v
		}
	}
	if sec := o.sections["conversation"]; sec != nil {
		if v, ok := asInt(sec["window"]); ok && v > 0 {
			s.ConversationWindow = v
		}
	}
}

// asInt normalizes json numbers, which decode as float64.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}
