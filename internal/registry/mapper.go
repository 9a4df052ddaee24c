package registry

import (
	"bytes"
	"strings"
	"sync/atomic"

	"github.com/tidwall/sjson"

	"github.com/nghyane/copilot-gateway/internal/config"
)

type mapperTables struct {
	prefixes       []config.ModelPrefix
	display        map[string]string
	reverseDisplay map[string]string
	disguise       bool
}

// ModelMapper translates between client-facing and upstream model ids. Its
// tables are swapped atomically on config reload.
type ModelMapper struct {
	tables    atomic.Pointer[mapperTables]
	disguised atomic.Pointer[map[string]string] // disguised id -> upstream id
}

func NewModelMapper(cfg config.ModelsConfig) *ModelMapper {
	m := &ModelMapper{}
	m.Update(cfg)
	empty := map[string]string{}
	m.disguised.Store(&empty)
	return m
}

// Update replaces the mapping tables.
func (m *ModelMapper) Update(cfg config.ModelsConfig) {
	t := &mapperTables{
		prefixes:       append([]config.ModelPrefix(nil), cfg.Prefixes...),
		display:        make(map[string]string, len(cfg.Display)),
		reverseDisplay: make(map[string]string, len(cfg.Display)),
		disguise:       cfg.DisguiseClaude,
	}
	for upstream, shown := range cfg.Display {
		t.display[upstream] = shown
		t.reverseDisplay[shown] = upstream
	}
	m.tables.Store(t)
}

// Normalize maps a requested model to the upstream id: disguised ids first,
// then display names, then the first matching prefix.
func (m *ModelMapper) Normalize(model string) string {
	model = strings.TrimSpace(model)
	if real, ok := (*m.disguised.Load())[model]; ok {
		return real
	}
	t := m.tables.Load()
	if real, ok := t.reverseDisplay[model]; ok {
		return real
	}
	for _, p := range t.prefixes {
		if strings.HasPrefix(model, p.Prefix) {
			return p.Target
		}
	}
	return model
}

// Display maps an upstream id to the name reported back to clients.
func (m *ModelMapper) Display(id string) string {
	if shown, ok := m.tables.Load().display[id]; ok {
		return shown
	}
	return id
}

// Disguise returns the GPT-style identity listed for a Claude model so that
// clients keyed on model names keep speaking the chat-array dialect. ok is
// false for models that are listed as-is.
func Disguise(info *ModelInfo) (id, name, vendor string, ok bool) {
	const openAI = "OpenAI"
	switch {
	case strings.Contains(info.ID, "claude-sonnet-4"):
		return "gpt-4-claude-sonnet-4", "GPT-4 (Claude Sonnet 4)", openAI, true
	case strings.Contains(info.ID, "claude-sonnet-3.7"):
		return "gpt-4-claude-sonnet-37", "GPT-4 (Claude Sonnet 3.7)", openAI, true
	case strings.Contains(info.ID, "claude-sonnet-3.5"):
		return "gpt-35-turbo-claude-sonnet-35", "GPT-3.5 Turbo (Claude Sonnet 3.5)", openAI, true
	case strings.Contains(info.ID, "claude"):
		label := info.Name
		if label == "" {
			label = info.ID
		}
		return "gpt-4-" + alnum(info.ID), "GPT-4 (" + label + ")", openAI, true
	}
	return "", "", "", false
}

func alnum(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Remember rebuilds the disguised-id table from a fresh listing. When two
// models share a disguised id the first one listed keeps it.
func (m *ModelMapper) Remember(models []*ModelInfo) {
	table := make(map[string]string)
	for _, info := range models {
		if id, _, _, ok := Disguise(info); ok {
			if _, taken := table[id]; !taken {
				table[id] = info.ID
			}
		}
	}
	m.disguised.Store(&table)
}

// ListedID is the id a model is advertised under: its disguise when that is
// enabled and applies, otherwise its display name.
func (m *ModelMapper) ListedID(info *ModelInfo) string {
	if m.tables.Load().disguise {
		if id, _, _, ok := Disguise(info); ok {
			return id
		}
	}
	return m.Display(info.ID)
}

// Listing renders models as an OpenAI-style list, applying the disguise or
// the display mapping to each id.
func (m *ModelMapper) Listing(models []*ModelInfo) []byte {
	disguise := m.tables.Load().disguise
	out := []byte(`{"object":"list","data":[]}`)
	for _, info := range models {
		entry := bytes.Clone(info.Raw)
		if len(entry) == 0 {
			entry = []byte(`{}`)
		}
		if id, name, vendor, ok := Disguise(info); disguise && ok {
			entry, _ = sjson.SetBytes(entry, "id", id)
			entry, _ = sjson.SetBytes(entry, "name", name)
			entry, _ = sjson.SetBytes(entry, "vendor", vendor)
		} else {
			entry, _ = sjson.SetBytes(entry, "id", m.Display(info.ID))
		}
		out, _ = sjson.SetRawBytes(out, "data.-1", entry)
	}
	return out
}
