// Package registry caches the upstream model catalog and maps client-facing
// model names to upstream ids.
package registry

import (
	"github.com/tidwall/gjson"

	"github.com/nghyane/copilot-gateway/internal/json"
)

type ModelLimits struct {
	MaxContextWindowTokens int `json:"max_context_window_tokens,omitempty"`
	MaxOutputTokens        int `json:"max_output_tokens,omitempty"`
	MaxPromptTokens        int `json:"max_prompt_tokens,omitempty"`
	MaxInputs              int `json:"max_inputs,omitempty"`
}

type ModelSupports struct {
	ToolCalls         bool `json:"tool_calls,omitempty"`
	ParallelToolCalls bool `json:"parallel_tool_calls,omitempty"`
	Dimensions        bool `json:"dimensions,omitempty"`
}

type ModelCapabilities struct {
	Family    string        `json:"family"`
	Type      string        `json:"type"`
	Tokenizer string        `json:"tokenizer"`
	Limits    ModelLimits   `json:"limits"`
	Supports  ModelSupports `json:"supports"`
}

// ModelInfo is one entry of the upstream /models listing. Raw keeps the
// entry as received so listings can be re-emitted without losing fields.
type ModelInfo struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	Vendor             string            `json:"vendor"`
	Version            string            `json:"version"`
	Object             string            `json:"object"`
	Preview            bool              `json:"preview"`
	ModelPickerEnabled bool              `json:"model_picker_enabled"`
	Capabilities       ModelCapabilities `json:"capabilities"`

	Raw []byte `json:"-"`
}

// IsAnthropic reports whether the model is served by Anthropic.
func (m *ModelInfo) IsAnthropic() bool {
	return m.Vendor == "Anthropic"
}

// ParseModels decodes an upstream listing. Entries without an id are dropped.
func ParseModels(body []byte) ([]*ModelInfo, error) {
	var models []*ModelInfo
	var firstErr error
	gjson.GetBytes(body, "data").ForEach(func(_, entry gjson.Result) bool {
		if entry.Get("id").String() == "" {
			return true
		}
		var m ModelInfo
		if err := json.Unmarshal([]byte(entry.Raw), &m); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return true
		}
		m.Raw = []byte(entry.Raw)
		models = append(models, &m)
		return true
	})
	if len(models) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return models, nil
}
