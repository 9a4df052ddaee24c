package executor

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/nghyane/copilot-gateway/internal/config"
)

const (
	copilotIntegrationID = "vscode-chat"
	openAIIntent         = "conversation-panel"
)

// userAgent derives "GitHubCopilotChat/<v>" from an editor plugin version
// such as "copilot-chat/0.26.7".
func userAgent(pluginVersion string) string {
	version := pluginVersion
	if i := strings.LastIndexByte(version, '/'); i >= 0 {
		version = version[i+1:]
	}
	return "GitHubCopilotChat/" + version
}

// applyHeaders sets the headers the Copilot API expects from a first-party
// editor client. payload is the chat-array request body, nil for GETs.
func applyHeaders(r *http.Request, cfg config.UpstreamConfig, token string, payload []byte) {
	r.Header.Set("Authorization", "Bearer "+token)
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept-Encoding", acceptEncoding)
	r.Header.Set("Copilot-Integration-Id", copilotIntegrationID)
	r.Header.Set("Editor-Version", cfg.EditorVersion)
	r.Header.Set("Editor-Plugin-Version", cfg.EditorPluginVersion)
	r.Header.Set("User-Agent", userAgent(cfg.EditorPluginVersion))
	r.Header.Set("Openai-Intent", openAIIntent)
	r.Header.Set("X-Github-Api-Version", cfg.APIVersion)
	r.Header.Set("X-Request-Id", uuid.NewString())
	r.Header.Set("X-Vscode-User-Agent-Library-Version", "electron-fetch")

	if payload == nil {
		return
	}
	if gjson.GetBytes(payload, "stream").Bool() {
		r.Header.Set("Accept", "text/event-stream")
	} else {
		r.Header.Set("Accept", "application/json")
	}
	if HasVision(payload) {
		r.Header.Set("Copilot-Vision-Request", "true")
	}
	r.Header.Set("X-Initiator", Initiator(payload))
}

// HasVision reports whether any message content part carries an image.
func HasVision(payload []byte) bool {
	found := false
	gjson.GetBytes(payload, "messages").ForEach(func(_, msg gjson.Result) bool {
		content := msg.Get("content")
		if !content.IsArray() {
			return true
		}
		content.ForEach(func(_, part gjson.Result) bool {
			switch part.Get("type").String() {
			case "image_url", "image":
				found = true
			}
			return !found
		})
		return !found
	})
	return found
}

// Initiator returns "agent" when the conversation's last message came from
// the assistant or a tool, "user" otherwise.
func Initiator(payload []byte) string {
	messages := gjson.GetBytes(payload, "messages").Array()
	if len(messages) == 0 {
		return "user"
	}
	switch messages[len(messages)-1].Get("role").String() {
	case "assistant", "tool":
		return "agent"
	}
	return "user"
}
