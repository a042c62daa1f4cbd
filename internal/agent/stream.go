package agent

import (
	"encoding/json"
	"path/filepath"
	"strings"
)

// Event types emitted by `claude --output-format stream-json`.
const (
	streamSystem    = "system"
	streamAssistant = "assistant"
	streamUser      = "user"
	streamResult    = "result"
	streamError     = "error"
)

type streamBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type streamMessage struct {
	Content []streamBlock `json:"content"`
}

type streamLine struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
	Result  string          `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
}

// formatStreamLine turns one stream-json line into a human-readable log
// line. Lines that are not JSON are passed through unchanged; user
// messages (tool results) are dropped.
func formatStreamLine(raw []byte) string {
	var ev streamLine
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Type == "" {
		return string(raw)
	}

	switch ev.Type {
	case streamSystem:
		if ev.Subtype != "" {
			return "[system] " + ev.Subtype
		}
		return "[system]"
	case streamAssistant:
		msg, text := decodeMessage(ev.Message)
		for _, b := range msg.Content {
			if b.Type == "tool_use" {
				return "[tool] " + describeTool(b)
			}
		}
		if text != "" {
			return "[assistant] " + firstLine(text)
		}
		return ""
	case streamUser:
		return ""
	case streamResult:
		if ev.IsError {
			return "[result:error] " + firstLine(ev.Result)
		}
		return "[result] " + firstLine(ev.Result)
	case streamError:
		if ev.Error != "" {
			return "[error] " + ev.Error
		}
		_, text := decodeMessage(ev.Message)
		return "[error] " + text
	default:
		return ""
	}
}

// decodeMessage accepts either a message object with content blocks or a
// bare string.
func decodeMessage(raw json.RawMessage) (streamMessage, string) {
	var msg streamMessage
	if len(raw) == 0 {
		return msg, ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return msg, s
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, ""
	}
	var parts []string
	for _, b := range msg.Content {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return msg, strings.Join(parts, " ")
}

func describeTool(b streamBlock) string {
	str := func(k string) string {
		v, _ := b.Input[k].(string)
		return v
	}
	switch b.Name {
	case "Read", "Edit", "Write":
		if p := str("file_path"); p != "" {
			return b.Name + " " + truncate(filepath.Base(p), 40)
		}
	case "Bash":
		if c := str("command"); c != "" {
			return "Bash " + truncate(firstLine(c), 60)
		}
	case "Glob", "Grep":
		if p := str("pattern"); p != "" {
			return b.Name + " " + truncate(p, 40)
		}
	}
	return b.Name
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncate(s, 200)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
