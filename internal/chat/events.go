package chat

import "encoding/json"

// Event types emitted to the sink. Structured agent events keep their
// original type; the rest are synthesized by the runner.
const (
	EventRaw  = "raw"  // unparseable line, forwarded verbatim
	EventTool = "tool" // enriched tool invocation
	EventDone = "done" // terminal event, always last
)

// Event is one item in a chat run's output stream.
type Event struct {
	Type     string          `json:"type"`
	Raw      json.RawMessage `json:"raw,omitempty"`  // original line for structured events
	Text     string          `json:"text,omitempty"` // raw fallback text
	Tool     *ToolUse        `json:"tool,omitempty"`
	ExitCode int             `json:"exit_code,omitempty"`
	ResumeID string          `json:"resume_id,omitempty"` // conversation id for continuation
	Error    string          `json:"error,omitempty"`
}

// ToolUse is a tool invocation enriched with derived metadata.
type ToolUse struct {
	Name     string          `json:"name"`
	Category Category        `json:"category"`
	Summary  string          `json:"summary"`
	Input    json.RawMessage `json:"input,omitempty"`
}

// Sink receives the event stream for one chat run. Implementations
// must not block for long; delivery happens on the run's read loop.
type Sink interface {
	ChatEvent(chatID string, ev Event)
}

// streamLine is the envelope of one line-delimited JSON event from the
// agent CLI. Only the fields the runner cares about are declared.
type streamLine struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Message   *struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}
