package gateway

import (
	"encoding/json"

	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/term"
)

// Message types for the gateway WebSocket protocol.
const (
	// Client → server
	TypeSessionCreate = "session.create"
	TypeSessionAttach = "session.attach"
	TypeSessionDetach = "session.detach"
	TypeSessionInput  = "session.input"
	TypeSessionResize = "session.resize"
	TypeSessionKill   = "session.kill"
	TypeSessionRename = "session.rename"
	TypeSessionList   = "session.list"
	TypeChatSend      = "chat.send"
	TypeChatCancel    = "chat.cancel"
	TypePermResponse  = "permission.response"

	// Server → client
	TypeSessionCreated  = "session.created"
	TypeSessionAttached = "session.attached"
	TypeSessionOutput   = "session.output"
	TypeSessionExited   = "session.exited"
	TypeSessionSync     = "session.sync"
	TypeChatStarted     = "chat.started"
	TypeChatEvent       = "chat.event"
	TypePermRequest     = "permission.request"
	TypeServerRestart   = "server.restart"
	TypeError           = "error"
)

// ServerRestart is sent to all connected clients when the server is
// shutting down; clients should reconnect.
type ServerRestart struct {
	Type string `json:"type"`
}

// Envelope wraps every WebSocket message with a type field for routing.
type Envelope struct {
	Type string `json:"type"`
}

// ErrorMsg reports a command failure back to the client.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	// Code distinguishes machine-actionable failures: "capacity",
	// "not_found", "settled", "bad_request".
	Code string `json:"code,omitempty"`
}

// SessionCreate requests a new interactive terminal session.
type SessionCreate struct {
	Type      string `json:"type"`
	ProjectID string `json:"project_id,omitempty"`
	Title     string `json:"title,omitempty"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

// SessionCreated confirms the session is running and the creator is
// attached to it.
type SessionCreated struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	CWD       string `json:"cwd,omitempty"`
}

// SessionAttach binds the connection to an existing session, detaching
// it from whichever session it was viewing before.
type SessionAttach struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Cols      int    `json:"cols,omitempty"`
	Rows      int    `json:"rows,omitempty"`
	Replay    bool   `json:"replay"`
}

// SessionAttached confirms attachment; scrollback replay follows as a
// normal session.output message.
type SessionAttached struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// SessionDetach explicitly detaches the connection from its session.
type SessionDetach struct {
	Type string `json:"type"`
}

// SessionInput carries keystrokes to the PTY.
type SessionInput struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Data      string `json:"data"` // base64-encoded
}

// SessionOutput carries raw terminal bytes to the client.
type SessionOutput struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Data      string `json:"data"` // base64-encoded
}

// SessionResize tells the PTY the client's new terminal geometry.
type SessionResize struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

// SessionExited tells the client the process ended.
type SessionExited struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	ExitCode  int    `json:"exit_code"`
}

// SessionKill requests termination of a session.
type SessionKill struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// SessionRename sets a session's display title.
type SessionRename struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
}

// SessionList requests the current session inventory.
type SessionList struct {
	Type      string `json:"type"`
	ProjectID string `json:"project_id,omitempty"`
}

// SessionSync carries the session inventory.
type SessionSync struct {
	Type     string      `json:"type"`
	Sessions []term.Info `json:"sessions"`
}

// ChatSend submits a message to the one-shot agent runner. A fresh
// chat id is minted when empty; ResumeID continues a prior agent
// conversation.
type ChatSend struct {
	Type      string `json:"type"`
	ChatID    string `json:"chat_id,omitempty"`
	Prompt    string `json:"prompt"`
	ResumeID  string `json:"resume_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

// ChatStarted acknowledges a chat.send with the chat id the run got.
type ChatStarted struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

// ChatEvent forwards one parsed agent stream event.
type ChatEvent struct {
	Type      string          `json:"type"`
	ChatID    string          `json:"chat_id"`
	EventType string          `json:"event_type"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	Text      string          `json:"text,omitempty"`
	Tool      *ChatTool       `json:"tool,omitempty"`
	ExitCode  int             `json:"exit_code,omitempty"`
	ResumeID  string          `json:"resume_id,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ChatTool is the enriched tool-use summary.
type ChatTool struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Summary  string `json:"summary"`
}

// ChatCancel aborts the connection's active chat run.
type ChatCancel struct {
	Type string `json:"type"`
}

// PermRequest surfaces a pending permission question to the client.
type PermRequest struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	ChatID    string          `json:"chat_id"`
	Tool      string          `json:"tool"`
	Category  string          `json:"category"`
	Summary   string          `json:"summary"`
	Input     json.RawMessage `json:"input,omitempty"`
}

// PermResponse carries the user's verdict for a pending request.
type PermResponse struct {
	Type         string          `json:"type"`
	RequestID    string          `json:"request_id"`
	Behavior     string          `json:"behavior"` // "allow" or "deny"
	Message      string          `json:"message,omitempty"`
	UpdatedInput json.RawMessage `json:"updated_input,omitempty"`
}
