package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/bridge"
	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/chat"
	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/logger"
	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/term"
	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/token"
)

const writeTimeout = 10 * time.Second

// Server is the authenticated WebSocket front door. Every connection
// speaks the envelope protocol and is bound to the user its token
// names.
type Server struct {
	issuer   *token.Issuer
	registry *term.Registry
	chats    *chat.Runner
	perms    *bridge.Bridge
	meter    *BandwidthMeter // nil disables metering

	mu    sync.Mutex
	conns map[*conn]struct{}
}

func NewServer(issuer *token.Issuer, registry *term.Registry, chats *chat.Runner, perms *bridge.Bridge, meter *BandwidthMeter) *Server {
	return &Server{
		issuer:   issuer,
		registry: registry,
		chats:    chats,
		perms:    perms,
		meter:    meter,
		conns:    make(map[*conn]struct{}),
	}
}

// NotifyRestart tells every connected client the server is going away
// so they can reconnect instead of timing out.
func (s *Server) NotifyRestart() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.send(ServerRestart{Type: TypeServerRestart})
	}
}

// ServeHTTP upgrades /ws connections. Authentication happens before
// the upgrade so a bad token gets a plain 401, not a WebSocket close.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		raw = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if raw == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	claims, err := s.issuer.Verify(raw, token.TypeUser)
	if err != nil {
		logger.Warn("gateway auth rejected", "error", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Warn("websocket accept", "error", err)
		return
	}
	defer wsConn.CloseNow()

	ctx := r.Context()
	c := &conn{
		srv:    s,
		ws:     wsConn,
		ctx:    ctx,
		id:     uuid.New().String()[:8],
		userID: claims.Subject,
	}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	logger.Info("client connected", "conn", c.id, "user", c.userID)
	defer c.cleanup()

	c.readLoop()
}

// conn is one WebSocket client. It is the Viewer for at most one PTY
// session, the Sink for at most one chat run, and the Prompter for the
// chats it started.
type conn struct {
	srv    *Server
	ws     *websocket.Conn
	ctx    context.Context
	id     string
	userID string
}

func (c *conn) cleanup() {
	c.srv.mu.Lock()
	delete(c.srv.conns, c)
	c.srv.mu.Unlock()

	c.srv.registry.Detach(c)
	c.srv.chats.Cancel(c.id)
	c.srv.perms.UnregisterAll(c)
	logger.Info("client disconnected", "conn", c.id, "user", c.userID)
}

// send marshals v and writes it with a bounded deadline. One writer at
// a time; coder/websocket serializes concurrent Write calls itself.
func (c *conn) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("gateway marshal", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		logger.Debug("gateway write failed", "conn", c.id, "error", err)
	}
}

func (c *conn) sendError(msg, code string) {
	c.send(ErrorMsg{Type: TypeError, Message: msg, Code: code})
}

func (c *conn) readLoop() {
	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			return
		}
		if c.srv.meter != nil {
			if err := c.srv.meter.Wait(c.ctx, c.userID, len(data)); err != nil {
				return
			}
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError("malformed message", "bad_request")
			continue
		}
		c.dispatch(env.Type, data)
	}
}

func (c *conn) dispatch(msgType string, data []byte) {
	switch msgType {
	case TypeSessionCreate:
		var msg SessionCreate
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("malformed session.create", "bad_request")
			return
		}
		c.handleSessionCreate(msg)
	case TypeSessionAttach:
		var msg SessionAttach
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("malformed session.attach", "bad_request")
			return
		}
		c.handleSessionAttach(msg)
	case TypeSessionDetach:
		c.srv.registry.Detach(c)
	case TypeSessionInput:
		var msg SessionInput
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.handleSessionInput(msg)
	case TypeSessionResize:
		var msg SessionResize
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		if sess, err := c.srv.registry.Get(msg.SessionID); err == nil {
			sess.Resize(msg.Cols, msg.Rows)
		}
	case TypeSessionKill:
		var msg SessionKill
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		if err := c.srv.registry.Kill(msg.SessionID); err != nil {
			c.sendError("session not found", "not_found")
		}
	case TypeSessionRename:
		var msg SessionRename
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		if err := c.srv.registry.Rename(msg.SessionID, msg.Title); err != nil {
			c.sendError("session not found", "not_found")
		}
	case TypeSessionList:
		var msg SessionList
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		var infos []term.Info
		if msg.ProjectID != "" {
			infos = c.srv.registry.ListByProject(msg.ProjectID)
		} else {
			infos = c.srv.registry.List()
		}
		if infos == nil {
			infos = []term.Info{}
		}
		c.send(SessionSync{Type: TypeSessionSync, Sessions: infos})
	case TypeChatSend:
		var msg ChatSend
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("malformed chat.send", "bad_request")
			return
		}
		c.handleChatSend(msg)
	case TypeChatCancel:
		c.srv.chats.Cancel(c.id)
	case TypePermResponse:
		var msg PermResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("malformed permission.response", "bad_request")
			return
		}
		d := bridge.Decision{
			Behavior:     msg.Behavior,
			Message:      msg.Message,
			UpdatedInput: msg.UpdatedInput,
		}
		if err := c.srv.perms.Resolve(msg.RequestID, d); err != nil {
			if errors.Is(err, bridge.ErrNotFound) {
				c.sendError("permission request already settled", "settled")
			} else {
				c.sendError(err.Error(), "")
			}
		}
	default:
		c.sendError("unknown message type: "+msgType, "bad_request")
	}
}

func (c *conn) handleSessionCreate(msg SessionCreate) {
	sess, err := c.srv.registry.Create(term.CreateOptions{
		Cols:      msg.Cols,
		Rows:      msg.Rows,
		ProjectID: msg.ProjectID,
		UserID:    c.userID,
		Title:     msg.Title,
	})
	if err != nil {
		if errors.Is(err, term.ErrCapacity) {
			c.sendError("session limit reached", "capacity")
		} else {
			c.sendError(err.Error(), "")
		}
		return
	}

	// The creator is attached immediately; no replay needed for a
	// brand new session.
	c.send(SessionCreated{Type: TypeSessionCreated, SessionID: sess.ID, CWD: sess.CWD})
	if _, err := c.srv.registry.Attach(sess.ID, c, msg.Cols, msg.Rows, false); err != nil {
		c.sendError(err.Error(), "")
	}
}

func (c *conn) handleSessionAttach(msg SessionAttach) {
	if _, err := c.srv.registry.Get(msg.SessionID); err != nil {
		c.sendError("session not found", "not_found")
		return
	}
	// Confirm first: the replay arrives through SessionOutput during
	// Attach, and it should land after the attached frame.
	c.send(SessionAttached{Type: TypeSessionAttached, SessionID: msg.SessionID})
	if _, err := c.srv.registry.Attach(msg.SessionID, c, msg.Cols, msg.Rows, msg.Replay); err != nil {
		c.sendError("session not found", "not_found")
	}
}

func (c *conn) handleSessionInput(msg SessionInput) {
	sess, err := c.srv.registry.Get(msg.SessionID)
	if err != nil {
		c.sendError("session not found", "not_found")
		return
	}
	data, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		c.sendError("bad input encoding", "bad_request")
		return
	}
	if err := sess.Write(data); err != nil {
		c.sendError("session not found", "not_found")
	}
}

func (c *conn) handleChatSend(msg ChatSend) {
	if strings.TrimSpace(msg.Prompt) == "" {
		c.sendError("prompt required", "bad_request")
		return
	}
	chatID := msg.ChatID
	if chatID == "" {
		chatID = uuid.New().String()[:8]
	}

	// The permission context must exist before the subprocess does, or
	// an early hook call would be denied for want of a route.
	c.srv.perms.Register(chatID, c)

	_, err := c.srv.chats.Submit(chat.SubmitOptions{
		Owner:     c.id,
		ChatID:    chatID,
		Prompt:    msg.Prompt,
		ResumeID:  msg.ResumeID,
		ProjectID: msg.ProjectID,
		UserID:    c.userID,
	}, c)
	if err != nil {
		c.srv.perms.Unregister(chatID)
		c.sendError(err.Error(), "")
		return
	}
	c.send(ChatStarted{Type: TypeChatStarted, ChatID: chatID})
}

// SessionOutput implements term.Viewer.
func (c *conn) SessionOutput(sessionID string, data []byte) {
	c.send(SessionOutput{
		Type:      TypeSessionOutput,
		SessionID: sessionID,
		Data:      base64.StdEncoding.EncodeToString(data),
	})
}

// SessionExited implements term.Viewer.
func (c *conn) SessionExited(sessionID string, exitCode int) {
	c.send(SessionExited{Type: TypeSessionExited, SessionID: sessionID, ExitCode: exitCode})
}

// ChatEvent implements chat.Sink.
func (c *conn) ChatEvent(chatID string, ev chat.Event) {
	out := ChatEvent{
		Type:      TypeChatEvent,
		ChatID:    chatID,
		EventType: ev.Type,
		Raw:       ev.Raw,
		Text:      ev.Text,
		ExitCode:  ev.ExitCode,
		ResumeID:  ev.ResumeID,
		Error:     ev.Error,
	}
	if ev.Tool != nil {
		out.Tool = &ChatTool{
			Name:     ev.Tool.Name,
			Category: string(ev.Tool.Category),
			Summary:  ev.Tool.Summary,
		}
	}
	c.send(out)

	// The run is over; outstanding permission requests die with it.
	if ev.Type == chat.EventDone {
		c.srv.perms.Unregister(chatID)
	}
}

// PermissionRequest implements bridge.Prompter.
func (c *conn) PermissionRequest(req bridge.Request) {
	c.send(PermRequest{
		Type:      TypePermRequest,
		RequestID: req.ID,
		ChatID:    req.ChatID,
		Tool:      req.Tool,
		Category:  string(req.Category),
		Summary:   req.Summary,
		Input:     req.Input,
	})
}
