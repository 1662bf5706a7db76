package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/chat"
	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/logger"
)

var (
	// ErrNotFound means the request id is unknown or already settled.
	ErrNotFound = errors.New("bridge: no such pending request")
)

const (
	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// Decision is the verdict returned to a waiting agent subprocess.
type Decision struct {
	Behavior     string          `json:"behavior"`
	Message      string          `json:"message,omitempty"`
	UpdatedInput json.RawMessage `json:"updatedInput,omitempty"`
}

func deny(msg string) Decision {
	return Decision{Behavior: BehaviorDeny, Message: msg}
}

// Request is a permission question surfaced to whoever owns the chat.
type Request struct {
	ID       string          `json:"id"`
	ChatID   string          `json:"chat_id"`
	Tool     string          `json:"tool"`
	Category chat.Category   `json:"category"`
	Summary  string          `json:"summary"`
	Input    json.RawMessage `json:"input,omitempty"`
}

// Prompter receives permission requests for a chat it registered.
// Implementations must not block; the bridge calls it while holding no
// locks but from the agent's HTTP handler goroutine.
type Prompter interface {
	PermissionRequest(req Request)
}

type pending struct {
	chatID string
	answer chan Decision
	timer  *time.Timer
}

type chatContext struct {
	prompter Prompter
	requests map[string]struct{}
}

// Bridge routes permission requests from agent subprocesses to the
// transport client that owns the chat, and routes the decision back.
// Every request settles exactly once: explicit resolve, timeout, or
// teardown, whichever wins.
type Bridge struct {
	timeout time.Duration

	mu       sync.Mutex
	contexts map[string]*chatContext
	pending  map[string]*pending
}

func New(timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Bridge{
		timeout:  timeout,
		contexts: make(map[string]*chatContext),
		pending:  make(map[string]*pending),
	}
}

// Register binds a chat id to a prompter. Must happen before the agent
// subprocess can ask anything, or those requests are denied.
func (b *Bridge) Register(chatID string, p Prompter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.contexts[chatID] = &chatContext{
		prompter: p,
		requests: make(map[string]struct{}),
	}
}

// Unregister tears down a chat's context and denies everything still
// waiting on it.
func (b *Bridge) Unregister(chatID string) {
	b.mu.Lock()
	cc := b.contexts[chatID]
	delete(b.contexts, chatID)
	var ids []string
	if cc != nil {
		for id := range cc.requests {
			ids = append(ids, id)
		}
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.settle(id, deny("session ended"))
	}
}

// UnregisterAll is shutdown cleanup for a prompter that owned several
// chats.
func (b *Bridge) UnregisterAll(p Prompter) {
	b.mu.Lock()
	var chatIDs []string
	for id, cc := range b.contexts {
		if cc.prompter == p {
			chatIDs = append(chatIDs, id)
		}
	}
	b.mu.Unlock()

	for _, id := range chatIDs {
		b.Unregister(id)
	}
}

// Request blocks until the chat's owner answers, the timeout fires, the
// chat is torn down, or ctx is cancelled. Unknown chat ids are denied
// immediately rather than left hanging.
func (b *Bridge) Request(ctx context.Context, chatID, tool string, input json.RawMessage) Decision {
	b.mu.Lock()
	cc, ok := b.contexts[chatID]
	if !ok {
		b.mu.Unlock()
		logger.Warn("permission request for unknown chat", "chat_id", chatID, "tool", tool)
		return deny("no active session for this request")
	}

	req := Request{
		ID:       uuid.New().String()[:8],
		ChatID:   chatID,
		Tool:     tool,
		Category: chat.Classify(tool),
		Summary:  chat.Summarize(tool, input),
		Input:    input,
	}
	p := &pending{
		chatID: chatID,
		answer: make(chan Decision, 1),
	}
	p.timer = time.AfterFunc(b.timeout, func() {
		b.settle(req.ID, deny("timed out"))
	})
	b.pending[req.ID] = p
	cc.requests[req.ID] = struct{}{}
	prompter := cc.prompter
	b.mu.Unlock()

	logger.Info("permission requested", "chat_id", chatID, "request_id", req.ID, "tool", tool, "summary", req.Summary)
	prompter.PermissionRequest(req)

	select {
	case d := <-p.answer:
		return d
	case <-ctx.Done():
		b.settle(req.ID, deny("request abandoned"))
		// settle may have lost the race to a real answer; prefer it.
		select {
		case d := <-p.answer:
			return d
		default:
			return deny("request abandoned")
		}
	}
}

// Resolve delivers the owner's verdict. The second resolve for the same
// id, or a resolve after timeout/teardown, returns ErrNotFound.
func (b *Bridge) Resolve(requestID string, d Decision) error {
	if d.Behavior != BehaviorAllow {
		d.Behavior = BehaviorDeny
	}
	return b.settle(requestID, d)
}

// settle is the single point where a request leaves the pending map.
// Whoever gets there first wins; everyone else sees ErrNotFound.
func (b *Bridge) settle(requestID string, d Decision) error {
	b.mu.Lock()
	p, ok := b.pending[requestID]
	if !ok {
		b.mu.Unlock()
		return ErrNotFound
	}
	delete(b.pending, requestID)
	if cc := b.contexts[p.chatID]; cc != nil {
		delete(cc.requests, requestID)
	}
	b.mu.Unlock()

	p.timer.Stop()
	p.answer <- d
	logger.Info("permission settled", "request_id", requestID, "behavior", d.Behavior, "reason", d.Message)
	return nil
}

// Pending reports how many requests are currently unanswered.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
