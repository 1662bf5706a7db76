package term

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/logger"
	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/safeenv"
	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/store"
	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/token"
	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/workspace"
)

var (
	// ErrCapacity is returned when the concurrent session ceiling is hit.
	// Existing sessions are never evicted to make room.
	ErrCapacity = errors.New("session limit reached")
	// ErrNotFound is returned for operations on unknown or exited sessions.
	ErrNotFound = errors.New("session not found")
)

// CommandFactory builds the session process for a resolved working
// directory and sanitized environment. Tests substitute a shell.
type CommandFactory func(cwd string, env []string) *exec.Cmd

// AgentCommand is the production factory: it launches the configured
// agent CLI interactively in the session's workspace.
func AgentCommand(command string) CommandFactory {
	return func(cwd string, env []string) *exec.Cmd {
		cmd := exec.Command(command)
		cmd.Dir = cwd
		cmd.Env = env
		return cmd
	}
}

// Config bounds the registry's resources.
type Config struct {
	MaxSessions    int
	Scrollback     int
	IdleTimeout    time.Duration
	ReapInterval   time.Duration
	FlushInterval  time.Duration
	FlushThreshold int
	TokenTTL       time.Duration
	ProxyURL       string
}

// Registry owns all live sessions. Connections hold references only;
// every mutation goes through registry or session methods.
type Registry struct {
	cfg        Config
	issuer     *token.Issuer
	workspaces workspace.Resolver
	records    *store.Store // optional; failures logged, not fatal
	newCommand CommandFactory

	mu       sync.Mutex
	sessions map[string]*Session
	byViewer map[Viewer]string // enforces one attached session per connection

	done chan struct{}
	once sync.Once
}

func NewRegistry(cfg Config, issuer *token.Issuer, ws workspace.Resolver, records *store.Store, factory CommandFactory) *Registry {
	r := &Registry{
		cfg:        cfg,
		issuer:     issuer,
		workspaces: ws,
		records:    records,
		newCommand: factory,
		sessions:   make(map[string]*Session),
		byViewer:   make(map[Viewer]string),
		done:       make(chan struct{}),
	}
	go r.reapLoop()
	return r
}

// CreateOptions describe a session creation request.
type CreateOptions struct {
	Cols, Rows int
	ProjectID  string
	UserID     string
	Title      string
}

// Create spawns a new PTY session, subject to the capacity ceiling.
func (r *Registry) Create(opts CreateOptions) (*Session, error) {
	r.mu.Lock()
	if len(r.sessions) >= r.cfg.MaxSessions {
		r.mu.Unlock()
		return nil, ErrCapacity
	}
	// Reserve the slot before the (slow) spawn.
	id := uuid.New().String()[:8]
	r.sessions[id] = nil
	r.mu.Unlock()

	sess, err := r.spawn(id, opts)
	r.mu.Lock()
	if err != nil {
		delete(r.sessions, id)
		r.mu.Unlock()
		return nil, err
	}
	r.sessions[id] = sess
	r.mu.Unlock()

	if r.records != nil {
		rec := &store.SessionRecord{
			ID:        sess.ID,
			Title:     opts.Title,
			UserID:    sess.UserID,
			ProjectID: sess.ProjectID,
			CWD:       sess.CWD,
			CreatedAt: sess.CreatedAt,
		}
		if err := r.records.PutSession(rec); err != nil {
			logger.Warn("persist session record", "session", sess.ID, "error", err)
		}
	}

	logger.Info("session created", "session", sess.ID, "user", opts.UserID, "project", opts.ProjectID)
	return sess, nil
}

func (r *Registry) spawn(id string, opts CreateOptions) (*Session, error) {
	cwd, err := r.workspaces.Resolve(opts.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	agentToken, err := r.issuer.IssueAgent(id, opts.ProjectID, opts.UserID, r.cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issue agent token: %w", err)
	}

	env := safeenv.Build(map[string]string{
		"DECK_SESSION_ID":  id,
		"DECK_PROJECT_ID":  opts.ProjectID,
		"DECK_AGENT_TOKEN": agentToken,
		"DECK_PROXY_URL":   r.cfg.ProxyURL,
	})

	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	// Termination goes through terminate()'s SIGTERM; factories build
	// plain commands, which reject a non-nil Cancel.
	cmd := r.newCommand(cwd, safeenv.Slice(env))

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	sess := &Session{
		ID:         id,
		UserID:     opts.UserID,
		ProjectID:  opts.ProjectID,
		CWD:        cwd,
		CreatedAt:  time.Now(),
		title:      opts.Title,
		cols:       cols,
		rows:       rows,
		lastActive: time.Now(),
		cmd:        cmd,
		ptmx:       ptmx,
		scroll:     newScrollback(r.cfg.Scrollback),
		viewers:    make(map[Viewer]struct{}),
		readDone:   make(chan struct{}),
	}
	sess.buf = newOutputBuffer(r.cfg.FlushThreshold, r.cfg.FlushInterval, sess.emit)

	go sess.readPTY()
	go sess.waitExit()
	return sess, nil
}

// Attach subscribes a viewer to a session, detaching it from any
// previously attached session first. When replay is set and scrollback
// is non-empty, the retained output is delivered to this viewer only
// (via SessionOutput, before any subsequent live chunk), not broadcast.
func (r *Registry) Attach(sessionID string, v Viewer, cols, rows int, replay bool) (*Session, error) {
	r.mu.Lock()
	sess := r.sessions[sessionID]
	if sess == nil {
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	if prevID, ok := r.byViewer[v]; ok && prevID != sessionID {
		if prev := r.sessions[prevID]; prev != nil {
			prev.detach(v)
		}
	}
	r.byViewer[v] = sessionID
	r.mu.Unlock()

	if cols > 0 && rows > 0 {
		sess.Resize(cols, rows)
	}
	sess.attach(v, replay)
	return sess, nil
}

// Detach removes the viewer from whatever session it watches. The
// session itself is unaffected.
func (r *Registry) Detach(v Viewer) {
	r.mu.Lock()
	sessionID, ok := r.byViewer[v]
	if ok {
		delete(r.byViewer, v)
	}
	sess := r.sessions[sessionID]
	r.mu.Unlock()

	if ok && sess != nil {
		sess.detach(v)
	}
}

// Get returns a live session by id.
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := r.sessions[sessionID]
	if sess == nil {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Kill terminates the process and removes the session. Idempotent:
// killing an unknown or already-exited session reports ErrNotFound or
// succeeds as a no-op respectively.
func (r *Registry) Kill(sessionID string) error {
	r.mu.Lock()
	sess := r.sessions[sessionID]
	if sess == nil {
		r.mu.Unlock()
		return ErrNotFound
	}
	r.removeLocked(sessionID)
	r.mu.Unlock()

	sess.terminate()
	return nil
}

// Rename updates the display title.
func (r *Registry) Rename(sessionID, title string) error {
	r.mu.Lock()
	sess := r.sessions[sessionID]
	r.mu.Unlock()
	if sess == nil {
		return ErrNotFound
	}

	sess.mu.Lock()
	sess.title = title
	sess.mu.Unlock()

	if r.records != nil {
		if err := r.records.RenameSession(sessionID, title); err != nil {
			logger.Warn("persist rename", "session", sessionID, "error", err)
		}
	}
	return nil
}

// List snapshots every live session.
func (r *Registry) List() []Info {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s != nil {
			sessions = append(sessions, s)
		}
	}
	r.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// ListByProject snapshots sessions belonging to one project.
func (r *Registry) ListByProject(projectID string) []Info {
	var infos []Info
	for _, info := range r.List() {
		if info.ProjectID == projectID {
			infos = append(infos, info)
		}
	}
	return infos
}

// Close stops the reaper and tears down every session.
func (r *Registry) Close() {
	r.once.Do(func() { close(r.done) })

	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		if s != nil {
			sessions = append(sessions, s)
		}
		r.removeLocked(id)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.terminate()
	}
}

// removeLocked drops the session from the registry tables and the
// persisted listing. Caller holds r.mu.
func (r *Registry) removeLocked(sessionID string) {
	delete(r.sessions, sessionID)
	for v, id := range r.byViewer {
		if id == sessionID {
			delete(r.byViewer, v)
		}
	}
	if r.records != nil {
		go func() {
			if err := r.records.DeleteSession(sessionID); err != nil {
				logger.Warn("remove session record", "session", sessionID, "error", err)
			}
		}()
	}
}

func (r *Registry) reapLoop() {
	ticker := time.NewTicker(r.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.reap()
		}
	}
}

// reap destroys exited sessions and abandoned ones: zero viewers and
// idle past the timeout. Sessions with a viewer are never evicted.
func (r *Registry) reap() {
	r.mu.Lock()
	var victims []*Session
	for id, s := range r.sessions {
		if s == nil {
			continue
		}
		if s.Exited() || (s.viewerCount() == 0 && s.idleFor() > r.cfg.IdleTimeout) {
			victims = append(victims, s)
			r.removeLocked(id)
		}
	}
	r.mu.Unlock()

	for _, s := range victims {
		logger.Info("session reaped", "session", s.ID, "exited", s.Exited())
		s.terminate()
	}
}
