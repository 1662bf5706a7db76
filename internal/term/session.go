package term

import (
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/logger"
)

// Viewer receives output and lifecycle events for the session a
// connection is attached to. The session holds viewers by reference
// only; connection lifetime belongs to the gateway.
type Viewer interface {
	SessionOutput(sessionID string, data []byte)
	SessionExited(sessionID string, exitCode int)
}

// Session is one live PTY-backed interactive process. The session
// exclusively owns its process handle and scrollback; all access goes
// through its methods.
type Session struct {
	ID        string
	UserID    string
	ProjectID string
	CWD       string
	CreatedAt time.Time

	mu         sync.Mutex
	title      string
	cols, rows int
	lastActive time.Time
	exited     bool
	exitCode   int

	cmd     *exec.Cmd
	ptmx    *os.File
	buf     *outputBuffer
	scroll  *scrollback
	viewers map[Viewer]struct{}

	readDone chan struct{} // closed when readPTY has drained the PTY
}

// Info is a read-only snapshot for listing.
type Info struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UserID    string    `json:"user_id"`
	ProjectID string    `json:"project_id,omitempty"`
	CWD       string    `json:"cwd,omitempty"`
	Cols      int       `json:"cols"`
	Rows      int       `json:"rows"`
	Viewers   int       `json:"viewers"`
	Exited    bool      `json:"exited"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:        s.ID,
		Title:     s.title,
		UserID:    s.UserID,
		ProjectID: s.ProjectID,
		CWD:       s.CWD,
		Cols:      s.cols,
		Rows:      s.rows,
		Viewers:   len(s.viewers),
		Exited:    s.exited,
		CreatedAt: s.CreatedAt,
	}
}

// Write sends input bytes to the PTY and refreshes last activity.
func (s *Session) Write(p []byte) error {
	s.mu.Lock()
	if s.exited {
		s.mu.Unlock()
		return ErrNotFound
	}
	ptmx := s.ptmx
	s.lastActive = time.Now()
	s.mu.Unlock()

	_, err := ptmx.Write(p)
	return err
}

// Resize changes the terminal dimensions.
func (s *Session) Resize(cols, rows int) {
	s.mu.Lock()
	if s.exited {
		s.mu.Unlock()
		return
	}
	s.cols, s.rows = cols, rows
	s.lastActive = time.Now()
	ptmx := s.ptmx
	s.mu.Unlock()

	pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Scrollback returns a copy of the retained output for replay.
func (s *Session) Scrollback() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scroll.Bytes()
}

func (s *Session) Exited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited
}

// attach registers v and, when replay is requested, delivers the
// retained scrollback to it while still holding the lock emit appends
// under. A chunk is therefore either in the replay or delivered live,
// never both, and the replay reaches v before any later chunk can.
func (s *Session) attach(v Viewer, replay bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewers[v] = struct{}{}
	s.lastActive = time.Now()
	if replay {
		if backlog := s.scroll.Bytes(); len(backlog) > 0 {
			v.SessionOutput(s.ID, backlog)
		}
	}
}

// detach removes v. Reports whether v was attached.
func (s *Session) detach(v Viewer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.viewers[v]; !ok {
		return false
	}
	delete(s.viewers, v)
	return true
}

func (s *Session) viewerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

func (s *Session) idleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActive)
}

// emit appends a flushed chunk to scrollback and fans it out to every
// attached viewer. Runs from the output buffer's flush path, so chunk
// order follows process-output order. The scrollback append and the
// viewer snapshot share one critical section with attach, so a viewer
// attaching mid-stream sees each chunk exactly once.
func (s *Session) emit(chunk []byte) {
	s.mu.Lock()
	s.scroll.Append(chunk)
	s.lastActive = time.Now()
	viewers := make([]Viewer, 0, len(s.viewers))
	for v := range s.viewers {
		viewers = append(viewers, v)
	}
	s.mu.Unlock()

	for _, v := range viewers {
		v.SessionOutput(s.ID, chunk)
	}
}

// readPTY pumps raw process output into the coalescing buffer until
// the PTY closes, then signals waitExit that everything the process
// wrote has reached the buffer.
func (s *Session) readPTY() {
	defer close(s.readDone)
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			s.buf.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// waitExit blocks on process exit, drains the PTY, forces a final
// flush, then notifies viewers. The drain and flush happen before the
// exit notification so no output is lost.
func (s *Session) waitExit() {
	exitCode := 0
	if err := s.cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}

	// Bytes written just before exit may still be in the kernel PTY
	// buffer; wait for the reader to hit EIO. The timeout covers a
	// grandchild keeping the PTY open after the session process died.
	select {
	case <-s.readDone:
	case <-time.After(5 * time.Second):
		logger.Warn("pty not drained after exit", "session", s.ID)
	}

	s.buf.Close()
	s.ptmx.Close()

	s.mu.Lock()
	s.exited = true
	s.exitCode = exitCode
	viewers := make([]Viewer, 0, len(s.viewers))
	for v := range s.viewers {
		viewers = append(viewers, v)
	}
	s.mu.Unlock()

	logger.Info("session exited", "session", s.ID, "code", exitCode)
	for _, v := range viewers {
		v.SessionExited(s.ID, exitCode)
	}
}

// terminate signals the process. Safe to call on an already-exited
// session.
func (s *Session) terminate() {
	s.mu.Lock()
	cmd := s.cmd
	exited := s.exited
	s.mu.Unlock()
	if exited || cmd == nil || cmd.Process == nil {
		return
	}
	cmd.Process.Signal(syscall.SIGTERM)
}
