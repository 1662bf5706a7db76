package chat

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/token"
	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/workspace"
)

type recordSink struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
	once   sync.Once
}

func newRecordSink() *recordSink {
	return &recordSink{done: make(chan struct{})}
}

func (s *recordSink) ChatEvent(chatID string, ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	if ev.Type == EventDone {
		s.once.Do(func() { close(s.done) })
	}
}

func (s *recordSink) waitDone(t *testing.T) []Event {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(10 * time.Second):
		t.Fatal("run never emitted done event")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func scriptFactory(script string) CommandFactory {
	return func(ctx context.Context, command string, args []string, cwd string, env []string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, "/bin/sh", "-c", script)
		cmd.Dir = cwd
		cmd.Env = env
		return cmd
	}
}

func testRunner(t *testing.T, cfg Config, factory CommandFactory) *Runner {
	t.Helper()
	if cfg.Command == "" {
		cfg.Command = "claude"
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 10 * time.Second
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = time.Hour
	}
	issuer := token.NewIssuer([]byte("0123456789abcdef0123456789abcdef"))
	ws := &workspace.DirResolver{Root: t.TempDir()}
	r := NewRunner(cfg, issuer, ws, factory)
	t.Cleanup(r.Close)
	return r
}

func TestStreamParsesAndEnriches(t *testing.T) {
	script := `
echo '{"type":"system","session_id":"conv-1"}'
echo '{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","input":{"command":"ls"}}]}}'
echo 'garbage not json'
echo '{"type":"result","session_id":"conv-9"}'
`
	r := testRunner(t, Config{}, scriptFactory(script))
	sink := newRecordSink()

	chatID, err := r.Submit(SubmitOptions{Owner: "conn-1", Prompt: "list files", UserID: "u1"}, sink)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if chatID == "" {
		t.Fatal("empty chat id")
	}

	events := sink.waitDone(t)

	var tool *ToolUse
	var sawRaw, sawSystem bool
	for _, ev := range events {
		switch ev.Type {
		case EventTool:
			tool = ev.Tool
		case EventRaw:
			if ev.Text == "garbage not json" {
				sawRaw = true
			}
		case "system":
			sawSystem = true
		}
	}

	if !sawSystem {
		t.Error("structured system event not forwarded")
	}
	if !sawRaw {
		t.Error("malformed line not forwarded as raw event")
	}
	if tool == nil {
		t.Fatal("no tool event emitted")
	}
	if tool.Category != CategoryCommand {
		t.Errorf("tool category = %q, want command", tool.Category)
	}
	if tool.Summary != "ls" {
		t.Errorf("tool summary = %q, want ls", tool.Summary)
	}

	last := events[len(events)-1]
	if last.Type != EventDone {
		t.Errorf("last event = %q, want done", last.Type)
	}
	if last.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", last.ExitCode)
	}
	if last.ResumeID != "conv-9" {
		t.Errorf("resume id = %q, want conv-9 (from terminating event)", last.ResumeID)
	}
}

func TestStartupSilenceTimesOut(t *testing.T) {
	r := testRunner(t, Config{StartupTimeout: 100 * time.Millisecond}, scriptFactory("sleep 30"))
	sink := newRecordSink()

	start := time.Now()
	if _, err := r.Submit(SubmitOptions{Owner: "conn-1", Prompt: "hi"}, sink); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	events := sink.waitDone(t)

	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("timeout took %s", elapsed)
	}
	last := events[len(events)-1]
	if last.Error != "startup timed out" {
		t.Errorf("done error = %q, want startup timed out", last.Error)
	}
	if last.ExitCode == 0 {
		t.Error("exit code 0 for killed process")
	}
}

func TestCancelTerminatesRun(t *testing.T) {
	script := `echo '{"type":"system"}'; sleep 30`
	r := testRunner(t, Config{}, scriptFactory(script))
	sink := newRecordSink()

	if _, err := r.Submit(SubmitOptions{Owner: "conn-1", Prompt: "hi"}, sink); err != nil {
		t.Fatal(err)
	}
	// Let the first event arrive so the watchdog is satisfied.
	deadline := time.After(10 * time.Second)
	for {
		sink.mu.Lock()
		n := len(sink.events)
		sink.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no output from scripted run")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if !r.Cancel("conn-1") {
		t.Fatal("Cancel reported no active run")
	}
	sink.waitDone(t)

	if id := r.ActiveChatID("conn-1"); id != "" {
		t.Errorf("active chat after cancel = %q", id)
	}
	// Cancelling again is a safe no-op.
	if r.Cancel("conn-1") {
		t.Error("second Cancel reported an active run")
	}
}

func TestSubmitCancelsPreviousRun(t *testing.T) {
	script := `echo '{"type":"system"}'; sleep 30`
	r := testRunner(t, Config{}, scriptFactory(script))
	first := newRecordSink()

	firstID, err := r.Submit(SubmitOptions{Owner: "conn-1", Prompt: "one"}, first)
	if err != nil {
		t.Fatal(err)
	}

	second := newRecordSink()
	secondID, err := r.Submit(SubmitOptions{Owner: "conn-1", Prompt: "two"}, second)
	if err != nil {
		t.Fatal(err)
	}
	if firstID == secondID {
		t.Error("chat ids not distinct")
	}

	// The first run was torn down before the second started.
	first.waitDone(t)
	if id := r.ActiveChatID("conn-1"); id != secondID {
		t.Errorf("active chat = %q, want %q", id, secondID)
	}
}

func TestResumeFlagPassedToAgent(t *testing.T) {
	var mu sync.Mutex
	var gotArgs []string
	factory := func(ctx context.Context, command string, args []string, cwd string, env []string) *exec.Cmd {
		mu.Lock()
		gotArgs = append([]string(nil), args...)
		mu.Unlock()
		cmd := exec.CommandContext(ctx, "/bin/sh", "-c", "echo '{\"type\":\"result\"}'")
		cmd.Dir = cwd
		cmd.Env = env
		return cmd
	}
	r := testRunner(t, Config{}, factory)
	sink := newRecordSink()

	if _, err := r.Submit(SubmitOptions{Owner: "c", Prompt: "continue", ResumeID: "conv-7"}, sink); err != nil {
		t.Fatal(err)
	}
	sink.waitDone(t)

	mu.Lock()
	defer mu.Unlock()
	var found bool
	for i, a := range gotArgs {
		if a == "--resume" && i+1 < len(gotArgs) && gotArgs[i+1] == "conv-7" {
			found = true
		}
	}
	if !found {
		t.Errorf("args missing --resume conv-7: %v", gotArgs)
	}
}
