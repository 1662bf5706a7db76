package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/logger"
	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/safeenv"
	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/token"
	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/workspace"
)

// CommandFactory builds the one-shot agent process. Tests substitute a
// scripted shell.
type CommandFactory func(ctx context.Context, command string, args []string, cwd string, env []string) *exec.Cmd

func defaultCommandFactory(ctx context.Context, command string, args []string, cwd string, env []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = cwd
	cmd.Env = env
	return cmd
}

// Config bounds chat runs.
type Config struct {
	Command        string // agent CLI binary
	PermissionTool string // --permission-prompt-tool value, empty disables
	StartupTimeout time.Duration
	TokenTTL       time.Duration
	ProxyURL       string
	PermissionURL  string // hook endpoint handed to the spawned process
}

// Runner spawns one non-interactive agent subprocess per submitted
// message and streams parsed events to the caller's sink. At most one
// run is active per owner; submitting again cancels the previous run.
type Runner struct {
	cfg        Config
	issuer     *token.Issuer
	workspaces workspace.Resolver
	newCommand CommandFactory

	mu   sync.Mutex
	runs map[string]*run // keyed by owner (connection id)
}

type run struct {
	chatID string
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRunner(cfg Config, issuer *token.Issuer, ws workspace.Resolver, factory CommandFactory) *Runner {
	if factory == nil {
		factory = defaultCommandFactory
	}
	return &Runner{
		cfg:        cfg,
		issuer:     issuer,
		workspaces: ws,
		newCommand: factory,
		runs:       make(map[string]*run),
	}
}

// SubmitOptions describe one chat message.
type SubmitOptions struct {
	Owner     string // connection identity; one active run per owner
	ChatID    string // pre-generated so permission state can be registered before spawn
	Prompt    string
	ResumeID  string // prior conversation id, empty starts fresh
	ProjectID string
	UserID    string
}

// Submit cancels any active run for the owner, then spawns the agent
// and streams its output to sink until exit. Returns the chat id.
func (r *Runner) Submit(opts SubmitOptions, sink Sink) (string, error) {
	if opts.ChatID == "" {
		opts.ChatID = uuid.New().String()[:8]
	}

	// One active run per owner: terminate the predecessor and wait for
	// its goroutine to finish so events never interleave.
	r.Cancel(opts.Owner)

	cwd, err := r.workspaces.Resolve(opts.ProjectID)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}

	agentToken, err := r.issuer.IssueAgent(opts.ChatID, opts.ProjectID, opts.UserID, r.cfg.TokenTTL)
	if err != nil {
		return "", fmt.Errorf("issue agent token: %w", err)
	}

	env := safeenv.Build(map[string]string{
		"DECK_CHAT_ID":        opts.ChatID,
		"DECK_PROJECT_ID":     opts.ProjectID,
		"DECK_AGENT_TOKEN":    agentToken,
		"DECK_PROXY_URL":      r.cfg.ProxyURL,
		"DECK_PERMISSION_URL": r.cfg.PermissionURL,
	})

	args := []string{"-p", opts.Prompt, "--output-format", "stream-json", "--verbose"}
	if r.cfg.PermissionTool != "" {
		args = append(args, "--permission-prompt-tool", r.cfg.PermissionTool)
	}
	if opts.ResumeID != "" {
		args = append(args, "--resume", opts.ResumeID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := r.newCommand(ctx, r.cfg.Command, args, cwd, safeenv.Slice(env))
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	// No interactive input is ever sent to a one-shot run; stdin stays
	// connected to the null device.
	if err := cmd.Start(); err != nil {
		cancel()
		return "", fmt.Errorf("start %s: %w", r.cfg.Command, err)
	}

	active := &run{chatID: opts.ChatID, cancel: cancel, done: make(chan struct{})}
	r.mu.Lock()
	r.runs[opts.Owner] = active
	r.mu.Unlock()

	logger.Info("chat run started", "chat", opts.ChatID, "owner", opts.Owner, "resume", opts.ResumeID != "")
	go r.stream(opts.Owner, active, cmd, stdout, sink)
	return opts.ChatID, nil
}

// stream is the run's read loop: split stdout on newlines, parse each
// line, forward events, and emit the terminal done event last.
func (r *Runner) stream(owner string, active *run, cmd *exec.Cmd, stdout io.Reader, sink Sink) {
	defer close(active.done)
	defer r.clear(owner, active)

	var (
		mu        sync.Mutex
		gotOutput bool
		timedOut  bool
	)
	watchdog := time.AfterFunc(r.cfg.StartupTimeout, func() {
		mu.Lock()
		defer mu.Unlock()
		if !gotOutput {
			timedOut = true
			active.cancel()
		}
	})
	defer watchdog.Stop()

	var resumeID string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		mu.Lock()
		gotOutput = true
		mu.Unlock()

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if id, events := parseLine(line); len(events) > 0 {
			if id != "" {
				resumeID = id
			}
			for _, ev := range events {
				sink.ChatEvent(active.chatID, ev)
			}
		}
	}

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}

	done := Event{Type: EventDone, ExitCode: exitCode, ResumeID: resumeID}
	mu.Lock()
	if timedOut {
		done.Error = "startup timed out"
	}
	mu.Unlock()

	logger.Info("chat run finished", "chat", active.chatID, "code", exitCode, "error", done.Error)
	sink.ChatEvent(active.chatID, done)
}

// parseLine turns one output line into events. Malformed JSON becomes
// a raw event so the viewer always sees something. A session id in the
// line is returned for resumption.
func parseLine(line []byte) (resumeID string, events []Event) {
	var parsed streamLine
	if err := json.Unmarshal(line, &parsed); err != nil || parsed.Type == "" {
		return "", []Event{{Type: EventRaw, Text: string(line)}}
	}

	events = append(events, Event{Type: parsed.Type, Raw: append(json.RawMessage(nil), line...)})
	if parsed.Message != nil {
		for _, block := range parsed.Message.Content {
			if block.Type != "tool_use" {
				continue
			}
			events = append(events, Event{
				Type: EventTool,
				Tool: &ToolUse{
					Name:     block.Name,
					Category: Classify(block.Name),
					Summary:  Summarize(block.Name, block.Input),
					Input:    block.Input,
				},
			})
		}
	}
	return parsed.SessionID, events
}

// Cancel terminates the owner's active run, if any, and waits for its
// event stream to finish. Safe to call when nothing is running.
func (r *Runner) Cancel(owner string) bool {
	r.mu.Lock()
	active := r.runs[owner]
	r.mu.Unlock()
	if active == nil {
		return false
	}

	active.cancel()
	<-active.done
	return true
}

// ActiveChatID returns the owner's running chat id, or "".
func (r *Runner) ActiveChatID(owner string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if active := r.runs[owner]; active != nil {
		return active.chatID
	}
	return ""
}

// Close cancels every active run.
func (r *Runner) Close() {
	r.mu.Lock()
	owners := make([]string, 0, len(r.runs))
	for owner := range r.runs {
		owners = append(owners, owner)
	}
	r.mu.Unlock()

	for _, owner := range owners {
		r.Cancel(owner)
	}
}

// clear removes the run entry if it is still the owner's current run.
func (r *Runner) clear(owner string, active *run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs[owner] == active {
		delete(r.runs, owner)
	}
}
