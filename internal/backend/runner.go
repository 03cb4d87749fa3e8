package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultGracePeriod = 5 * time.Second
	stoppedSummary     = "Execution stopped"
)

// Sink receives the lifecycle of one execution. Calls are not concurrent
// with each other except InputRequest, which may race with Output.
type Sink interface {
	Started()
	Output(chunk string)
	InputRequest()
	Complete(summary string)
	Error(message string)
}

// command describes how to run a source file for one language.
type command struct {
	binary string
	file   string
	args   []string // placed before the file name
}

var defaultCommands = map[string]command{
	"python":     {binary: "python3", file: "main.py", args: []string{"-u"}},
	"javascript": {binary: "node", file: "main.js"},
	"ruby":       {binary: "ruby", file: "main.rb"},
	"php":        {binary: "php", file: "main.php"},
	"go":         {binary: "go", file: "main.go", args: []string{"run"}},
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// WorkDir is where per-execution temp dirs are made. Empty uses the
	// system temp dir.
	WorkDir string
	// GracePeriod is the wait between interrupt and kill on stop.
	GracePeriod time.Duration
	// InputIdle is how long a live process must be silent after output
	// before an input request is announced. Zero disables announcements.
	InputIdle time.Duration
	// MaxExecution bounds a run. Zero means unbounded.
	MaxExecution time.Duration
}

// Runner spawns interpreter subprocesses for submitted code.
type Runner struct {
	cfg      RunnerConfig
	commands map[string]command
	log      zerolog.Logger
}

func NewRunner(cfg RunnerConfig, log zerolog.Logger) *Runner {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	commands := make(map[string]command, len(defaultCommands))
	for k, v := range defaultCommands {
		commands[k] = v
	}
	return &Runner{cfg: cfg, commands: commands, log: log.With().Str("component", "runner").Logger()}
}

// Languages lists the languages this runner can execute on this host.
func (r *Runner) Languages() []string {
	var out []string
	for lang, cmd := range r.commands {
		if _, err := exec.LookPath(cmd.binary); err == nil {
			out = append(out, lang)
		}
	}
	return out
}

// stdinWriter wraps the child's stdin with mutex protection.
type stdinWriter struct {
	mu     sync.Mutex
	writer io.WriteCloser
	closed bool
}

func (sw *stdinWriter) Write(data []byte) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return fmt.Errorf("stdin pipe closed")
	}
	_, err := sw.writer.Write(data)
	return err
}

func (sw *stdinWriter) Close() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if !sw.closed {
		sw.writer.Close()
		sw.closed = true
	}
}

// Execution is one running program.
type Execution struct {
	ID string

	cmd    *exec.Cmd
	ctx    context.Context
	cancel context.CancelFunc
	stdin  *stdinWriter
	dir    string
	sink   Sink
	cfg    RunnerConfig
	log    zerolog.Logger
	done   chan struct{}

	mu        sync.Mutex
	stopped   bool
	exited    bool
	requested bool
	idle      *time.Timer
}

// outputWriter forwards process output to the sink. It is shared by
// stdout and stderr, so os/exec serialises its writes.
type outputWriter struct{ e *Execution }

func (w *outputWriter) Write(p []byte) (int, error) {
	w.e.output(string(p))
	return len(p), nil
}

// Start writes code to a fresh temp dir and runs it. The returned
// Execution reports to sink until Complete or Error.
func (r *Runner) Start(language, code string, sink Sink) (*Execution, error) {
	spec, ok := r.commands[language]
	if !ok {
		return nil, fmt.Errorf("no runner configured for language %q", language)
	}
	binaryPath, err := exec.LookPath(spec.binary)
	if err != nil {
		return nil, fmt.Errorf("%s not found in PATH", spec.binary)
	}

	dir, err := os.MkdirTemp(r.cfg.WorkDir, "codecollab-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, spec.file), []byte(code), 0o644); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("write source: %w", err)
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if r.cfg.MaxExecution > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), r.cfg.MaxExecution)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	args := append(append([]string{}, spec.args...), spec.file)
	cmd := exec.CommandContext(ctx, binaryPath, args...)
	cmd.Dir = dir
	cmd.WaitDelay = r.cfg.GracePeriod

	e := &Execution{
		ID:     uuid.New().String(),
		cmd:    cmd,
		ctx:    ctx,
		cancel: cancel,
		dir:    dir,
		sink:   sink,
		cfg:    r.cfg,
		done:   make(chan struct{}),
	}
	e.log = r.log.With().Str("execution", e.ID).Str("language", language).Logger()

	out := &outputWriter{e: e}
	cmd.Stdout = out
	cmd.Stderr = out

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		os.RemoveAll(dir)
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	e.stdin = &stdinWriter{writer: stdinPipe}

	if err := cmd.Start(); err != nil {
		cancel()
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to start %s: %w", spec.binary, err)
	}

	e.log.Info().Int("pid", cmd.Process.Pid).Msg("execution started")
	sink.Started()
	e.armIdle()

	go e.wait()
	return e, nil
}

func (e *Execution) output(chunk string) {
	e.mu.Lock()
	e.requested = false
	e.mu.Unlock()

	e.sink.Output(chunk)
	e.armIdle()
}

// armIdle (re)starts the quiet-period timer.
func (e *Execution) armIdle() {
	if e.cfg.InputIdle <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.exited || e.stopped {
		return
	}
	if e.idle != nil {
		e.idle.Stop()
	}
	e.idle = time.AfterFunc(e.cfg.InputIdle, e.quiet)
}

// quiet announces a probable blocked read, once per quiet period.
func (e *Execution) quiet() {
	e.mu.Lock()
	if e.exited || e.stopped || e.requested {
		e.mu.Unlock()
		return
	}
	e.requested = true
	e.mu.Unlock()

	e.sink.InputRequest()
}

// Input writes one line to the program's stdin.
func (e *Execution) Input(text string) error {
	if err := e.stdin.Write([]byte(text + "\n")); err != nil {
		return err
	}
	e.mu.Lock()
	e.requested = false
	e.mu.Unlock()
	e.armIdle()
	return nil
}

// Stop interrupts the program and kills it after the grace period. The
// execution then completes with "Execution stopped".
func (e *Execution) Stop() {
	e.mu.Lock()
	if e.exited || e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	if e.idle != nil {
		e.idle.Stop()
	}
	e.mu.Unlock()

	e.log.Info().Msg("stopping execution")
	if err := e.cmd.Process.Signal(os.Interrupt); err != nil {
		e.cancel()
		return
	}

	// Give it time to exit gracefully, then force kill.
	go func() {
		select {
		case <-time.After(e.cfg.GracePeriod):
			e.cancel()
		case <-e.done:
		}
	}()
}

// Done is closed once the execution has reported its outcome.
func (e *Execution) Done() <-chan struct{} { return e.done }

func (e *Execution) wait() {
	err := e.cmd.Wait()

	e.mu.Lock()
	e.exited = true
	stopped := e.stopped
	if e.idle != nil {
		e.idle.Stop()
	}
	e.mu.Unlock()

	e.stdin.Close()
	timedOut := errors.Is(e.ctx.Err(), context.DeadlineExceeded)
	e.cancel()
	os.RemoveAll(e.dir)

	exitCode := -1
	if e.cmd.ProcessState != nil {
		exitCode = e.cmd.ProcessState.ExitCode()
	}
	e.log.Info().Int("exit_code", exitCode).Bool("stopped", stopped).Err(err).Msg("execution finished")

	switch {
	case stopped:
		e.sink.Complete(stoppedSummary)
	case timedOut:
		e.sink.Error(fmt.Sprintf("Execution timed out after %s", e.cfg.MaxExecution))
	default:
		e.sink.Complete(fmt.Sprintf("Exit code: %d", exitCode))
	}
	close(e.done)
}
