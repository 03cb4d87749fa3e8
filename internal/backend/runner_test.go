package backend

import (
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	started  bool
	output   strings.Builder
	requests int
	summary  string
	err      string
	done     chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{done: make(chan struct{})}
}

func (s *recordingSink) Started() {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
}

func (s *recordingSink) Output(chunk string) {
	s.mu.Lock()
	s.output.WriteString(chunk)
	s.mu.Unlock()
}

func (s *recordingSink) InputRequest() {
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()
}

func (s *recordingSink) Complete(summary string) {
	s.mu.Lock()
	s.summary = summary
	s.mu.Unlock()
	close(s.done)
}

func (s *recordingSink) Error(message string) {
	s.mu.Lock()
	s.err = message
	s.mu.Unlock()
	close(s.done)
}

func (s *recordingSink) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(10 * time.Second):
		t.Fatal("execution did not finish")
	}
}

func (s *recordingSink) text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output.String()
}

func (s *recordingSink) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// shellRunner runs "shell" code with sh so the tests need no interpreter
// beyond a POSIX shell.
func shellRunner(t *testing.T, cfg RunnerConfig) *Runner {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = t.TempDir()
	}
	r := NewRunner(cfg, zerolog.Nop())
	r.commands["shell"] = command{binary: "sh", file: "main.sh"}
	return r
}

func TestRunner_UnknownLanguage(t *testing.T) {
	r := NewRunner(RunnerConfig{}, zerolog.Nop())
	_, err := r.Start("cobol", "DISPLAY 'HI'.", newRecordingSink())
	assert.ErrorContains(t, err, "cobol")
}

func TestRunner_OutputAndExitCode(t *testing.T) {
	r := shellRunner(t, RunnerConfig{})
	sink := newRecordingSink()

	_, err := r.Start("shell", "echo hello\necho oops >&2\nexit 3\n", sink)
	require.NoError(t, err)
	sink.wait(t)

	assert.True(t, sink.started)
	assert.Contains(t, sink.text(), "hello\n")
	assert.Contains(t, sink.text(), "oops\n")
	assert.Equal(t, "Exit code: 3", sink.summary)
}

func TestRunner_InputRoundTrip(t *testing.T) {
	r := shellRunner(t, RunnerConfig{InputIdle: 50 * time.Millisecond})
	sink := newRecordingSink()

	e, err := r.Start("shell", "printf 'name? '\nread name\necho \"hi $name\"\n", sink)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sink.requestCount() >= 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, e.Input("bob"))
	sink.wait(t)

	assert.Contains(t, sink.text(), "hi bob\n")
	assert.Equal(t, "Exit code: 0", sink.summary)
}

func TestRunner_Stop(t *testing.T) {
	r := shellRunner(t, RunnerConfig{GracePeriod: 200 * time.Millisecond})
	sink := newRecordingSink()

	e, err := r.Start("shell", "echo started\nsleep 30\n", sink)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return strings.Contains(sink.text(), "started") }, 5*time.Second, 10*time.Millisecond)

	e.Stop()
	e.Stop()
	sink.wait(t)

	assert.Equal(t, stoppedSummary, sink.summary)
	select {
	case <-e.Done():
	default:
		t.Error("expected Done to be closed")
	}
}

func TestRunner_Timeout(t *testing.T) {
	r := shellRunner(t, RunnerConfig{MaxExecution: 200 * time.Millisecond, GracePeriod: 100 * time.Millisecond})
	sink := newRecordingSink()

	_, err := r.Start("shell", "sleep 30\n", sink)
	require.NoError(t, err)
	sink.wait(t)

	assert.Contains(t, sink.err, "timed out")
}
