package collab

import "strings"

// ExecState is the lifecycle of the session's single execution.
type ExecState int

const (
	Idle ExecState = iota
	Starting
	Running
	WaitingForInput
	Completed
	Errored
)

func (s ExecState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case WaitingForInput:
		return "waiting_for_input"
	case Completed:
		return "completed"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Live reports whether an execution is in flight.
func (s ExecState) Live() bool {
	return s == Starting || s == Running || s == WaitingForInput
}

const (
	startingBanner   = "Starting execution...\n"
	finishedTrailer  = "\n\nExecution finished.\n"
	stoppedMarker    = "Execution stopped"
	unknownErrorText = "Unknown error"
)

// executor holds the execution state machine and its output buffer.
// At most one execution is in flight; start is rejected while Live.
type executor struct {
	state  ExecState
	output strings.Builder

	// ran is the code of the in-flight execution, cleared on stop.
	ran *CodeState

	// suppressStop drops the next "Execution stopped" completion once.
	suppressStop bool

	sink func(string)
}

func (e *executor) write(s string) {
	if s == "" {
		return
	}
	e.output.WriteString(s)
	if e.sink != nil {
		e.sink(s)
	}
}

// begin starts a new run and drops any pending stop suppression.
func (e *executor) begin(code CodeState) {
	e.suppressStop = false
	e.output.Reset()
	e.write(startingBanner)
	e.state = Starting
	e.ran = &code
}

func (e *executor) started() {
	if e.state != Starting {
		e.output.Reset()
		e.write(startingBanner)
	}
	e.state = Running
}

func (e *executor) inputRequested() {
	if e.state == Running || e.state == Starting {
		e.state = WaitingForInput
	}
}

// input echoes the line into the buffer before it is transmitted.
func (e *executor) input(text string) {
	e.write(text + "\n")
	e.state = Running
}

// complete applies an execution_complete. It reports whether the message
// was swallowed by the suppress flag.
func (e *executor) complete(summary string) bool {
	suppressed := false
	if e.suppressStop && strings.Contains(summary, stoppedMarker) {
		e.suppressStop = false
		suppressed = true
	} else {
		if summary != "" {
			e.write("\n" + summary)
		}
		e.write(finishedTrailer)
	}
	if e.state.Live() {
		e.state = Completed
	}
	e.ran = nil
	return suppressed
}

func (e *executor) fail(msg string) {
	if msg == "" {
		msg = unknownErrorText
	}
	e.write("\n[System Error]: " + msg + "\n")
	if e.state.Live() {
		e.state = Errored
	}
	e.ran = nil
}

// stop is optimistic: the state returns to idle without waiting for the
// server's confirmation.
func (e *executor) stop() {
	e.state = Idle
	e.ran = nil
}

func (e *executor) clear() { e.output.Reset() }

func (e *executor) Output() string { return e.output.String() }
