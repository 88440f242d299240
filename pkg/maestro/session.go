package maestro

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/devicelab-dev/flutterctl/pkg/core"
	"github.com/devicelab-dev/flutterctl/pkg/logger"
)

// SessionState is the lifecycle state of the persistent control subprocess.
type SessionState int

const (
	// StateUnstarted means no subprocess has been spawned yet.
	StateUnstarted SessionState = iota
	// StateStarting means a subprocess is being spawned.
	StateStarting
	// StateReady means the subprocess is accepting commands.
	StateReady
	// StateDegraded means the subprocess misbehaved and will be respawned.
	StateDegraded
	// StateDead means the subprocess exited; the next call respawns it.
	StateDead
)

// String returns the string representation of SessionState.
func (s SessionState) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// transport is one live control subprocess speaking newline-framed JSON
// over stdin/stdout. Tests inject fakes; production uses procTransport.
type transport interface {
	Start() error
	Send(line []byte) error
	// Responses yields stdout lines; the channel closes when the
	// subprocess exits.
	Responses() <-chan []byte
	Kill()
	Alive() bool
}

// controlRequest is one command sent to the control subprocess.
type controlRequest struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Flow   string `json:"flow,omitempty"`
	Device string `json:"device,omitempty"`
}

// controlResponse is the subprocess's reply, correlated by id.
type controlResponse struct {
	ID      int64  `json:"id"`
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

const (
	maxConsecutiveRespawns = 3
	respawnInitialInterval = 100 * time.Millisecond
)

// Session owns the persistent control-and-command subprocess. At most one
// command is in flight at a time: the protocol has no multiplexing, so the
// mutex is held for the full round trip and concurrent callers queue.
//
// A dead subprocess, or two consecutive timeouts, degrades the session; it
// is killed and respawned on the spot and the current call retried once
// before failure surfaces. Respawns are bounded so a persistently broken
// binary becomes a fatal process error instead of a spawn loop.
type Session struct {
	mu    sync.Mutex
	state SessionState

	tr           transport
	newTransport func() transport

	nextID              int64
	consecutiveTimeouts int
	respawns            int
	device              string
}

// NewSession creates an unstarted session for the given binary. The
// subprocess is spawned lazily on first use.
func NewSession(binPath, device string) *Session {
	return &Session{
		state:  StateUnstarted,
		device: device,
		newTransport: func() transport {
			return newProcTransport(binPath, "mcp")
		},
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RunFlow executes one flow through the control subprocess, blocking the
// caller for at most timeout. Late responses for abandoned commands are
// consumed and discarded by id comparison, never delivered to a waiter.
func (s *Session) RunFlow(flowYAML string, timeout time.Duration) (*RunOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReadyLocked(); err != nil {
		return nil, err
	}

	out, err := s.roundTripLocked(flowYAML, timeout)
	if err == nil {
		s.consecutiveTimeouts = 0
		s.respawns = 0
		return out, nil
	}

	switch core.KindOf(err) {
	case core.ErrKindTimeout:
		s.consecutiveTimeouts++
		if s.consecutiveTimeouts < 2 {
			return nil, err
		}
		logger.Warn("control session timed out twice, respawning")
	case core.ErrKindProcess:
		// Subprocess exited mid-call.
	default:
		// Flow-level failure (element not found etc.): session is healthy.
		s.consecutiveTimeouts = 0
		return out, err
	}

	// Degrade, respawn, retry the current call once.
	s.degradeLocked()
	if rerr := s.ensureReadyLocked(); rerr != nil {
		return nil, rerr
	}
	out, err = s.roundTripLocked(flowYAML, timeout)
	if err == nil {
		s.consecutiveTimeouts = 0
		s.respawns = 0
	}
	return out, err
}

// Close terminates the subprocess. Safe to call in any state.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tr != nil {
		s.tr.Kill()
		s.tr = nil
	}
	s.state = StateDead
}

func (s *Session) degradeLocked() {
	s.state = StateDegraded
	if s.tr != nil {
		s.tr.Kill()
		s.tr = nil
	}
	s.consecutiveTimeouts = 0
}

// ensureReadyLocked spawns (or respawns) the subprocess if needed,
// transparent to callers, bounded by the consecutive-respawn cap.
func (s *Session) ensureReadyLocked() error {
	if s.state == StateReady && s.tr != nil && s.tr.Alive() {
		return nil
	}
	if s.respawns >= maxConsecutiveRespawns {
		return core.ErrProcess.
			WithMessage(fmt.Sprintf("control subprocess failed %d consecutive respawns", s.respawns)).
			WithBackend(core.BackendAccessibilityLayer)
	}

	// The first spawn of a fresh session is not a respawn and must not
	// consume the budget; every later spawn, and every failed start, does.
	respawn := s.state != StateUnstarted

	s.state = StateStarting
	if s.tr != nil {
		s.tr.Kill()
		s.tr = nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = respawnInitialInterval
	b.MaxElapsedTime = 10 * time.Second

	tr := s.newTransport()
	err := backoff.Retry(func() error {
		return tr.Start()
	}, backoff.WithMaxRetries(b, 2))
	if err != nil {
		s.state = StateDead
		s.respawns++
		return core.ErrProcess.
			WithMessage("failed to start control subprocess").
			WithCause(err).
			WithBackend(core.BackendAccessibilityLayer)
	}

	s.tr = tr
	s.state = StateReady
	if respawn {
		s.respawns++
		logger.Info("control subprocess respawned (%d consecutive)", s.respawns)
	} else {
		logger.Info("control subprocess started")
	}
	return nil
}

// roundTripLocked performs exactly one correlated exchange. The caller
// holds the session mutex.
func (s *Session) roundTripLocked(flowYAML string, timeout time.Duration) (*RunOutput, error) {
	s.nextID++
	id := s.nextID

	req := controlRequest{ID: id, Method: "runFlow", Flow: flowYAML, Device: s.device}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, core.ErrValidation.WithMessage("unencodable control request").WithCause(err)
	}
	if err := s.tr.Send(append(line, '\n')); err != nil {
		s.state = StateDead
		return nil, core.ErrProcess.
			WithMessage("control subprocess write failed").
			WithCause(err).
			WithBackend(core.BackendAccessibilityLayer)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case raw, ok := <-s.tr.Responses():
			if !ok {
				s.state = StateDead
				return nil, core.ErrProcess.
					WithMessage("control subprocess exited").
					WithBackend(core.BackendAccessibilityLayer)
			}
			var resp controlResponse
			if err := json.Unmarshal(raw, &resp); err != nil {
				return nil, core.ErrParse.
					WithMessage("control subprocess emitted malformed response").
					WithCause(err).
					WithBackend(core.BackendAccessibilityLayer)
			}
			if resp.ID != id {
				// Late reply to an abandoned command. Discard.
				logger.Debug("discarding stale control response id=%d (want %d)", resp.ID, id)
				continue
			}
			out := &RunOutput{Stdout: resp.Output}
			if resp.Success {
				return out, nil
			}
			return out, classifyFailure(resp.Error)

		case <-deadline.C:
			return nil, core.ErrTimeout.
				WithMessage(fmt.Sprintf("no control response within %s", timeout)).
				WithBackend(core.BackendAccessibilityLayer)
		}
	}
}

// classifyFailure maps a control-protocol error message onto the closed
// error taxonomy using the same markers as the one-shot parser.
func classifyFailure(msg string) *core.AutomationError {
	if msg == "" {
		return core.ErrParse.
			WithMessage("control response failed without an error message").
			WithBackend(core.BackendAccessibilityLayer)
	}
	_, err := Parse(1, "", msg)
	return core.AsAutomationError(err).WithBackend(core.BackendAccessibilityLayer)
}

// procTransport runs the real subprocess.
type procTransport struct {
	path string
	args []string

	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan []byte
	quit  chan struct{}
	alive bool
	mu    sync.Mutex
}

func newProcTransport(path string, args ...string) *procTransport {
	return &procTransport{path: path, args: args}
}

func (t *procTransport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cmd := exec.Command(t.path, t.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = logger.GetWriter()
	if err := cmd.Start(); err != nil {
		return err
	}

	t.cmd = cmd
	t.stdin = stdin
	t.alive = true
	t.lines = make(chan []byte, 8)
	t.quit = make(chan struct{})
	quit := t.quit

	go func() {
		scanner := bufio.NewScanner(stdout)
		// Screenshot payloads can exceed bufio's 64KB default line limit.
		scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			select {
			case t.lines <- line:
			case <-quit:
				// Killed with nobody draining; stop reading and reap.
				_ = cmd.Wait()
				t.mu.Lock()
				t.alive = false
				t.mu.Unlock()
				return
			}
		}
		close(t.lines)
		_ = cmd.Wait()
		t.mu.Lock()
		t.alive = false
		t.mu.Unlock()
	}()
	return nil
}

func (t *procTransport) Send(line []byte) error {
	_, err := t.stdin.Write(line)
	return err
}

func (t *procTransport) Responses() <-chan []byte { return t.lines }

func (t *procTransport) Kill() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	if t.quit != nil {
		close(t.quit)
		t.quit = nil
	}
	t.alive = false
}

func (t *procTransport) Alive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.alive
}
