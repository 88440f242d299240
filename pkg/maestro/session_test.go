package maestro

import (
	"encoding/json"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/flutterctl/pkg/core"
)

// fakeTransport scripts subprocess behavior for session tests.
type fakeTransport struct {
	mu      sync.Mutex
	lines   chan []byte
	alive   bool
	started bool

	startErr error
	// handle decides the reply for each request; a nil response means no
	// reply at all (simulates a hang).
	handle func(req controlRequest) *controlResponse
	// delay postpones each reply.
	delay time.Duration

	// inFlight tracks overlapping round trips for the serialization test.
	inFlight    int32
	maxInFlight int32
}

func newFakeTransport(handle func(req controlRequest) *controlResponse) *fakeTransport {
	return &fakeTransport{handle: handle}
}

func (f *fakeTransport) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = make(chan []byte, 16)
	f.alive = true
	f.started = true
	return nil
}

func (f *fakeTransport) Send(line []byte) error {
	var req controlRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return err
	}
	cur := atomic.AddInt32(&f.inFlight, 1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, cur) {
			break
		}
	}
	go func() {
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		resp := f.handle(req)
		// Decrement before delivering so the reply never races the next
		// caller's increment.
		atomic.AddInt32(&f.inFlight, -1)
		if resp == nil {
			return
		}
		data, _ := json.Marshal(resp)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.alive {
			f.lines <- data
		}
	}()
	return nil
}

func (f *fakeTransport) Responses() <-chan []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lines
}

func (f *fakeTransport) Kill() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.alive {
		f.alive = false
		close(f.lines)
	}
}

func (f *fakeTransport) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func newTestSession(factory func() transport) *Session {
	return &Session{state: StateUnstarted, newTransport: factory}
}

func okHandler(req controlRequest) *controlResponse {
	return &controlResponse{ID: req.ID, Success: true, Output: "Flow Passed"}
}

func TestSession_RunFlowSuccess(t *testing.T) {
	tr := newFakeTransport(okHandler)
	s := newTestSession(func() transport { return tr })

	out, err := s.RunFlow("appId: x\n---\n- tapOn: Go", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Flow Passed", out.Stdout)
	assert.Equal(t, StateReady, s.State())
}

func TestSession_FlowFailureKeepsSessionHealthy(t *testing.T) {
	tr := newFakeTransport(func(req controlRequest) *controlResponse {
		return &controlResponse{ID: req.ID, Success: false, Error: "Unable to find element: Submit"}
	})
	s := newTestSession(func() transport { return tr })

	_, err := s.RunFlow("flow", time.Second)
	require.Error(t, err)
	assert.Equal(t, core.ErrKindElementNotFound, core.KindOf(err))
	assert.Equal(t, StateReady, s.State(), "element-level failure must not degrade the session")
}

func TestSession_SerializesRoundTrips(t *testing.T) {
	tr := newFakeTransport(okHandler)
	tr.delay = 20 * time.Millisecond
	s := newTestSession(func() transport { return tr })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RunFlow("flow", time.Second)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&tr.maxInFlight), int32(1),
		"persistent session must never have two in-flight round trips")
}

func TestSession_DiscardsStaleResponses(t *testing.T) {
	tr := newFakeTransport(func(req controlRequest) *controlResponse {
		return &controlResponse{ID: req.ID, Success: true}
	})
	s := newTestSession(func() transport { return tr })

	// Prime the session so the transport exists, then inject a stale line.
	_, err := s.RunFlow("flow", time.Second)
	require.NoError(t, err)
	stale, _ := json.Marshal(controlResponse{ID: 999, Success: false, Error: "stale"})
	tr.lines <- stale

	out, err := s.RunFlow("flow", time.Second)
	require.NoError(t, err, "a stale response must not be delivered to the next caller")
	assert.NotNil(t, out)
}

func TestSession_TwoTimeoutsTriggerRespawnAndRetry(t *testing.T) {
	var spawned int32
	hang := func(controlRequest) *controlResponse { return nil }

	s := newTestSession(func() transport {
		n := atomic.AddInt32(&spawned, 1)
		if n <= 1 {
			return newFakeTransport(hang)
		}
		return newFakeTransport(okHandler)
	})

	// First timeout: surfaced, no respawn.
	_, err := s.RunFlow("flow", 30*time.Millisecond)
	require.Equal(t, core.ErrKindTimeout, core.KindOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&spawned))

	// Second consecutive timeout: degrade, respawn, retry once; the fresh
	// subprocess answers, so the call succeeds.
	_, err = s.RunFlow("flow", 30*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&spawned))
	assert.Equal(t, StateReady, s.State())
}

func TestSession_DeadSubprocessRespawnsTransparently(t *testing.T) {
	var spawned int32
	s := newTestSession(func() transport {
		n := atomic.AddInt32(&spawned, 1)
		tr := newFakeTransport(okHandler)
		if n == 1 {
			// First subprocess dies on first use.
			tr.handle = func(controlRequest) *controlResponse {
				tr.Kill()
				return nil
			}
		}
		return tr
	})

	_, err := s.RunFlow("flow", time.Second)
	require.NoError(t, err, "a dead subprocess should respawn and retry the call once")
	assert.Equal(t, int32(2), atomic.LoadInt32(&spawned))
}

func TestSession_RespawnCapSurfacesFatalError(t *testing.T) {
	s := newTestSession(func() transport {
		tr := newFakeTransport(okHandler)
		tr.startErr = assert.AnError
		return tr
	})

	var err error
	for i := 0; i < maxConsecutiveRespawns; i++ {
		_, err = s.RunFlow("flow", 50*time.Millisecond)
		require.Equal(t, core.ErrKindProcess, core.KindOf(err))
	}
	_, err = s.RunFlow("flow", 50*time.Millisecond)
	require.Equal(t, core.ErrKindProcess, core.KindOf(err))
	assert.Contains(t, err.Error(), "consecutive respawns")
}

func TestSession_InitialSpawnDoesNotConsumeRespawnBudget(t *testing.T) {
	// Every subprocess dies on first use, so no round trip ever succeeds
	// and the respawn counter is never reset. The initial spawn is not a
	// respawn: the budget must cover the full maxConsecutiveRespawns
	// replacements on top of it.
	var spawned int32
	s := newTestSession(func() transport {
		atomic.AddInt32(&spawned, 1)
		tr := newFakeTransport(nil)
		tr.handle = func(controlRequest) *controlResponse {
			tr.Kill()
			return nil
		}
		return tr
	})

	// Each call spawns twice (initial attempt plus the retry after the
	// transparent respawn) until the budget runs out.
	_, err := s.RunFlow("flow", time.Second)
	require.Equal(t, core.ErrKindProcess, core.KindOf(err))
	assert.NotContains(t, err.Error(), "consecutive respawns")

	_, err = s.RunFlow("flow", time.Second)
	require.Equal(t, core.ErrKindProcess, core.KindOf(err))
	assert.NotContains(t, err.Error(), "consecutive respawns")

	_, err = s.RunFlow("flow", time.Second)
	require.Equal(t, core.ErrKindProcess, core.KindOf(err))
	assert.Contains(t, err.Error(), "consecutive respawns")

	assert.Equal(t, int32(1+maxConsecutiveRespawns), atomic.LoadInt32(&spawned),
		"one initial spawn plus the full respawn budget")
}

func TestProcTransport_KillUnblocksScanner(t *testing.T) {
	before := runtime.NumGoroutine()

	// Emit far more lines than the channel buffers, with nobody draining,
	// so the scanner goroutine blocks mid-send.
	tr := newProcTransport("/bin/sh", "-c", "seq 1 100; sleep 10")
	require.NoError(t, tr.Start())
	time.Sleep(100 * time.Millisecond)

	tr.Kill()
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 2*time.Second, 20*time.Millisecond, "scanner goroutine should exit after Kill")
	assert.False(t, tr.Alive())
}

func TestSession_MalformedResponseIsParseError(t *testing.T) {
	tr := newFakeTransport(okHandler)
	s := newTestSession(func() transport { return tr })
	_, err := s.RunFlow("flow", time.Second)
	require.NoError(t, err)

	tr.lines <- []byte("{not json")
	_, err = s.RunFlow("flow", time.Second)
	assert.Equal(t, core.ErrKindParse, core.KindOf(err))
}
