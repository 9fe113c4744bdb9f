package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/MPZ-00/m5squared/internal/config"
	"github.com/MPZ-00/m5squared/internal/drive"
	"github.com/MPZ-00/m5squared/internal/mapper"
)

// fakeInput is a scriptable input provider.
type fakeInput struct {
	started   bool
	stopped   bool
	startErr  error
	readPanic bool
	sample    *drive.ControlState
}

func (f *fakeInput) Start() error { f.started = true; return f.startErr }
func (f *fakeInput) Stop() error  { f.stopped = true; return nil }

func (f *fakeInput) ReadControlState() (drive.ControlState, bool) {
	if f.readPanic {
		panic("input provider fault")
	}
	if f.sample == nil {
		return drive.ControlState{}, false
	}
	return *f.sample, true
}

// fakeTransport records every interaction.
type fakeTransport struct {
	acceptConnect bool
	connected     bool
	failSends     bool
	connectCalls  int
	disconnects   int
	sent          []drive.CommandFrame
	state         *drive.VehicleState
}

func (f *fakeTransport) Connect(ctx context.Context, creds config.Credentials) bool {
	f.connectCalls++
	if f.acceptConnect {
		f.connected = true
	}
	return f.acceptConnect
}

func (f *fakeTransport) Disconnect() {
	f.connected = false
	f.disconnects++
}

func (f *fakeTransport) SendCommand(cmd drive.CommandFrame) bool {
	if f.failSends {
		return false
	}
	f.sent = append(f.sent, cmd)
	return true
}

func (f *fakeTransport) ReadState() (drive.VehicleState, bool) {
	if f.state == nil {
		return drive.VehicleState{}, false
	}
	return *f.state, true
}

func (f *fakeTransport) IsConnected() bool { return f.connected }

func (f *fakeTransport) lastSent() *drive.CommandFrame {
	if len(f.sent) == 0 {
		return nil
	}
	return &f.sent[len(f.sent)-1]
}

// fakeSink records published events.
type fakeSink struct {
	transitions [][2]drive.SupervisorState
	telemetry   []drive.VehicleState
	faults      []string
}

func (f *fakeSink) PublishState(oldState, newState drive.SupervisorState) {
	f.transitions = append(f.transitions, [2]drive.SupervisorState{oldState, newState})
}
func (f *fakeSink) PublishTelemetry(state drive.VehicleState) {
	f.telemetry = append(f.telemetry, state)
}
func (f *fakeSink) PublishFault(reason string) { f.faults = append(f.faults, reason) }

// fakeAudit records audit actions.
type fakeAudit struct {
	actions  []string
	outcomes []string
}

func (f *fakeAudit) LogAction(ctx context.Context, action, detail, outcome string, latency time.Duration) {
	f.actions = append(f.actions, action)
	f.outcomes = append(f.outcomes, outcome)
}

// harness bundles a supervisor with its fakes and a manual clock.
type harness struct {
	sup       *Supervisor
	input     *fakeInput
	transport *fakeTransport
	sink      *fakeSink
	audit     *fakeAudit
	clock     time.Time
}

func testConfig() config.SupervisorConfig {
	return config.SupervisorConfig{
		LoopInterval:         50 * time.Millisecond,
		InputTimeout:         500 * time.Millisecond,
		LinkTimeout:          2 * time.Second,
		HeartbeatInterval:    time.Second,
		ReconnectDelay:       10 * time.Millisecond,
		MaxReconnectAttempts: 3,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mapperCfg := config.Default().Mapper
	mapperCfg.Deadzone = 0
	mapperCfg.Curve = 1.0
	mapperCfg.RampRate = 1e9

	h := &harness{
		input:     &fakeInput{},
		transport: &fakeTransport{acceptConnect: true},
		sink:      &fakeSink{},
		audit:     &fakeAudit{},
		clock:     time.Unix(1000, 0),
	}
	h.sup = New(h.input, h.transport, mapper.New(mapperCfg), testConfig())
	h.sup.SetEventSink(h.sink)
	h.sup.SetAuditLogger(h.audit)
	h.sup.now = func() time.Time { return h.clock }
	h.sup.sleep = func(ctx context.Context, d time.Duration) {}
	return h
}

func (h *harness) advance(d time.Duration) { h.clock = h.clock.Add(d) }

func (h *harness) cycle() { h.sup.cycle(context.Background()) }

// feed runs a sample through the validating constructor and stamps it
// at the current clock.
func (h *harness) feed(vx, vy float64, deadman bool) {
	state, err := drive.NewControlState(vx, vy, deadman, drive.ModeFast)
	if err != nil {
		panic(err)
	}
	state.Timestamp = h.clock
	h.input.sample = &state
}

// engage feeds a driving sample: deadman held, stick deflected.
func (h *harness) engage(vx, vy float64) { h.feed(vx, vy, true) }

// hold feeds a neutral sample with the deadman held.
func (h *harness) hold() { h.feed(0, 0, true) }

// release feeds a neutral sample with the deadman released.
func (h *harness) release() { h.feed(0, 0, false) }

func testCreds() config.Credentials {
	return config.Credentials{
		LeftAddr:  "AA:BB:CC:DD:EE:01",
		RightAddr: "AA:BB:CC:DD:EE:02",
		LeftKey:   make([]byte, 16),
		RightKey:  make([]byte, 16),
	}
}

// pair drives the harness to PAIRED. The connect intent and the
// successful attempt both land in the same cycle.
func (h *harness) pair(t *testing.T) {
	t.Helper()
	h.sup.RequestConnect(testCreds())
	h.cycle()
	if h.sup.State() != drive.StatePaired {
		t.Fatalf("expected paired, got %v", h.sup.State())
	}
}

// arm drives the harness to ARMED.
func (h *harness) arm(t *testing.T) {
	t.Helper()
	h.pair(t)
	h.sup.RequestArm()
	h.cycle()
	if h.sup.State() != drive.StateArmed {
		t.Fatalf("expected armed, got %v", h.sup.State())
	}
}

// drivingState drives the harness to DRIVING with the stick engaged.
func (h *harness) drivingState(t *testing.T) {
	t.Helper()
	h.arm(t)
	h.engage(0.5, 0)
	h.cycle()
	if h.sup.State() != drive.StateDriving {
		t.Fatalf("expected driving, got %v", h.sup.State())
	}
}

func TestFullSessionLifecycle(t *testing.T) {
	h := newHarness(t)

	h.drivingState(t)

	// One driving cycle produces a motion command.
	h.advance(50 * time.Millisecond)
	h.engage(0.5, 0)
	h.cycle()

	last := h.transport.lastSent()
	if last == nil || last.IsStop() {
		t.Fatalf("expected a motion command while driving, got %+v", last)
	}

	// Disconnect request stops, tears down, and lands in DISCONNECTED.
	h.sup.RequestDisconnect()
	h.cycle()
	if h.sup.State() != drive.StateDisconnected {
		t.Errorf("expected disconnected after stop request, got %v", h.sup.State())
	}
	if h.transport.disconnects != 1 {
		t.Errorf("expected one transport disconnect, got %d", h.transport.disconnects)
	}
	if !h.transport.lastSent().IsStop() {
		t.Error("stop request must send a stop frame before disconnecting")
	}
}

func TestConnectIgnoredOutsideDisconnected(t *testing.T) {
	h := newHarness(t)
	h.pair(t)

	// New credentials while paired are stored but trigger no transition.
	h.sup.RequestConnect(testCreds())
	h.cycle()
	if h.sup.State() != drive.StatePaired {
		t.Errorf("connect request while paired must not change state, got %v", h.sup.State())
	}
}

func TestReconnectExhaustion(t *testing.T) {
	h := newHarness(t)
	h.transport.acceptConnect = false

	h.sup.RequestConnect(testCreds())

	// Attempts one and two fail but stay inside the budget.
	for i := 0; i < 2; i++ {
		h.cycle()
		if h.sup.State() != drive.StateConnecting {
			t.Fatalf("attempt %d: expected still connecting, got %v", i+1, h.sup.State())
		}
	}

	// The third failed attempt exhausts the budget.
	h.cycle()
	if h.sup.State() != drive.StateDisconnected {
		t.Fatalf("expected disconnected after exhaustion, got %v", h.sup.State())
	}
	if h.transport.connectCalls != 3 {
		t.Errorf("expected 3 connect attempts, got %d", h.transport.connectCalls)
	}

	found := false
	for _, outcome := range h.audit.outcomes {
		if outcome == "EXHAUSTED" {
			found = true
		}
	}
	if !found {
		t.Error("expected EXHAUSTED audit outcome")
	}
}

func TestReconnectCounterResetsOnNewRequest(t *testing.T) {
	h := newHarness(t)
	h.transport.acceptConnect = false

	h.sup.RequestConnect(testCreds())
	for i := 0; i < 3; i++ {
		h.cycle()
	}
	if h.sup.State() != drive.StateDisconnected {
		t.Fatalf("expected disconnected after exhaustion, got %v", h.sup.State())
	}

	// A fresh connect request restarts the attempt budget.
	h.transport.acceptConnect = true
	h.sup.RequestConnect(testCreds())
	h.cycle()
	if h.sup.State() != drive.StatePaired {
		t.Errorf("expected paired after retry with fresh budget, got %v", h.sup.State())
	}
}

func TestArmRequiresPaired(t *testing.T) {
	h := newHarness(t)

	// Arm while disconnected is dropped.
	h.sup.RequestArm()
	h.cycle()
	if h.sup.State() != drive.StateDisconnected {
		t.Errorf("arm while disconnected must be ignored, got %v", h.sup.State())
	}
}

func TestArmedNeutralStickSendsStop(t *testing.T) {
	h := newHarness(t)
	h.arm(t)

	h.hold()
	sent := len(h.transport.sent)
	h.cycle()

	if h.sup.State() != drive.StateArmed {
		t.Errorf("neutral stick must stay armed, got %v", h.sup.State())
	}
	if len(h.transport.sent) <= sent || !h.transport.lastSent().IsStop() {
		t.Error("armed with neutral stick must keep sending stop")
	}
}

func TestDrivingReleaseReturnsToArmed(t *testing.T) {
	h := newHarness(t)
	h.drivingState(t)

	// Deadman released: stop and fall back to ARMED.
	h.advance(50 * time.Millisecond)
	h.feed(0.5, 0, false)
	h.cycle()

	if h.sup.State() != drive.StateArmed {
		t.Errorf("expected armed after release, got %v", h.sup.State())
	}
	if !h.transport.lastSent().IsStop() {
		t.Error("release must send a stop frame")
	}
}

func TestDrivingInputLossReturnsToArmed(t *testing.T) {
	h := newHarness(t)
	h.drivingState(t)

	// Provider yields nothing this cycle.
	h.advance(50 * time.Millisecond)
	h.input.sample = nil
	h.cycle()

	if h.sup.State() != drive.StateArmed {
		t.Errorf("expected armed after input loss, got %v", h.sup.State())
	}
	if !h.transport.lastSent().IsStop() {
		t.Error("input loss must send a stop frame")
	}
}

func TestInputWatchdog(t *testing.T) {
	h := newHarness(t)
	h.arm(t)

	h.hold()
	h.cycle()

	// Freeze the input timestamp and advance past the timeout.
	h.advance(600 * time.Millisecond)
	h.cycle()

	if h.sup.State() != drive.StateFailsafe {
		t.Fatalf("expected failsafe after input timeout, got %v", h.sup.State())
	}
	if len(h.sink.faults) == 0 || h.sink.faults[0] != "input timeout" {
		t.Errorf("expected input timeout fault, got %v", h.sink.faults)
	}
	if !h.transport.lastSent().IsStop() {
		t.Error("failsafe entry must send a stop frame")
	}
}

func TestHeartbeatResendsLastCommand(t *testing.T) {
	h := newHarness(t)
	h.drivingState(t)

	h.advance(50 * time.Millisecond)
	h.engage(0.5, 0)
	h.cycle()
	motion := *h.transport.lastSent()
	if motion.IsStop() {
		t.Fatal("expected a motion command")
	}

	// Keep input fresh but let the heartbeat interval lapse.
	h.advance(1100 * time.Millisecond)
	h.engage(0.5, 0)
	sent := len(h.transport.sent)
	h.cycle()

	if len(h.transport.sent) < sent+2 {
		t.Fatalf("expected command plus heartbeat, got %d new frames", len(h.transport.sent)-sent)
	}
	hb := h.transport.lastSent()
	if hb.IsStop() {
		t.Error("heartbeat should resend the last motion command, not stop")
	}
}

func TestFailsafeIsSticky(t *testing.T) {
	h := newHarness(t)
	h.arm(t)

	h.hold()
	h.cycle()
	h.advance(600 * time.Millisecond)
	h.cycle()
	if h.sup.State() != drive.StateFailsafe {
		t.Fatalf("expected failsafe, got %v", h.sup.State())
	}

	// Arming or fresh input must not leave failsafe.
	h.sup.RequestArm()
	h.engage(1.0, 0)
	for i := 0; i < 5; i++ {
		h.cycle()
		if h.sup.State() != drive.StateFailsafe {
			t.Fatalf("failsafe must be sticky while connected, got %v", h.sup.State())
		}
	}
	if !h.transport.lastSent().IsStop() {
		t.Error("failsafe must keep commanding stop")
	}
}

func TestFailsafeExitsOnConnectionLoss(t *testing.T) {
	h := newHarness(t)
	h.arm(t)

	h.hold()
	h.cycle()
	h.advance(600 * time.Millisecond)
	h.cycle()
	if h.sup.State() != drive.StateFailsafe {
		t.Fatalf("expected failsafe, got %v", h.sup.State())
	}

	h.transport.connected = false
	h.cycle()
	if h.sup.State() != drive.StateDisconnected {
		t.Errorf("expected disconnected once the link drops, got %v", h.sup.State())
	}
}

func TestVehicleErrorTriggersFailsafe(t *testing.T) {
	h := newHarness(t)
	h.drivingState(t)

	h.advance(50 * time.Millisecond)
	h.engage(0.5, 0)
	h.transport.state = &drive.VehicleState{
		Errors:    []string{"MOTOR_TEMP"},
		Connected: true,
		Timestamp: h.clock,
	}
	h.cycle()

	if h.sup.State() != drive.StateFailsafe {
		t.Fatalf("expected failsafe on vehicle error, got %v", h.sup.State())
	}
	if len(h.sink.faults) == 0 || h.sink.faults[0] != "vehicle error: MOTOR_TEMP" {
		t.Errorf("unexpected fault reasons: %v", h.sink.faults)
	}
}

func TestTelemetryCachingAndFanout(t *testing.T) {
	h := newHarness(t)
	battery := 77
	h.transport.state = &drive.VehicleState{
		BatteryLeft: &battery,
		Connected:   true,
		Timestamp:   h.clock,
	}

	h.pair(t)
	h.cycle() // paired cycle reads telemetry

	cached := h.sup.VehicleState()
	if cached == nil || cached.BatteryLeft == nil || *cached.BatteryLeft != 77 {
		t.Errorf("expected cached battery 77, got %+v", cached)
	}
	if len(h.sink.telemetry) == 0 {
		t.Error("expected telemetry fanout to the event sink")
	}

	// The returned snapshot is a copy.
	*cached.BatteryLeft = 1
	again := h.sup.VehicleState()
	if *again.BatteryLeft != 77 {
		t.Error("VehicleState must return an isolated copy")
	}
}

func TestMapperResetOnFailsafe(t *testing.T) {
	h := newHarness(t)
	h.drivingState(t)

	h.advance(50 * time.Millisecond)
	h.engage(0.8, 0)
	h.cycle()
	if h.sup.mapper.LastCommand() == nil {
		t.Fatal("expected mapper memory while driving")
	}

	h.advance(600 * time.Millisecond)
	h.cycle() // input watchdog -> failsafe

	if h.sup.State() != drive.StateFailsafe {
		t.Fatalf("expected failsafe, got %v", h.sup.State())
	}
	if h.sup.mapper.LastCommand() != nil {
		t.Error("failsafe entry must reset mapper ramp memory")
	}
}

func TestStateCallbacksAndPanicContainment(t *testing.T) {
	h := newHarness(t)

	var calls [][2]drive.SupervisorState
	h.sup.AddStateCallback(func(oldState, newState drive.SupervisorState) {
		panic("observer bug")
	})
	h.sup.AddStateCallback(func(oldState, newState drive.SupervisorState) {
		calls = append(calls, [2]drive.SupervisorState{oldState, newState})
	})

	h.pair(t)

	if len(calls) != 2 {
		t.Fatalf("expected 2 transitions despite panicking observer, got %d", len(calls))
	}
	if calls[0] != [2]drive.SupervisorState{drive.StateDisconnected, drive.StateConnecting} {
		t.Errorf("unexpected first transition: %v", calls[0])
	}
	if calls[1] != [2]drive.SupervisorState{drive.StateConnecting, drive.StatePaired} {
		t.Errorf("unexpected second transition: %v", calls[1])
	}
	if len(h.sink.transitions) != 2 {
		t.Errorf("expected event sink to see 2 transitions, got %d", len(h.sink.transitions))
	}
}

func TestCyclePanicEntersFailsafe(t *testing.T) {
	h := newHarness(t)
	h.drivingState(t)

	// A faulting input provider makes the driving path panic.
	h.advance(50 * time.Millisecond)
	h.input.readPanic = true

	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("panic escaped runCycle: %v", r)
			}
		}()
		h.sup.runCycle(context.Background())
	}()

	if h.sup.State() != drive.StateFailsafe {
		t.Errorf("expected failsafe after cycle panic, got %v", h.sup.State())
	}
}

func TestRunLifecycleAndCleanup(t *testing.T) {
	h := newHarness(t)
	h.transport.connected = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sup.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancel")
	}

	if !h.input.started || !h.input.stopped {
		t.Error("Run must start and stop the input provider")
	}
	if h.transport.disconnects != 1 {
		t.Errorf("cleanup must disconnect once, got %d", h.transport.disconnects)
	}
	if !h.transport.lastSent().IsStop() {
		t.Error("cleanup must send a final stop frame")
	}
}

func TestRunFailsWhenInputWontStart(t *testing.T) {
	h := newHarness(t)
	h.input.startErr = context.DeadlineExceeded

	if err := h.sup.Run(context.Background()); err == nil {
		t.Error("expected error when input provider fails to start")
	}
}

func TestProfileAppliedAtCycleBoundary(t *testing.T) {
	h := newHarness(t)
	h.pair(t)

	tuning := h.sup.mapper.Tuning()
	tuning.MaxSpeedFast = 35
	tuning.RampRate = 28

	h.sup.RequestProfile("Soft", tuning)
	h.cycle()

	if got := h.sup.ActiveProfile(); got != "Soft" {
		t.Errorf("expected active profile Soft, got %q", got)
	}
	if got := h.sup.mapper.Tuning().MaxSpeedFast; got != 35 {
		t.Errorf("expected fast cap 35 after profile change, got %d", got)
	}
	found := false
	for i, action := range h.audit.actions {
		if action == "profile" && h.audit.outcomes[i] == "SUCCESS" {
			found = true
		}
	}
	if !found {
		t.Error("expected a profile audit entry")
	}
}

func TestProfileDeferredWhileDriving(t *testing.T) {
	h := newHarness(t)
	h.drivingState(t)

	tuning := h.sup.mapper.Tuning()
	tuning.MaxSpeedFast = 35

	h.sup.RequestProfile("Soft", tuning)
	h.advance(50 * time.Millisecond)
	h.engage(0.5, 0)
	h.cycle()

	if got := h.sup.ActiveProfile(); got != "" {
		t.Errorf("profile must not apply mid-drive, got %q", got)
	}
	if got := h.sup.mapper.Tuning().MaxSpeedFast; got == 35 {
		t.Error("tuning must not change mid-drive")
	}

	// Releasing the controls drops to ARMED; the queued profile lands
	// on the next cycle.
	h.advance(50 * time.Millisecond)
	h.release()
	h.cycle()
	if h.sup.State() != drive.StateArmed {
		t.Fatalf("expected armed after release, got %v", h.sup.State())
	}
	h.advance(50 * time.Millisecond)
	h.release()
	h.cycle()

	if got := h.sup.ActiveProfile(); got != "Soft" {
		t.Errorf("expected queued profile to apply after leaving driving, got %q", got)
	}
}

func TestLinkWatchdogEscalatesPersistentSendFailure(t *testing.T) {
	h := newHarness(t)
	// Push the heartbeat out of the way: its resend stamps the link
	// time even on failure, which would hide a dead link here.
	h.sup.cfg.HeartbeatInterval = time.Hour
	h.drivingState(t)

	h.transport.failSends = true

	// A single failed send is tolerated.
	h.advance(50 * time.Millisecond)
	h.engage(0.5, 0)
	h.cycle()
	if h.sup.State() != drive.StateDriving {
		t.Fatalf("one failed send must not escalate, got %v", h.sup.State())
	}

	// Input stays fresh every cycle while no send succeeds, so only the
	// link watchdog can fire once its timeout elapses.
	for i := 0; i < 50 && h.sup.State() == drive.StateDriving; i++ {
		h.advance(50 * time.Millisecond)
		h.engage(0.5, 0)
		h.cycle()
	}

	if h.sup.State() != drive.StateFailsafe {
		t.Fatalf("expected failsafe after link timeout, got %v", h.sup.State())
	}
	found := false
	for _, reason := range h.sink.faults {
		if reason == "link timeout" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a link timeout fault, got %v", h.sink.faults)
	}
}
