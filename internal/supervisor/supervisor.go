package supervisor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/MPZ-00/m5squared/internal/config"
	"github.com/MPZ-00/m5squared/internal/drive"
	"github.com/MPZ-00/m5squared/internal/mapper"
)

// Supervisor owns the control loop and the state machine that guards
// drive authority. It is the only caller of the input and transport
// capabilities for the session lifetime.
type Supervisor struct {
	input     InputProvider
	transport Transport
	mapper    *mapper.Mapper
	cfg       config.SupervisorConfig

	// mu guards state and the telemetry cache, the only fields exposed
	// for concurrent read-only observation.
	mu      sync.RWMutex
	state   drive.SupervisorState
	vehicle *drive.VehicleState
	profile string

	// intentMu guards the fire-and-forget request slots consumed at the
	// top of each cycle.
	intentMu       sync.Mutex
	pendingCreds   *config.Credentials
	armRequested   bool
	stopRequested  bool
	pendingTuning  *config.MapperConfig
	pendingProfile string

	// Watchdog stamps. Zero means "never", the sentinel that keeps a
	// watchdog quiet until its liveness source fires at least once.
	lastInputTime     time.Time
	lastLinkTime      time.Time
	lastHeartbeatTime time.Time

	reconnectAttempts int
	creds             config.Credentials

	callbacks []StateCallback
	events    EventSink
	audit     AuditLogger

	cleanupOnce sync.Once

	// Clock and sleep indirection for deterministic tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// New creates a supervisor in DISCONNECTED with the given capabilities.
func New(input InputProvider, transport Transport, m *mapper.Mapper, cfg config.SupervisorConfig) *Supervisor {
	return &Supervisor{
		input:     input,
		transport: transport,
		mapper:    m,
		cfg:       cfg,
		state:     drive.StateDisconnected,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// SetEventSink installs the event sink. May only be called before Run.
func (s *Supervisor) SetEventSink(sink EventSink) {
	s.events = sink
}

// SetAuditLogger installs the audit logger. May only be called before Run.
func (s *Supervisor) SetAuditLogger(logger AuditLogger) {
	s.audit = logger
}

// AddStateCallback registers a transition observer. May only be called
// before Run. A callback that panics is caught and logged, never
// aborting the cycle.
func (s *Supervisor) AddStateCallback(cb StateCallback) {
	s.callbacks = append(s.callbacks, cb)
}

// RequestConnect stores the wheel credentials; the loop picks them up
// at the next cycle boundary and, if DISCONNECTED, starts connecting.
// Fire-and-forget, safe from any goroutine.
func (s *Supervisor) RequestConnect(creds config.Credentials) {
	s.intentMu.Lock()
	defer s.intentMu.Unlock()
	c := creds
	s.pendingCreds = &c
}

// RequestDisconnect asks for a stop: the next cycle sends a stop frame,
// disconnects the transport, and forces DISCONNECTED. No-op while
// already disconnected.
func (s *Supervisor) RequestDisconnect() {
	if s.State() == drive.StateDisconnected {
		return
	}
	s.intentMu.Lock()
	defer s.intentMu.Unlock()
	s.stopRequested = true
}

// RequestArm asks for drive readiness; honored at the next cycle
// boundary only when the session is PAIRED.
func (s *Supervisor) RequestArm() {
	s.intentMu.Lock()
	defer s.intentMu.Unlock()
	s.armRequested = true
}

// RequestProfile queues new mapper tuning under the given profile name.
// The loop applies it at the next cycle boundary, deferring while
// DRIVING so an active maneuver never changes limits mid-motion.
func (s *Supervisor) RequestProfile(name string, tuning config.MapperConfig) {
	s.intentMu.Lock()
	defer s.intentMu.Unlock()
	t := tuning
	s.pendingTuning = &t
	s.pendingProfile = name
}

// Run executes the control loop until the context is cancelled. The
// cleanup phase (final stop, disconnect, input teardown) runs exactly
// once no matter how the loop exits.
func (s *Supervisor) Run(ctx context.Context) error {
	log.Printf("supervisor: starting")

	if err := s.input.Start(); err != nil {
		return fmt.Errorf("failed to start input provider: %w", err)
	}
	defer s.cleanup()

	for {
		select {
		case <-ctx.Done():
			log.Printf("supervisor: stopping")
			return nil
		default:
		}

		s.runCycle(ctx)

		select {
		case <-ctx.Done():
			log.Printf("supervisor: stopping")
			return nil
		case <-time.After(s.cfg.LoopInterval):
		}
	}
}

// runCycle executes one cycle with fault containment: an unhandled
// panic is logged and treated as entry into FAILSAFE, never as loop
// death.
func (s *Supervisor) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("supervisor: cycle fault: %v", r)
			s.enterFailsafe(fmt.Sprintf("cycle fault: %v", r))
		}
	}()
	s.cycle(ctx)
}

// cycle is one iteration: consume intents, dispatch by state, evaluate
// watchdogs.
func (s *Supervisor) cycle(ctx context.Context) {
	// A pending stop request beats everything else.
	if s.consumeStopRequest() {
		s.handleStopRequest(ctx)
		return
	}

	s.applyIntents()
	s.applyTuning()

	switch s.State() {
	case drive.StateDisconnected:
		// Idle. Waiting for a connect request.
	case drive.StateConnecting:
		s.handleConnecting(ctx)
	case drive.StatePaired:
		s.handlePaired()
	case drive.StateArmed:
		s.handleArmed()
	case drive.StateDriving:
		s.handleDriving()
	case drive.StateFailsafe:
		s.handleFailsafe()
	}

	switch s.State() {
	case drive.StateArmed, drive.StateDriving:
		s.checkWatchdogs()
	}
}

// applyIntents consumes the connect/arm request slots at the cycle
// boundary.
func (s *Supervisor) applyIntents() {
	s.intentMu.Lock()
	creds := s.pendingCreds
	s.pendingCreds = nil
	arm := s.armRequested
	s.armRequested = false
	s.intentMu.Unlock()

	if creds != nil {
		s.creds = *creds
		if s.State() == drive.StateDisconnected {
			s.reconnectAttempts = 0
			s.transitionTo(drive.StateConnecting)
		}
	}

	if arm && s.State() == drive.StatePaired {
		s.logAudit(context.Background(), "arm", "", "SUCCESS", 0)
		s.transitionTo(drive.StateArmed)
	}
}

// applyTuning consumes a pending profile change. While DRIVING the
// request stays queued for the next non-driving cycle.
func (s *Supervisor) applyTuning() {
	if s.State() == drive.StateDriving {
		return
	}

	s.intentMu.Lock()
	tuning := s.pendingTuning
	name := s.pendingProfile
	s.pendingTuning = nil
	s.pendingProfile = ""
	s.intentMu.Unlock()

	if tuning == nil {
		return
	}

	s.mapper.SetTuning(*tuning)
	s.mu.Lock()
	s.profile = name
	s.mu.Unlock()

	log.Printf("supervisor: drive profile applied: %s", name)
	s.logAudit(context.Background(), "profile", name, "SUCCESS", 0)
}

func (s *Supervisor) consumeStopRequest() bool {
	s.intentMu.Lock()
	defer s.intentMu.Unlock()
	stop := s.stopRequested
	s.stopRequested = false
	return stop
}

// handleConnecting attempts one transport connect per cycle and applies
// the reconnect policy on failure.
func (s *Supervisor) handleConnecting(ctx context.Context) {
	start := s.now()
	log.Printf("supervisor: connecting to wheels (attempt %d)", s.reconnectAttempts+1)

	if s.transport.Connect(ctx, s.creds) {
		log.Printf("supervisor: connected")
		s.logAudit(ctx, "connect", s.creds.LeftAddr+","+s.creds.RightAddr, "SUCCESS", s.now().Sub(start))
		s.reconnectAttempts = 0
		s.transitionTo(drive.StatePaired)
		s.lastLinkTime = s.now()
		return
	}

	log.Printf("supervisor: connection failed")
	s.reconnectAttempts++
	if s.reconnectAttempts >= s.cfg.MaxReconnectAttempts {
		log.Printf("supervisor: max reconnection attempts reached")
		s.logAudit(ctx, "connect", s.creds.LeftAddr+","+s.creds.RightAddr, "EXHAUSTED", s.now().Sub(start))
		s.transitionTo(drive.StateDisconnected)
		return
	}
	s.sleep(ctx, s.cfg.ReconnectDelay)
}

// handlePaired keeps the telemetry cache warm while waiting for an arm
// request.
func (s *Supervisor) handlePaired() {
	if state, ok := s.transport.ReadState(); ok {
		s.cacheVehicleState(state)
	}
}

// handleArmed watches for engagement: deadman held with the stick off
// center starts driving; anything else keeps the wheels stopped.
func (s *Supervisor) handleArmed() {
	control, ok := s.input.ReadControlState()
	if !ok {
		return
	}
	s.lastInputTime = control.Timestamp

	if control.Deadman && !control.IsNeutral() {
		// Input is re-processed next cycle in DRIVING.
		s.transitionTo(drive.StateDriving)
		return
	}
	s.sendStop()
}

// handleDriving runs the active control path: input, mapper, send,
// telemetry, error escalation.
func (s *Supervisor) handleDriving() {
	control, ok := s.input.ReadControlState()
	if !ok {
		log.Printf("supervisor: no input while driving")
		s.sendStop()
		s.transitionTo(drive.StateArmed)
		return
	}
	s.lastInputTime = control.Timestamp

	if !control.Deadman || control.IsNeutral() {
		log.Printf("supervisor: controls released, returning to armed")
		s.sendStop()
		s.transitionTo(drive.StateArmed)
		return
	}

	command := s.mapper.Map(control)
	if command == nil {
		// The mapper contract never yields nil, but a refusal must
		// still fail toward stop.
		log.Printf("supervisor: mapper produced no command")
		s.sendStop()
		return
	}

	if !s.transport.SendCommand(*command) {
		// A single failed send is tolerated; the link watchdog
		// escalates persistent failure.
		log.Printf("supervisor: failed to send command")
		return
	}
	s.lastLinkTime = s.now()

	if state, ok := s.transport.ReadState(); ok {
		s.cacheVehicleState(state)
		if state.HasErrors() {
			log.Printf("supervisor: vehicle errors: %v", state.Errors)
			s.enterFailsafe("vehicle error: " + state.Errors[0])
		}
	}
}

// handleFailsafe keeps the wheels stopped; the only way out while the
// transport is still up is external intervention.
func (s *Supervisor) handleFailsafe() {
	s.sendStop()

	if !s.transport.IsConnected() {
		log.Printf("supervisor: connection lost in failsafe, disconnecting")
		s.transitionTo(drive.StateDisconnected)
	}
}

// handleStopRequest honors a disconnect request: stop, tear down the
// transport, force DISCONNECTED.
func (s *Supervisor) handleStopRequest(ctx context.Context) {
	log.Printf("supervisor: stop requested")
	s.sendStop()
	s.transport.Disconnect()
	s.logAudit(ctx, "disconnect", "", "SUCCESS", 0)
	s.transitionTo(drive.StateDisconnected)
}

// checkWatchdogs evaluates liveness. The link watchdog is skipped when
// the input watchdog already fired this cycle.
func (s *Supervisor) checkWatchdogs() {
	now := s.now()

	if !s.lastInputTime.IsZero() && now.Sub(s.lastInputTime) > s.cfg.InputTimeout {
		log.Printf("supervisor: input watchdog timeout")
		s.enterFailsafe("input timeout")
		return
	}

	if !s.lastLinkTime.IsZero() && now.Sub(s.lastLinkTime) > s.cfg.LinkTimeout {
		log.Printf("supervisor: link watchdog timeout")
		s.enterFailsafe("link timeout")
		return
	}

	if now.Sub(s.lastHeartbeatTime) > s.cfg.HeartbeatInterval {
		s.sendHeartbeat()
	}
}

// sendStop transmits the canonical stop frame and stamps link time.
func (s *Supervisor) sendStop() {
	s.transport.SendCommand(drive.Stop())
	s.lastLinkTime = s.now()
}

// sendHeartbeat resends the last known good command (or stop) so the
// link stays alive even without fresh input.
func (s *Supervisor) sendHeartbeat() {
	cmd := drive.Stop()
	if last := s.mapper.LastCommand(); last != nil {
		cmd = *last
	}
	s.transport.SendCommand(cmd)
	now := s.now()
	s.lastHeartbeatTime = now
	s.lastLinkTime = now
}

// enterFailsafe sends a stop and drops into FAILSAFE with the reason on
// record.
func (s *Supervisor) enterFailsafe(reason string) {
	log.Printf("supervisor: ENTERING FAILSAFE: %s", reason)
	s.logAudit(context.Background(), "failsafe", reason, "TRIGGERED", 0)
	if s.events != nil {
		s.events.PublishFault(reason)
	}
	s.sendStop()
	s.transitionTo(drive.StateFailsafe)
}

// transitionTo performs a state change with its uniform side effects:
// logging, mapper reset on DISCONNECTED/FAILSAFE entry, callback and
// event fanout.
func (s *Supervisor) transitionTo(newState drive.SupervisorState) {
	s.mu.Lock()
	oldState := s.state
	if newState == oldState {
		s.mu.Unlock()
		return
	}
	s.state = newState
	s.mu.Unlock()

	log.Printf("supervisor: state transition: %s -> %s", oldState, newState)

	// Re-engagement must never ramp from a stale velocity.
	if newState == drive.StateDisconnected || newState == drive.StateFailsafe {
		s.mapper.Reset()
	}

	for _, cb := range s.callbacks {
		s.invokeCallback(cb, oldState, newState)
	}

	if s.events != nil {
		s.events.PublishState(oldState, newState)
	}
}

// invokeCallback runs one observer with panic containment.
func (s *Supervisor) invokeCallback(cb StateCallback, oldState, newState drive.SupervisorState) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("supervisor: state callback panic: %v", r)
		}
	}()
	cb(oldState, newState)
}

func (s *Supervisor) cacheVehicleState(state drive.VehicleState) {
	s.mu.Lock()
	s.vehicle = &state
	s.mu.Unlock()

	if s.events != nil {
		s.events.PublishTelemetry(state)
	}
}

// cleanup runs the guaranteed shutdown phase exactly once.
func (s *Supervisor) cleanup() {
	s.cleanupOnce.Do(func() {
		log.Printf("supervisor: cleaning up")
		if s.transport.IsConnected() {
			s.sendStop()
			s.transport.Disconnect()
		}
		if err := s.input.Stop(); err != nil {
			log.Printf("supervisor: error stopping input provider: %v", err)
		}
	})
}

func (s *Supervisor) logAudit(ctx context.Context, action, detail, outcome string, latency time.Duration) {
	if s.audit != nil {
		s.audit.LogAction(ctx, action, detail, outcome, latency)
	}
}

// State returns the current supervisor state.
func (s *Supervisor) State() drive.SupervisorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// VehicleState returns a copy of the cached telemetry, or nil if none
// has been read yet.
func (s *Supervisor) VehicleState() *drive.VehicleState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.vehicle == nil {
		return nil
	}
	v := *s.vehicle
	return &v
}

// ActiveProfile returns the name of the applied drive profile, or ""
// when running on the configured defaults.
func (s *Supervisor) ActiveProfile() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// IsConnected reports transport session status.
func (s *Supervisor) IsConnected() bool {
	return s.transport.IsConnected()
}

// IsDriving reports whether the supervisor is actively controlling the
// wheels.
func (s *Supervisor) IsDriving() bool {
	return s.State() == drive.StateDriving
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
