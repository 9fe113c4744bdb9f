// Package fake provides an in-memory wheel-pair transport for testing
// and bench driving without hardware. It synthesizes telemetry from
// the commanded speeds and supports connect/send failure injection.
package fake

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/MPZ-00/m5squared/internal/config"
	"github.com/MPZ-00/m5squared/internal/drive"
	"github.com/MPZ-00/m5squared/internal/supervisor"
)

// Compile-time assertion that Wheels satisfies the transport contract.
var _ supervisor.Transport = (*Wheels)(nil)

// Wheels simulates both wheel sessions behind the transport capability.
type Wheels struct {
	mu sync.Mutex

	connected      bool
	rejectConnect  bool
	failSends      int
	faults         []string
	sent           []drive.CommandFrame
	batteryLeft    int
	batteryRight   int
	distanceKm     float64
	lastSpeedLeft  int
	lastSpeedRight int
}

// New creates a disconnected fake wheel pair with full batteries.
func New() *Wheels {
	return &Wheels{
		batteryLeft:  85,
		batteryRight: 87,
	}
}

// Connect accepts unless rejection is armed. The credentials are not
// inspected beyond being present, mirroring a transport that fails the
// handshake itself.
func (w *Wheels) Connect(ctx context.Context, creds config.Credentials) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rejectConnect {
		return false
	}
	w.connected = true
	return true
}

// Disconnect stops the wheels and closes the session.
func (w *Wheels) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastSpeedLeft = 0
	w.lastSpeedRight = 0
	w.connected = false
}

// SendCommand records the frame and updates the simulated wheel speeds.
func (w *Wheels) SendCommand(frame drive.CommandFrame) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.connected {
		return false
	}
	if w.failSends > 0 {
		w.failSends--
		return false
	}

	w.sent = append(w.sent, frame)
	w.lastSpeedLeft = frame.LeftSpeed
	w.lastSpeedRight = frame.RightSpeed
	return true
}

// ReadState synthesizes telemetry from the last commanded speeds.
func (w *Wheels) ReadState() (drive.VehicleState, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.connected {
		return drive.VehicleState{}, false
	}

	// 100% command corresponds to the 8.5 km/h cap of the real wheels.
	speed := math.Abs(float64(w.lastSpeedLeft)+float64(w.lastSpeedRight)) / 2 * 0.085
	batteryLeft := w.batteryLeft
	batteryRight := w.batteryRight
	distance := w.distanceKm

	state := drive.VehicleState{
		BatteryLeft:  &batteryLeft,
		BatteryRight: &batteryRight,
		SpeedKmh:     &speed,
		DistanceKm:   &distance,
		Connected:    true,
		Timestamp:    time.Now(),
	}
	if len(w.faults) > 0 {
		state.Errors = append([]string(nil), w.faults...)
	}
	return state, true
}

// IsConnected reports session status.
func (w *Wheels) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// Test hooks

// RejectConnect makes subsequent Connect calls fail.
func (w *Wheels) RejectConnect(reject bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rejectConnect = reject
}

// FailNextSends makes the next n SendCommand calls fail.
func (w *Wheels) FailNextSends(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failSends = n
}

// SetFaults injects vehicle error reports into telemetry. Known codes
// follow the wheel firmware's convention (BATT_LOW, MOTOR_TEMP,
// COMM_LOSS) but any string is carried through.
func (w *Wheels) SetFaults(faults ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.faults = append([]string(nil), faults...)
}

// ClearFaults removes injected faults.
func (w *Wheels) ClearFaults() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.faults = nil
}

// SetBatteries sets the reported battery percentages.
func (w *Wheels) SetBatteries(left, right int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batteryLeft = left
	w.batteryRight = right
}

// SentFrames returns a copy of every frame accepted so far.
func (w *Wheels) SentFrames() []drive.CommandFrame {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]drive.CommandFrame(nil), w.sent...)
}

// LastFrame returns the most recent accepted frame, or nil.
func (w *Wheels) LastFrame() *drive.CommandFrame {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.sent) == 0 {
		return nil
	}
	f := w.sent[len(w.sent)-1]
	return &f
}
