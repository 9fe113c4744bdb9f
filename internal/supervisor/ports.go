// Ports (interfaces) the supervisor depends on. Concrete input devices
// and wire transports plug in here at construction time.
package supervisor

import (
	"context"
	"time"

	"github.com/MPZ-00/m5squared/internal/config"
	"github.com/MPZ-00/m5squared/internal/drive"
)

// InputProvider is the capability contract for input sources
// (gamepad, keyboard, scripted test harness).
type InputProvider interface {
	// Start performs idempotent setup and may acquire a device.
	Start() error

	// Stop performs idempotent teardown and must release the device.
	Stop() error

	// ReadControlState returns the freshest control sample without
	// blocking. ok is false when no fresh input is available this
	// cycle.
	ReadControlState() (state drive.ControlState, ok bool)
}

// Transport is the capability contract for wire-protocol drivers that
// own the two wheel sessions.
type Transport interface {
	// Connect establishes both wheel sessions. A false return is a
	// failed attempt, not a fault; the supervisor applies its own
	// backoff.
	Connect(ctx context.Context, creds config.Credentials) bool

	// Disconnect closes both sessions. Implementations should leave
	// the vehicle stopped before closing; the supervisor sends its own
	// stop beforehand as a second layer.
	Disconnect()

	// SendCommand transmits one frame. A false return marks this send
	// as failed; persistent failure is escalated by the link watchdog,
	// never by a single send.
	SendCommand(frame drive.CommandFrame) bool

	// ReadState returns the most recent telemetry without blocking.
	ReadState() (state drive.VehicleState, ok bool)

	// IsConnected reports current session status.
	IsConnected() bool
}

// EventSink receives supervisor lifecycle and telemetry events for
// fanout to observers (SSE hub, MQTT bridge).
type EventSink interface {
	PublishState(oldState, newState drive.SupervisorState)
	PublishTelemetry(state drive.VehicleState)
	PublishFault(reason string)
}

// AuditLogger records session actions for the audit trail.
type AuditLogger interface {
	LogAction(ctx context.Context, action, detail, outcome string, latency time.Duration)
}

// StateCallback observes state transitions with (old, new).
type StateCallback func(oldState, newState drive.SupervisorState)
