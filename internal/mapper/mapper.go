package mapper

import (
	"math"
	"time"

	"github.com/MPZ-00/m5squared/internal/config"
	"github.com/MPZ-00/m5squared/internal/drive"
)

// Mapper transforms control samples into command frames with all
// safety rules applied. Not safe for concurrent use; the supervisor
// owns it exclusively.
type Mapper struct {
	cfg      config.MapperConfig
	last     *drive.CommandFrame
	lastTime time.Time

	// now is swapped in tests for deterministic ramping.
	now func() time.Time
}

// New creates a mapper with the given tuning.
func New(cfg config.MapperConfig) *Mapper {
	return &Mapper{
		cfg: cfg,
		now: time.Now,
	}
}

// Map converts a control sample into a command frame. It never returns
// nil: a released deadman, STOP mode, or neutral input yields a stop
// frame. The returned frame is remembered for ramping continuity.
func (m *Mapper) Map(state drive.ControlState) *drive.CommandFrame {
	now := m.now()

	// Deadman gate: no held switch, no motion.
	if !state.Deadman {
		return m.remember(drive.Stop(), now)
	}

	// Mode gate: STOP mode suppresses all motion.
	if state.Mode == drive.ModeStop {
		return m.remember(drive.Stop(), now)
	}

	vx := applyCurve(applyDeadzone(state.Vx, m.cfg.Deadzone), m.cfg.Curve)
	vy := applyCurve(applyDeadzone(state.Vy, m.cfg.Deadzone), m.cfg.Curve)

	left, right := differentialDrive(vx, vy)

	// Scale to percent, then clamp to the mode envelope.
	maxSpeed := float64(m.cfg.MaxSpeed(state.Mode))
	left = clamp(left*100, -maxSpeed, maxSpeed)
	right = clamp(right*100, -maxSpeed, maxSpeed)

	// Ramping bounds acceleration against the previous command.
	if m.last != nil && !m.lastTime.IsZero() {
		if dt := now.Sub(m.lastTime).Seconds(); dt > 0 {
			left = m.ramp(left, float64(m.last.LeftSpeed), dt)
			right = m.ramp(right, float64(m.last.RightSpeed), dt)
		}
	}

	frame := drive.CommandFrame{
		LeftSpeed:  int(math.Round(left)),
		RightSpeed: int(math.Round(right)),
		Flags:      buildFlags(state),
		Timestamp:  now,
	}

	return m.remember(frame, now)
}

// SetTuning replaces the mapper configuration and clears ramping
// memory so the new limits take effect on the next frame.
func (m *Mapper) SetTuning(cfg config.MapperConfig) {
	m.cfg = cfg
	m.Reset()
}

// Tuning returns the active mapper configuration.
func (m *Mapper) Tuning() config.MapperConfig {
	return m.cfg
}

// Reset clears ramping memory. Called whenever control authority is
// revoked so re-engagement never ramps from a stale velocity.
func (m *Mapper) Reset() {
	m.last = nil
	m.lastTime = time.Time{}
}

// LastCommand returns the most recent frame, or nil if none since the
// last reset. Used by the supervisor's heartbeat.
func (m *Mapper) LastCommand() *drive.CommandFrame {
	return m.last
}

func (m *Mapper) remember(frame drive.CommandFrame, now time.Time) *drive.CommandFrame {
	m.last = &frame
	m.lastTime = now
	return m.last
}

// ramp limits the change toward target to RampRate * dt.
func (m *Mapper) ramp(target, current, dt float64) float64 {
	maxChange := m.cfg.RampRate * dt
	delta := target - current
	if math.Abs(delta) <= maxChange {
		return target
	}
	if delta > 0 {
		return current + maxChange
	}
	return current - maxChange
}

// applyDeadzone zeroes input below the deadzone and rescales the rest
// so the deadzone boundary maps to 0 and full deflection stays 1.0.
func applyDeadzone(v, deadzone float64) float64 {
	magnitude := math.Abs(v)
	if magnitude < deadzone {
		return 0
	}
	scaled := (magnitude - deadzone) / (1.0 - deadzone)
	return math.Copysign(scaled, v)
}

// applyCurve raises the magnitude to the response exponent, preserving
// sign. Curve 1.0 is linear.
func applyCurve(v, curve float64) float64 {
	if v == 0 {
		return 0
	}
	return math.Copysign(math.Pow(math.Abs(v), curve), v)
}

// differentialDrive converts forward/turn input into wheel speeds,
// normalizing so the requested turn ratio survives the unit envelope.
func differentialDrive(vx, vy float64) (left, right float64) {
	left = vx - vy
	right = vx + vy

	if maxMagnitude := math.Max(math.Abs(left), math.Abs(right)); maxMagnitude > 1.0 {
		left /= maxMagnitude
		right /= maxMagnitude
	}
	return left, right
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// buildFlags encodes the drive mode ordinal into the low flag bits for
// downstream diagnostics.
func buildFlags(state drive.ControlState) uint8 {
	return uint8(state.Mode) & 0x0F
}
