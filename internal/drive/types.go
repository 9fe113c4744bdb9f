package drive

import (
	"fmt"
	"math"
	"time"
)

// DriveMode selects the speed envelope applied to mapped commands.
type DriveMode int

const (
	ModeStop DriveMode = iota
	ModeSlow
	ModeNormal
	ModeFast
)

// String returns the lowercase mode name.
func (m DriveMode) String() string {
	switch m {
	case ModeStop:
		return "stop"
	case ModeSlow:
		return "slow"
	case ModeNormal:
		return "normal"
	case ModeFast:
		return "fast"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// SupervisorState enumerates the supervisor state machine.
type SupervisorState int

const (
	StateDisconnected SupervisorState = iota
	StateConnecting
	StatePaired
	StateArmed
	StateDriving
	StateFailsafe
)

// String returns the lowercase state name.
func (s SupervisorState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StatePaired:
		return "paired"
	case StateArmed:
		return "armed"
	case StateDriving:
		return "driving"
	case StateFailsafe:
		return "failsafe"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// neutralThreshold is the axis magnitude below which input counts as centered.
const neutralThreshold = 0.01

// ControlState is one normalized input sample from an input provider.
// Axes are unit range: Vx is forward (+) / backward (-), Vy is right (+)
// / left (-).
type ControlState struct {
	Vx        float64
	Vy        float64
	Deadman   bool
	Mode      DriveMode
	Timestamp time.Time
}

// NewControlState validates axis ranges and stamps the sample.
func NewControlState(vx, vy float64, deadman bool, mode DriveMode) (ControlState, error) {
	if math.IsNaN(vx) || vx < -1.0 || vx > 1.0 {
		return ControlState{}, fmt.Errorf("vx out of range: %v", vx)
	}
	if math.IsNaN(vy) || vy < -1.0 || vy > 1.0 {
		return ControlState{}, fmt.Errorf("vy out of range: %v", vy)
	}
	return ControlState{
		Vx:        vx,
		Vy:        vy,
		Deadman:   deadman,
		Mode:      mode,
		Timestamp: time.Now(),
	}, nil
}

// IsNeutral reports whether both axes are inside the neutral band.
func (c ControlState) IsNeutral() bool {
	return math.Abs(c.Vx) < neutralThreshold && math.Abs(c.Vy) < neutralThreshold
}

// IsSafe reports whether the sample nominally permits motion. The
// mapper re-derives this itself; IsSafe is informational only.
func (c ControlState) IsSafe() bool {
	return c.Deadman && c.Mode != ModeStop
}

// CommandFrame is the wheel command produced by the mapper and handed
// to the transport. Speeds are percent of full scale per wheel.
type CommandFrame struct {
	LeftSpeed  int
	RightSpeed int
	Flags      uint8
	Timestamp  time.Time
}

// NewCommandFrame validates speed ranges and stamps the frame.
func NewCommandFrame(left, right int, flags uint8) (CommandFrame, error) {
	if left < -100 || left > 100 {
		return CommandFrame{}, fmt.Errorf("left speed out of range: %d", left)
	}
	if right < -100 || right > 100 {
		return CommandFrame{}, fmt.Errorf("right speed out of range: %d", right)
	}
	return CommandFrame{
		LeftSpeed:  left,
		RightSpeed: right,
		Flags:      flags,
		Timestamp:  time.Now(),
	}, nil
}

// Stop returns the canonical stop frame.
func Stop() CommandFrame {
	return CommandFrame{Timestamp: time.Now()}
}

// IsStop reports whether both wheels are commanded to zero.
func (f CommandFrame) IsStop() bool {
	return f.LeftSpeed == 0 && f.RightSpeed == 0
}

// VehicleState is telemetry read back from the wheel pair. Optional
// readings are nil when the hardware has not reported them yet.
type VehicleState struct {
	BatteryLeft  *int      `json:"batteryLeft,omitempty"`
	BatteryRight *int      `json:"batteryRight,omitempty"`
	SpeedKmh     *float64  `json:"speedKmh,omitempty"`
	DistanceKm   *float64  `json:"distanceKm,omitempty"`
	Errors       []string  `json:"errors,omitempty"`
	Connected    bool      `json:"connected"`
	Timestamp    time.Time `json:"timestamp"`
}

// BatteryMin returns the minimum of the present battery readings, the
// limiting factor for remaining range. ok is false if neither side has
// reported.
func (v VehicleState) BatteryMin() (int, bool) {
	switch {
	case v.BatteryLeft != nil && v.BatteryRight != nil:
		if *v.BatteryLeft < *v.BatteryRight {
			return *v.BatteryLeft, true
		}
		return *v.BatteryRight, true
	case v.BatteryLeft != nil:
		return *v.BatteryLeft, true
	case v.BatteryRight != nil:
		return *v.BatteryRight, true
	default:
		return 0, false
	}
}

// HasErrors reports whether the vehicle reported any error.
func (v VehicleState) HasErrors() bool {
	return len(v.Errors) > 0
}

// IsHealthy reports whether the vehicle is connected and error free.
func (v VehicleState) IsHealthy() bool {
	return v.Connected && !v.HasErrors()
}
