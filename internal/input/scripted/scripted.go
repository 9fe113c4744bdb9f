// Package scripted provides a scripted input provider for tests and
// demos: it replays a canned sequence of control samples without any
// physical device.
package scripted

import (
	"log"
	"sync"
	"time"

	"github.com/MPZ-00/m5squared/internal/drive"
)

// Provider replays a fixed sequence of control states, then holds the
// last one. With no script it reports a neutral, disengaged sample.
type Provider struct {
	mu      sync.Mutex
	states  []drive.ControlState
	index   int
	running bool
}

// New creates a scripted provider. states may be nil.
func New(states []drive.ControlState) *Provider {
	return &Provider{states: states}
}

// Start resets the script to the beginning.
func (p *Provider) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	log.Printf("scripted input: started")
	p.running = true
	p.index = 0
	return nil
}

// Stop halts playback.
func (p *Provider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	log.Printf("scripted input: stopped")
	p.running = false
	return nil
}

// ReadControlState returns the next scripted sample, stamped at read
// time. After the script runs out it keeps returning the final sample.
func (p *Provider) ReadControlState() (drive.ControlState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return drive.ControlState{}, false
	}

	var state drive.ControlState
	switch {
	case len(p.states) == 0:
		state = step(0, 0, false, drive.ModeStop)
	case p.index >= len(p.states):
		state = p.states[len(p.states)-1]
	default:
		state = p.states[p.index]
		p.index++
	}

	state.Timestamp = time.Now()
	return state, true
}

// Reset rewinds to the beginning of the script.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.index = 0
}

// step builds one scripted sample through the validating constructor;
// the timestamp is re-stamped at read time. The canned scripts only use
// in-range literals.
func step(vx, vy float64, deadman bool, mode drive.DriveMode) drive.ControlState {
	state, err := drive.NewControlState(vx, vy, deadman, mode)
	if err != nil {
		panic(err)
	}
	return state
}

// ForwardDrive is a gentle accelerate / hold / decelerate / release run.
func ForwardDrive() []drive.ControlState {
	return []drive.ControlState{
		step(0.0, 0.0, false, drive.ModeNormal),
		step(0.0, 0.0, true, drive.ModeNormal),
		step(0.3, 0.0, true, drive.ModeNormal),
		step(0.6, 0.0, true, drive.ModeNormal),
		step(0.8, 0.0, true, drive.ModeNormal),
		step(0.8, 0.0, true, drive.ModeNormal),
		step(0.8, 0.0, true, drive.ModeNormal),
		step(0.5, 0.0, true, drive.ModeNormal),
		step(0.2, 0.0, true, drive.ModeNormal),
		step(0.0, 0.0, true, drive.ModeNormal),
		step(0.0, 0.0, false, drive.ModeNormal),
	}
}

// EmergencyStop releases the deadman mid-drive.
func EmergencyStop() []drive.ControlState {
	return []drive.ControlState{
		step(0.8, 0.0, true, drive.ModeNormal),
		step(0.8, 0.0, true, drive.ModeNormal),
		step(0.8, 0.0, false, drive.ModeNormal),
		step(0.0, 0.0, false, drive.ModeNormal),
	}
}

// TurnSequence drives forward with a right then a left turn.
func TurnSequence() []drive.ControlState {
	return []drive.ControlState{
		step(0.5, 0.5, true, drive.ModeNormal),
		step(0.5, 0.5, true, drive.ModeNormal),
		step(0.5, -0.5, true, drive.ModeNormal),
		step(0.5, -0.5, true, drive.ModeNormal),
		step(0.0, 0.0, true, drive.ModeNormal),
	}
}
