package scripted

import (
	"testing"

	"github.com/MPZ-00/m5squared/internal/drive"
)

func TestProviderNotRunning(t *testing.T) {
	p := New(ForwardDrive())
	if _, ok := p.ReadControlState(); ok {
		t.Error("provider must not yield samples before Start")
	}

	if err := p.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, ok := p.ReadControlState(); !ok {
		t.Error("started provider must yield samples")
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, ok := p.ReadControlState(); ok {
		t.Error("stopped provider must not yield samples")
	}
}

func TestProviderPlaysScriptInOrder(t *testing.T) {
	script := ForwardDrive()
	p := New(script)
	p.Start()

	for i, want := range script {
		got, ok := p.ReadControlState()
		if !ok {
			t.Fatalf("sample %d: expected ok", i)
		}
		if got.Vx != want.Vx || got.Deadman != want.Deadman || got.Mode != want.Mode {
			t.Errorf("sample %d = %+v, want vx=%v deadman=%v", i, got, want.Vx, want.Deadman)
		}
		if got.Timestamp.IsZero() {
			t.Errorf("sample %d: timestamp must be stamped at read time", i)
		}
	}
}

func TestProviderHoldsLastSample(t *testing.T) {
	script := EmergencyStop()
	p := New(script)
	p.Start()

	for range script {
		p.ReadControlState()
	}

	// Past the end the final sample repeats.
	final := script[len(script)-1]
	for i := 0; i < 3; i++ {
		got, ok := p.ReadControlState()
		if !ok {
			t.Fatal("expected held sample")
		}
		if got.Vx != final.Vx || got.Deadman != final.Deadman {
			t.Errorf("held sample = %+v, want %+v", got, final)
		}
	}
}

func TestProviderEmptyScript(t *testing.T) {
	p := New(nil)
	p.Start()

	got, ok := p.ReadControlState()
	if !ok {
		t.Fatal("empty script still yields a sample")
	}
	if got.Deadman || !got.IsNeutral() {
		t.Errorf("empty script must yield neutral disengaged input, got %+v", got)
	}
}

func TestProviderReset(t *testing.T) {
	script := TurnSequence()
	p := New(script)
	p.Start()

	p.ReadControlState()
	p.ReadControlState()
	p.Reset()

	got, _ := p.ReadControlState()
	if got.Vx != script[0].Vx || got.Vy != script[0].Vy {
		t.Errorf("after reset expected first sample, got %+v", got)
	}
}

func TestStartRewindsScript(t *testing.T) {
	p := New(ForwardDrive())
	p.Start()
	p.ReadControlState()
	p.ReadControlState()

	p.Start()
	got, _ := p.ReadControlState()
	if got.Deadman != false || got.Vx != 0 {
		t.Errorf("restart must rewind, got %+v", got)
	}
}

func TestScriptShapes(t *testing.T) {
	// The emergency script ends disengaged.
	es := EmergencyStop()
	if es[len(es)-1].Deadman {
		t.Error("emergency stop script must end with the deadman released")
	}

	// The turn script has both a right and a left segment.
	var right, left bool
	for _, s := range TurnSequence() {
		if s.Vy > 0 {
			right = true
		}
		if s.Vy < 0 {
			left = true
		}
	}
	if !right || !left {
		t.Error("turn script must include both directions")
	}

	// All samples respect the input envelope.
	for _, script := range [][]drive.ControlState{ForwardDrive(), EmergencyStop(), TurnSequence()} {
		for i, s := range script {
			if s.Vx < -1 || s.Vx > 1 || s.Vy < -1 || s.Vy > 1 {
				t.Errorf("sample %d out of range: %+v", i, s)
			}
		}
	}
}

func TestSamplesPassConstructorValidation(t *testing.T) {
	// Every sample a provider can emit, including the empty-script
	// fallback, must round-trip through the validating constructor.
	scripts := map[string][]drive.ControlState{
		"forward":   ForwardDrive(),
		"emergency": EmergencyStop(),
		"turns":     TurnSequence(),
		"empty":     nil,
	}

	for name, script := range scripts {
		p := New(script)
		if err := p.Start(); err != nil {
			t.Fatalf("%s: start failed: %v", name, err)
		}
		for i := 0; i < len(script)+1; i++ {
			sample, ok := p.ReadControlState()
			if !ok {
				t.Fatalf("%s: expected a sample while running", name)
			}
			if _, err := drive.NewControlState(sample.Vx, sample.Vy, sample.Deadman, sample.Mode); err != nil {
				t.Errorf("%s sample %d fails validation: %v", name, i, err)
			}
		}
	}
}
