package config

import (
	"fmt"
	"strings"
)

// Validate enforces the configuration invariants before the control
// loop starts.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateMapper(&cfg.Mapper); err != nil {
		return fmt.Errorf("mapper validation failed: %w", err)
	}
	if err := validateSupervisor(&cfg.Supervisor); err != nil {
		return fmt.Errorf("supervisor validation failed: %w", err)
	}
	if err := validateCredentials(&cfg.Credentials); err != nil {
		return fmt.Errorf("credentials validation failed: %w", err)
	}
	if cfg.Telemetry.EventBufferSize <= 0 {
		return fmt.Errorf("telemetry event buffer size must be positive, got %d", cfg.Telemetry.EventBufferSize)
	}

	return nil
}

func validateMapper(m *MapperConfig) error {
	if m.Deadzone < 0 || m.Deadzone >= 1.0 {
		return fmt.Errorf("deadzone must be in [0, 1), got %v", m.Deadzone)
	}
	if m.Curve < 1.0 {
		return fmt.Errorf("curve exponent must be >= 1.0, got %v", m.Curve)
	}
	for _, cap := range []struct {
		name  string
		value int
	}{
		{"max_speed_slow", m.MaxSpeedSlow},
		{"max_speed_normal", m.MaxSpeedNormal},
		{"max_speed_fast", m.MaxSpeedFast},
	} {
		if cap.value < 0 || cap.value > 100 {
			return fmt.Errorf("%s must be in [0, 100], got %d", cap.name, cap.value)
		}
	}
	if m.RampRate <= 0 {
		return fmt.Errorf("ramp rate must be positive, got %v", m.RampRate)
	}
	return nil
}

func validateSupervisor(s *SupervisorConfig) error {
	if s.LoopInterval <= 0 {
		return fmt.Errorf("loop interval must be positive, got %v", s.LoopInterval)
	}
	if s.InputTimeout <= 0 {
		return fmt.Errorf("input timeout must be positive, got %v", s.InputTimeout)
	}
	if s.LinkTimeout <= 0 {
		return fmt.Errorf("link timeout must be positive, got %v", s.LinkTimeout)
	}
	if s.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", s.HeartbeatInterval)
	}
	if s.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive, got %v", s.ReconnectDelay)
	}
	if s.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("max reconnect attempts must be positive, got %d", s.MaxReconnectAttempts)
	}
	return nil
}

// ValidateCredentials checks a fully specified credential set, as
// required before a pairing attempt.
func ValidateCredentials(c Credentials) error {
	if !c.IsConfigured() {
		return fmt.Errorf("credentials incomplete: both wheel addresses and keys are required")
	}
	return validateCredentials(&c)
}

// validateCredentials checks format only; empty credentials are allowed
// because they can arrive later through the connect request.
func validateCredentials(c *Credentials) error {
	if c.LeftAddr != "" && !isValidMAC(c.LeftAddr) {
		return fmt.Errorf("left address %q is not a valid MAC (expected AA:BB:CC:DD:EE:FF)", c.LeftAddr)
	}
	if c.RightAddr != "" && !isValidMAC(c.RightAddr) {
		return fmt.Errorf("right address %q is not a valid MAC (expected AA:BB:CC:DD:EE:FF)", c.RightAddr)
	}
	if len(c.LeftKey) != 0 && len(c.LeftKey) != 16 {
		return fmt.Errorf("left key must be 16 bytes, got %d", len(c.LeftKey))
	}
	if len(c.RightKey) != 0 && len(c.RightKey) != 16 {
		return fmt.Errorf("right key must be 16 bytes, got %d", len(c.RightKey))
	}
	return nil
}

// isValidMAC checks the AA:BB:CC:DD:EE:FF form.
func isValidMAC(mac string) bool {
	parts := strings.Split(mac, ":")
	if len(parts) != 6 {
		return false
	}
	for _, part := range parts {
		if len(part) != 2 {
			return false
		}
		for _, r := range part {
			if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
				return false
			}
		}
	}
	return true
}
