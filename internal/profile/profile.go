package profile

import (
	"fmt"
	"strings"

	"github.com/MPZ-00/m5squared/internal/config"
)

// Firmware profile IDs.
const (
	IDCustomized    = 0
	IDStandard      = 1
	IDSensitive     = 2
	IDSoft          = 3
	IDActive        = 4
	IDSensitivePlus = 5
)

// MaxSupportSpeed is the firmware speed ceiling in raw units (mm/s),
// 8.5 km/h.
const MaxSupportSpeed = 2361

// Level holds the raw motor parameters of one assist level.
type Level struct {
	MaxTorque         int // percent
	MaxSpeed          int // raw mm/s
	SpeedBias         int // sensor sensitivity
	SlopeInc          int // startup time
	SlopeDec          int // coasting time
	PFactor           int
	SpeedFactor       int
	RotationThreshold int
}

// MaxSpeedKmh returns the level's speed cap in km/h.
func (l Level) MaxSpeedKmh() float64 {
	return SpeedRawToKmh(l.MaxSpeed)
}

// Profile is one factory preset with its two assist levels.
type Profile struct {
	Name   string
	ID     int
	Level1 Level
	Level2 Level
}

// Level returns the parameters for assist level 1 or 2.
func (p Profile) Level(level int) (Level, error) {
	switch level {
	case 1:
		return p.Level1, nil
	case 2:
		return p.Level2, nil
	default:
		return Level{}, fmt.Errorf("invalid assist level %d, must be 1 or 2", level)
	}
}

var profiles = []Profile{
	{
		Name: "Standard",
		ID:   IDStandard,
		Level1: Level{
			MaxTorque: 45, MaxSpeed: 1111, SpeedBias: 20,
			SlopeInc: 28, SlopeDec: 56,
			PFactor: 5, SpeedFactor: 11, RotationThreshold: 2,
		},
		Level2: Level{
			MaxTorque: 75, MaxSpeed: 2361, SpeedBias: 20,
			SlopeInc: 42, SlopeDec: 42,
			PFactor: 5, SpeedFactor: 11, RotationThreshold: 2,
		},
	},
	{
		Name: "Active",
		ID:   IDActive,
		Level1: Level{
			MaxTorque: 45, MaxSpeed: 1250, SpeedBias: 30,
			SlopeInc: 56, SlopeDec: 56,
			PFactor: 5, SpeedFactor: 11, RotationThreshold: 2,
		},
		Level2: Level{
			MaxTorque: 90, MaxSpeed: 2361, SpeedBias: 20,
			SlopeInc: 70, SlopeDec: 28,
			PFactor: 5, SpeedFactor: 11, RotationThreshold: 2,
		},
	},
	{
		Name: "Sensitive",
		ID:   IDSensitive,
		Level1: Level{
			MaxTorque: 60, MaxSpeed: 1111, SpeedBias: 30,
			SlopeInc: 42, SlopeDec: 42,
			PFactor: 5, SpeedFactor: 11, RotationThreshold: 2,
		},
		Level2: Level{
			MaxTorque: 95, MaxSpeed: 2361, SpeedBias: 40,
			SlopeInc: 42, SlopeDec: 28,
			PFactor: 5, SpeedFactor: 11, RotationThreshold: 2,
		},
	},
	{
		Name: "Soft",
		ID:   IDSoft,
		Level1: Level{
			MaxTorque: 35, MaxSpeed: 833, SpeedBias: 20,
			SlopeInc: 28, SlopeDec: 56,
			PFactor: 5, SpeedFactor: 11, RotationThreshold: 2,
		},
		Level2: Level{
			MaxTorque: 50, MaxSpeed: 2361, SpeedBias: 10,
			SlopeInc: 28, SlopeDec: 56,
			PFactor: 5, SpeedFactor: 11, RotationThreshold: 2,
		},
	},
	{
		Name: "SensitivePlus",
		ID:   IDSensitivePlus,
		Level1: Level{
			MaxTorque: 65, MaxSpeed: 1389, SpeedBias: 50,
			SlopeInc: 70, SlopeDec: 28,
			PFactor: 5, SpeedFactor: 50, RotationThreshold: 1,
		},
		Level2: Level{
			MaxTorque: 100, MaxSpeed: 2361, SpeedBias: 50,
			SlopeInc: 70, SlopeDec: 20,
			PFactor: 5, SpeedFactor: 50, RotationThreshold: 1,
		},
	},
}

// All returns the factory presets in firmware order.
func All() []Profile {
	out := make([]Profile, len(profiles))
	copy(out, profiles)
	return out
}

// ByName finds a preset by name, case-insensitively. "Sensitive+" and
// "sensitive plus" both resolve to SensitivePlus.
func ByName(name string) (Profile, error) {
	normalized := normalizeName(name)
	for _, p := range profiles {
		if normalizeName(p.Name) == normalized {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("unknown drive profile %q", name)
}

// ByID finds a preset by its firmware ID.
func ByID(id int) (Profile, error) {
	for _, p := range profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("unknown drive profile ID %d", id)
}

func normalizeName(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "+", "plus")
	return s
}

// SpeedRawToKmh converts a raw speed value (mm/s) to km/h.
func SpeedRawToKmh(raw int) float64 {
	return float64(raw) * 0.0036
}

// SpeedKmhToRaw converts km/h to a raw speed value (mm/s).
func SpeedKmhToRaw(kmh float64) int {
	return int(kmh / 0.0036)
}

// MapperConfig derives control-mapper settings from a preset level.
// Speed caps scale against the firmware ceiling, sensor bias shapes
// the deadzone, and slope timing sets the ramp rate.
func MapperConfig(p Profile, level int) (config.MapperConfig, error) {
	params, err := p.Level(level)
	if err != nil {
		return config.MapperConfig{}, err
	}

	cfg := config.Default().Mapper

	// Percent of the firmware speed ceiling this level allows.
	fast := params.MaxSpeed * 100 / MaxSupportSpeed
	if fast > 100 {
		fast = 100
	}
	cfg.MaxSpeedFast = fast
	cfg.MaxSpeedNormal = fast * 60 / 100
	cfg.MaxSpeedSlow = fast * 30 / 100

	// Higher sensor bias means a twitchier stick, so shrink the
	// deadzone as bias grows (bias 10 -> 0.15, bias 50 -> 0.05).
	cfg.Deadzone = 0.175 - float64(params.SpeedBias)*0.0025

	// slope_inc is the startup ramp: 20 is slowest, 70 fastest.
	cfg.RampRate = float64(params.SlopeInc)

	return cfg, nil
}
