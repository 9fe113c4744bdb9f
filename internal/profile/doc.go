// Package profile holds the wheel firmware's factory drive profiles.
//
// Each profile has two assist levels with raw motor parameters: torque
// limits, speed caps, sensor bias, and slope timings. The packaged
// values match the factory presets so a controller can report or
// restore them without talking to the wheels first.
package profile
