// Package drive defines the value types that flow through the control
// pipeline: normalized control input, motor command frames, vehicle
// telemetry, and the drive-mode and supervisor-state enumerations.
//
// All value types are created fresh each cycle. Constructors validate
// ranges so that out-of-range data never enters the control loop.
package drive
