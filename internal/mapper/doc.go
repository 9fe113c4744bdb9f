// Package mapper implements the input-to-command safety transform.
//
// The mapper turns one control sample into exactly one command frame:
// deadman gate, mode gate, deadzone, response curve, differential-drive
// kinematics, per-mode speed clamp, and rate-of-change ramping. It
// never refuses an input; unsafe input maps to a stop frame.
//
// The only cross-cycle state in the core lives here: the last command
// and its timestamp, used for ramping and heartbeat resends.
package mapper
