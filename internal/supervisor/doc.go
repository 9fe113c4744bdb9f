// Package supervisor implements the safety supervisor for the wheel
// pair: connection lifecycle, arm/drive arbitration, watchdog timers,
// heartbeat, failsafe, and reconnection policy.
//
// The control loop is single-threaded and cooperative: one cycle, one
// timed sleep. External callers influence it only through thread-safe,
// fire-and-forget request entry points whose effects apply at the next
// cycle boundary.
package supervisor
