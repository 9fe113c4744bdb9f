// Package audit writes append-only JSONL records of session and
// safety actions: connect attempts, arming, stop requests, failsafe
// triggers. Files rotate via lumberjack according to configured size
// and retention limits.
package audit
