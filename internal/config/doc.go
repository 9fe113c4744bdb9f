// Package config implements configuration for the m5squared controller.
//
// Load() merges baseline defaults, an optional .env file, M25_*
// environment overrides, and an optional config.yaml, then validates
// the result. All timing values are strictly positive and all mapper
// limits are range checked before the control loop ever sees them.
package config
