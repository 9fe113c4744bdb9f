// Package api implements the HTTP surface of the m5squared controller.
//
// Endpoints under /api/v1:
//
//	GET  /health        liveness, no auth
//	GET  /status        supervisor state and cached vehicle snapshot
//	GET  /telemetry     SSE event stream with Last-Event-ID resume
//	GET  /telemetry/ws  websocket event stream
//	POST /session/connect     begin pairing with the wheel pair
//	POST /session/arm         arm a paired session for driving
//	POST /session/disconnect  stop and drop the session
//	GET  /profiles      factory drive profiles and the active selection
//	POST /profile       apply a drive profile and assist level
//
// All responses use a uniform envelope with result, data or
// code/message, and a correlationId.
package api
