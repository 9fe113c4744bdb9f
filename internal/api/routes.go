package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MPZ-00/m5squared/internal/auth"
	"github.com/MPZ-00/m5squared/internal/config"
	"github.com/MPZ-00/m5squared/internal/profile"
)

// RegisterRoutes registers all v1 endpoints on the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	apiV1 := "/api/v1"

	// Health has no auth so load balancers can probe it.
	mux.HandleFunc(apiV1+"/health", s.handleHealth)

	if s.middleware == nil {
		mux.HandleFunc(apiV1+"/status", s.handleStatus)
		mux.HandleFunc(apiV1+"/telemetry", s.handleTelemetry)
		mux.HandleFunc(apiV1+"/telemetry/ws", s.handleTelemetryWS)
		mux.HandleFunc(apiV1+"/session/connect", s.handleConnect)
		mux.HandleFunc(apiV1+"/session/arm", s.handleArm)
		mux.HandleFunc(apiV1+"/session/disconnect", s.handleDisconnect)
		mux.HandleFunc(apiV1+"/profiles", s.handleProfiles)
		mux.HandleFunc(apiV1+"/profile", s.handleSelectProfile)
		return
	}

	requireRead := func(h http.HandlerFunc) http.HandlerFunc {
		return s.middleware.RequireAuth(s.middleware.RequireScope(auth.ScopeRead)(h))
	}
	requireControl := func(h http.HandlerFunc) http.HandlerFunc {
		return s.middleware.RequireAuth(s.middleware.RequireScope(auth.ScopeControl)(h))
	}
	requireTelemetry := func(h http.HandlerFunc) http.HandlerFunc {
		return s.middleware.RequireAuth(s.middleware.RequireScope(auth.ScopeTelemetry)(h))
	}

	mux.HandleFunc(apiV1+"/status", requireRead(s.handleStatus))
	mux.HandleFunc(apiV1+"/telemetry", requireTelemetry(s.handleTelemetry))
	mux.HandleFunc(apiV1+"/telemetry/ws", requireTelemetry(s.handleTelemetryWS))
	mux.HandleFunc(apiV1+"/session/connect", requireControl(s.handleConnect))
	mux.HandleFunc(apiV1+"/session/arm", requireControl(s.handleArm))
	mux.HandleFunc(apiV1+"/session/disconnect", requireControl(s.handleDisconnect))
	mux.HandleFunc(apiV1+"/profiles", requireRead(s.handleProfiles))
	mux.HandleFunc(apiV1+"/profile", requireControl(s.handleSelectProfile))
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET method is allowed", nil)
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"status":        "ok",
		"uptimeSeconds": int(time.Since(s.startTime).Seconds()),
	})
}

// handleStatus handles GET /status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET method is allowed", nil)
		return
	}

	vehicle := s.sup.VehicleState()
	WriteSuccess(w, map[string]interface{}{
		"state":     s.sup.State().String(),
		"connected": s.sup.IsConnected(),
		"driving":   s.sup.IsDriving(),
		"profile":   s.sup.ActiveProfile(),
		"vehicle":   vehicle,
	})
}

// handleTelemetry handles GET /telemetry as an SSE stream.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET method is allowed", nil)
		return
	}

	if err := s.hub.Subscribe(r.Context(), w, r); err != nil {
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "Telemetry stream failed", nil)
	}
}

// connectRequest is the POST /session/connect body. Keys are 32-char
// hex strings.
type connectRequest struct {
	LeftMac  string `json:"leftMac"`
	RightMac string `json:"rightMac"`
	LeftKey  string `json:"leftKey"`
	RightKey string `json:"rightKey"`
}

// handleConnect handles POST /session/connect.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST method is allowed", nil)
		return
	}

	start := time.Now()

	var req connectRequest
	if !decodeStrict(w, r, &req) {
		return
	}

	leftKey, err := config.ParseKey(req.LeftKey)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_RANGE", "Invalid left key: "+err.Error(), nil)
		return
	}
	rightKey, err := config.ParseKey(req.RightKey)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_RANGE", "Invalid right key: "+err.Error(), nil)
		return
	}

	creds := config.Credentials{
		LeftAddr:  req.LeftMac,
		RightAddr: req.RightMac,
		LeftKey:   leftKey,
		RightKey:  rightKey,
	}
	if err := config.ValidateCredentials(creds); err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_RANGE", err.Error(), nil)
		return
	}

	s.sup.RequestConnect(creds)
	if s.audit != nil {
		s.audit.LogAction(r.Context(), "session.connect", "left="+req.LeftMac+" right="+req.RightMac, "ACCEPTED", time.Since(start))
	}

	WriteSuccess(w, map[string]string{"state": s.sup.State().String()})
}

// handleArm handles POST /session/arm.
func (s *Server) handleArm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST method is allowed", nil)
		return
	}

	start := time.Now()

	if !s.sup.IsConnected() {
		WriteError(w, http.StatusConflict, "NOT_PAIRED", "Cannot arm: no paired session", nil)
		return
	}

	s.sup.RequestArm()
	if s.audit != nil {
		s.audit.LogAction(r.Context(), "session.arm", "", "ACCEPTED", time.Since(start))
	}

	WriteSuccess(w, map[string]string{"state": s.sup.State().String()})
}

// handleDisconnect handles POST /session/disconnect.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST method is allowed", nil)
		return
	}

	start := time.Now()

	s.sup.RequestDisconnect()
	if s.audit != nil {
		s.audit.LogAction(r.Context(), "session.disconnect", "", "ACCEPTED", time.Since(start))
	}

	WriteSuccess(w, map[string]string{"state": s.sup.State().String()})
}

// handleProfiles handles GET /profiles.
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET method is allowed", nil)
		return
	}

	presets := profile.All()
	list := make([]map[string]interface{}, 0, len(presets))
	for _, p := range presets {
		list = append(list, map[string]interface{}{
			"name": p.Name,
			"id":   p.ID,
			"levels": map[string]interface{}{
				"1": levelSummary(p.Level1),
				"2": levelSummary(p.Level2),
			},
		})
	}

	WriteSuccess(w, map[string]interface{}{
		"profiles": list,
		"active":   s.sup.ActiveProfile(),
	})
}

func levelSummary(l profile.Level) map[string]interface{} {
	return map[string]interface{}{
		"maxSpeedKmh": l.MaxSpeedKmh(),
		"maxTorque":   l.MaxTorque,
	}
}

// selectProfileRequest is the POST /profile body.
type selectProfileRequest struct {
	Profile string `json:"profile"`
	Level   int    `json:"level"`
}

// handleSelectProfile handles POST /profile.
func (s *Server) handleSelectProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST method is allowed", nil)
		return
	}

	start := time.Now()

	var req selectProfileRequest
	if !decodeStrict(w, r, &req) {
		return
	}

	p, err := profile.ByName(req.Profile)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_RANGE", err.Error(), nil)
		return
	}
	tuning, err := profile.MapperConfig(p, req.Level)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_RANGE", err.Error(), nil)
		return
	}

	s.sup.RequestProfile(p.Name, tuning)
	if s.audit != nil {
		s.audit.LogAction(r.Context(), "profile.select", fmt.Sprintf("%s level %d", p.Name, req.Level), "ACCEPTED", time.Since(start))
	}

	WriteSuccess(w, map[string]interface{}{
		"profile":      p.Name,
		"level":        req.Level,
		"maxSpeedFast": tuning.MaxSpeedFast,
	})
}

// decodeStrict decodes a JSON body rejecting unknown fields and
// trailing data. Writes the error response itself and returns false on
// failure.
func decodeStrict(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Malformed JSON or unknown fields", nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Trailing data after JSON object", nil)
		return false
	}
	return true
}
