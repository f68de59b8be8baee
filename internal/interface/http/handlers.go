package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/alem-hub/focus-quest/config"
	"github.com/alem-hub/focus-quest/internal/application/command"
	"github.com/alem-hub/focus-quest/internal/application/query"
	"github.com/alem-hub/focus-quest/internal/domain/session"
	"github.com/alem-hub/focus-quest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"name":    "FocusQuest API",
		"version": s.config.Version,
		"endpoints": map[string]string{
			"health":      "/health",
			"users":       "/api/v1/users",
			"leaderboard": "/api/v1/leaderboard",
			"companions":  "/api/v1/companions",
			"tiers":       "/api/v1/tiers",
		},
	})
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]interface{}{
			"healthy": true,
			"uptime":  s.Uptime().String(),
			"version": s.config.Version,
		})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// handleReady handles the readiness probe endpoint.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		if status := s.deps.HealthChecker.Check(r.Context()); !status.Ready {
			writeJSONError(w, r, http.StatusServiceUnavailable, "not_ready", status.Message)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// handleSystemJobs reports scheduler jobs and event bus counters.
func (s *Server) handleSystemJobs(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{}
	if s.deps.Jobs != nil {
		data["jobs"] = s.deps.Jobs.ListJobs()
		data["history"] = s.deps.Jobs.GetHistory(getQueryParamInt(r, "history", 20))
	}
	if s.deps.Bus != nil {
		if m := s.deps.Bus.Metrics(); m != nil {
			data["event_bus"] = m.Snapshot()
		}
	}
	writeJSON(w, r, http.StatusOK, data)
}

// handleSystemFeatures lists feature flags with their rollout.
func (s *Server) handleSystemFeatures(w http.ResponseWriter, r *http.Request) {
	if s.deps.Features == nil {
		writeJSON(w, r, http.StatusOK, []config.Feature{})
		return
	}
	writeJSON(w, r, http.StatusOK, s.deps.Features.GetAllFeatures())
}

// ══════════════════════════════════════════════════════════════════════════════
// USER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type createUserRequest struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

type equipCompanionRequest struct {
	CompanionID string `json:"companion_id"`
}

// handleCreateUser handles POST /api/v1/users
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if s.deps.CreateUser == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "User creation not configured")
		return
	}

	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	u, err := s.deps.CreateUser.Handle(r.Context(), command.CreateUserCommand{
		ID:       req.ID,
		Nickname: req.Nickname,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.writeProfile(w, r, http.StatusCreated, u.ID)
}

// handleGetUser handles GET /api/v1/users/{id}
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	s.writeProfile(w, r, http.StatusOK, r.PathValue("id"))
}

// handleEquipCompanion handles PUT /api/v1/users/{id}/companion
func (s *Server) handleEquipCompanion(w http.ResponseWriter, r *http.Request) {
	if s.deps.EquipCompanion == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Companions not configured")
		return
	}

	var req equipCompanionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	userID := r.PathValue("id")
	if _, err := s.deps.EquipCompanion.Handle(r.Context(), command.EquipCompanionCommand{
		UserID:      userID,
		CompanionID: req.CompanionID,
	}); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.writeProfile(w, r, http.StatusOK, userID)
}

// handleListSessions handles GET /api/v1/users/{id}/sessions
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.deps.ListSessions == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Session log not configured")
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	result, err := s.deps.ListSessions.Handle(r.Context(), query.ListSessionsQuery{
		UserID: r.PathValue("id"),
		Limit:  limit,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, result, &ResponseMeta{TotalCount: len(result.Sessions)})
}

func (s *Server) writeProfile(w http.ResponseWriter, r *http.Request, status int, userID string) {
	if s.deps.Profile == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Profiles not configured")
		return
	}

	profile, err := s.deps.Profile.Handle(r.Context(), query.GetUserProfileQuery{UserID: userID})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, status, profile)
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// stopResponse is the verdict of a stopped session.
type stopResponse struct {
	Outcome session.Outcome `json:"outcome"`
	Status  session.Status  `json:"status"`

	// Warning is set when the verdict was reached but delivering it failed.
	Warning string `json:"warning,omitempty"`
}

// handleSessionSnapshot handles GET /api/v1/users/{id}/session
func (s *Server) handleSessionSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.requireSessions(w, r) {
		return
	}

	userID := r.PathValue("id")
	if timer, ok := s.deps.Sessions.Lookup(userID); ok {
		writeJSON(w, r, http.StatusOK, timer.Snapshot())
		return
	}
	writeJSON(w, r, http.StatusOK, session.Snapshot{UserID: userID, State: session.StateIdle})
}

// handleSessionStart handles POST /api/v1/users/{id}/session/start
func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if !s.requireSessions(w, r) {
		return
	}

	userID := r.PathValue("id")
	if s.deps.Users != nil {
		if _, err := s.deps.Users.Get(r.Context(), userID); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	}

	timer, err := s.deps.Sessions.Get(userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	if !timer.Start() {
		writeJSONError(w, r, http.StatusConflict, "already_running", "A session is already running")
		return
	}
	writeJSON(w, r, http.StatusOK, timer.Snapshot())
}

// handleSessionStop handles POST /api/v1/users/{id}/session/stop
func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	timer, ok := s.runningTimer(w, r)
	if !ok {
		return
	}

	outcome, err := timer.Stop()
	if err != nil && outcome.SessionID == "" {
		s.writeDomainError(w, r, err)
		return
	}

	resp := stopResponse{Outcome: outcome, Status: outcome.Status()}
	if err != nil {
		s.logger.Warn("session stopped but award failed",
			"user_id", outcome.UserID,
			"session_id", outcome.SessionID,
			"error", err,
		)
		resp.Warning = "progress will be saved later"
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleSessionAbort handles POST /api/v1/users/{id}/session/abort
func (s *Server) handleSessionAbort(w http.ResponseWriter, r *http.Request) {
	if !s.requireSessions(w, r) {
		return
	}

	aborted := false
	if timer, ok := s.deps.Sessions.Lookup(r.PathValue("id")); ok {
		aborted = timer.ForceStop("aborted")
	}
	writeJSON(w, r, http.StatusOK, map[string]bool{"aborted": aborted})
}

// handleSessionBackground handles POST /api/v1/users/{id}/session/background
func (s *Server) handleSessionBackground(w http.ResponseWriter, r *http.Request) {
	timer, ok := s.runningTimer(w, r)
	if !ok {
		return
	}
	timer.EnterBackground()
	writeJSON(w, r, http.StatusOK, timer.Snapshot())
}

// handleSessionForeground handles POST /api/v1/users/{id}/session/foreground
func (s *Server) handleSessionForeground(w http.ResponseWriter, r *http.Request) {
	timer, ok := s.runningTimer(w, r)
	if !ok {
		return
	}
	timer.EnterForeground()
	writeJSON(w, r, http.StatusOK, timer.Snapshot())
}

func (s *Server) requireSessions(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.Sessions == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Sessions not configured")
		return false
	}
	return true
}

// runningTimer resolves the user's timer and answers 409 when it is idle.
func (s *Server) runningTimer(w http.ResponseWriter, r *http.Request) (*session.Timer, bool) {
	if !s.requireSessions(w, r) {
		return nil, false
	}

	timer, ok := s.deps.Sessions.Lookup(r.PathValue("id"))
	if !ok || !timer.IsRunning() {
		s.writeDomainError(w, r, session.ErrNotRunning)
		return nil, false
	}
	return timer, true
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD & CATALOG HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetLeaderboard handles GET /api/v1/leaderboard
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.deps.Leaderboard == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Leaderboard not configured")
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	result, err := s.deps.Leaderboard.Handle(r.Context(), query.GetLeaderboardQuery{Limit: limit})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, result.Entries, &ResponseMeta{
		TotalCount: len(result.Entries),
		Source:     result.Source,
	})
}

// handleListCompanions handles GET /api/v1/companions
func (s *Server) handleListCompanions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Catalog not configured")
		return
	}
	writeJSON(w, r, http.StatusOK, s.deps.Catalog.Companions())
}

// handleListTiers handles GET /api/v1/tiers
// With ?level=N the experience required to finish level N is included.
func (s *Server) handleListTiers(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Catalog not configured")
		return
	}

	data := map[string]interface{}{"tiers": s.deps.Catalog.Tiers()}
	if raw := r.URL.Query().Get("level"); raw != "" {
		level, err := strconv.Atoi(raw)
		if err != nil || level < 1 {
			writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "level must be a positive integer")
			return
		}
		data["level"] = level
		data["required_exp"] = s.deps.Catalog.Requirement(level)
	}
	writeJSON(w, r, http.StatusOK, data)
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decodeJSON decodes an optional JSON body. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// parseLimit reads ?limit=; a malformed value is answered with 400.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request",
			shared.ErrInvalidInput.Error()+": limit must be an integer")
		return 0, false
	}
	return limit, true
}

// getQueryParamInt extracts an integer query parameter with a default value.
func getQueryParamInt(r *http.Request, key string, defaultValue int) int {
	value, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return defaultValue
	}
	return value
}
