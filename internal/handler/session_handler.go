package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
)

// SessionHandler serves the stateless session endpoints.
type SessionHandler struct {
	sessions *service.Sessions
	log      zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions *service.Sessions, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		log:      log.With().Str("component", "session_handler").Logger(),
	}
}

// SessionQuery identifies one stored configuration.
type SessionQuery struct {
	TestID string `form:"test_id" json:"test_id" binding:"required,max=128"`
	Mode   string `form:"mode" json:"mode" binding:"required,oneof=full custom"`
	// Parts is a comma separated part selection, e.g. "3,5".
	Parts string `form:"parts" json:"parts" binding:"max=256,excludes=-"`
}

func (q *SessionQuery) partList() []string {
	if strings.TrimSpace(q.Parts) == "" {
		return nil
	}
	return strings.Split(q.Parts, ",")
}

// CheckExisting godoc
// GET /api/v1/sessions/:exam_type/existing?test_id=&mode=&parts=
// Reports whether a resumable session exists for the configuration.
func (h *SessionHandler) CheckExisting(c *gin.Context) {
	var q SessionQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	rec, err := h.sessions.CheckExisting(c.Request.Context(), examType(c), middleware.GetUserID(c), q.TestID, model.TestMode(q.Mode), q.partList())
	if err != nil {
		h.fail(c, err)
		return
	}

	if rec == nil {
		response.Success(c, http.StatusOK, gin.H{"exists": false, "session": nil})
		return
	}
	response.Success(c, http.StatusOK, gin.H{"exists": true, "session": model.Summarize(rec, time.Now())})
}

// ListSessions godoc
// GET /api/v1/sessions/:exam_type
// Lists the learner's resumable sessions, most recent first.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	recs, err := h.sessions.ListForUser(c.Request.Context(), examType(c), middleware.GetUserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	now := time.Now()
	summaries := make([]model.SessionSummary, 0, len(recs))
	for _, rec := range recs {
		summaries = append(summaries, model.Summarize(rec, now))
	}
	response.Success(c, http.StatusOK, gin.H{"sessions": summaries})
}

// DeleteSession godoc
// DELETE /api/v1/sessions/:exam_type?test_id=&mode=&parts=
// Discards a stored session. Deleting a missing session succeeds.
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	var q SessionQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessions.Delete(c.Request.Context(), examType(c), middleware.GetUserID(c), q.TestID, model.TestMode(q.Mode), q.partList()); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "session deleted successfully"})
}

// ClearSessions godoc
// DELETE /api/v1/admin/sessions/:exam_type
// Empties a whole collection. Developer tooling only.
func (h *SessionHandler) ClearSessions(c *gin.Context) {
	et := examType(c)
	if err := h.sessions.ClearAll(c.Request.Context(), et); err != nil {
		h.fail(c, err)
		return
	}

	h.log.Warn().Str("exam_type", string(et)).Str("request_id", response.RequestID(c)).Msg("Session collection cleared")
	response.Success(c, http.StatusOK, gin.H{"message": "sessions cleared"})
}

func (h *SessionHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrUnknownExamType):
		response.Fail(c, http.StatusNotFound, response.ErrUnknownExamType)
	case errors.Is(err, database.ErrStoreUnavailable):
		h.log.Warn().Err(err).Msg("Store unavailable")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrStoreUnavailable)
	default:
		h.log.Error().Err(err).Msg("Session request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

func examType(c *gin.Context) model.ExamType {
	return model.ExamType(c.Param("exam_type"))
}
