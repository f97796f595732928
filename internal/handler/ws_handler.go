package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/validator"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams one exam tab per WebSocket connection.
type WSHandler struct {
	sessions   *service.Sessions
	log        zerolog.Logger
	upgrader   websocket.Upgrader
	readExpiry time.Duration
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions *service.Sessions, log zerolog.Logger, allowedOrigins []string, readExpiry time.Duration) *WSHandler {
	return &WSHandler{
		sessions:   sessions,
		log:        log.With().Str("component", "ws_handler").Logger(),
		upgrader:   buildUpgrader(allowedOrigins),
		readExpiry: readExpiry,
	}
}

// tabConn is the per-connection state: the tab plus any resume prompt
// waiting for the learner's choice.
type tabConn struct {
	tab    service.Tab
	conn   *ws.Conn
	log    zerolog.Logger
	prompt service.Prompt
}

// SessionStream godoc
// WS /ws/v1/sessions/:exam_type/stream?review=true
// Upgrades to WebSocket; the connection owns one in-memory session.
func (h *WSHandler) SessionStream(c *gin.Context) {
	userID := middleware.GetUserID(c)
	tab, err := h.sessions.NewTab(examType(c), userID, c.Query("review") == "true")
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrUnknownExamType)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		tab.Close()
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer raw.Close()
	defer tab.Close()

	tc := &tabConn{
		tab:  tab,
		conn: ws.NewConn(raw, h.readExpiry),
		log: h.log.With().
			Str("user_id", userID).
			Str("exam_type", c.Param("exam_type")).
			Str("tab_id", uuid.NewString()).
			Str("request_id", response.RequestID(c)).
			Logger(),
	}
	tab.OnSaved(func(version int64) {
		_ = tc.conn.WriteTyped(ws.SavedResponse{Event: ws.EventSaved, Version: version})
	})
	tab.OnConflict(tc.pushConflict)

	tc.log.Info().Msg("Tab connected")
	tc.serve()
	tc.log.Info().Msg("Tab disconnected")
}

func (tc *tabConn) serve() {
	for {
		action, raw, err := tc.conn.ReadEnvelope()
		if errors.Is(err, ws.ErrMalformedMessage) {
			tc.fail(response.ErrInvalidPayload, nil)
			continue
		}
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				tc.log.Warn().Err(err).Msg("Unexpected close")
			}
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		tc.dispatch(ctx, action, raw)
		cancel()
	}
}

func (tc *tabConn) dispatch(ctx context.Context, action ws.Action, raw []byte) {
	switch action {
	case ws.ActionStart:
		tc.handleStart(ctx, raw)
	case ws.ActionContinue:
		tc.handleChoice(ctx, true)
	case ws.ActionRestart:
		tc.handleChoice(ctx, false)
	case ws.ActionAnswer:
		var req ws.AnswerRequest
		if tc.decode(raw, &req) {
			tc.mutate(tc.tab.SaveAnswer(req.Question, req.Answer))
		}
	case ws.ActionTime:
		var req ws.TimeRequest
		if tc.decode(raw, &req) {
			tc.mutate(tc.tab.UpdateTimeRemaining(time.Duration(req.RemainingMs) * time.Millisecond))
		}
	case ws.ActionNavigate:
		var req ws.NavigateRequest
		if tc.decode(raw, &req) {
			tc.mutate(tc.tab.Navigate(req.Question))
		}
	case ws.ActionComplete:
		tc.handleComplete(ctx)
	case ws.ActionEnd:
		tc.prompt = nil
		tc.tab.Abandon()
		_ = tc.conn.WriteTyped(ws.EndedResponse{Event: ws.EventEnded})
	case ws.ActionSnapshot:
		tc.writeState(ws.EventState)
	case ws.ActionTakeOver:
		if err := tc.tab.TakeOver(ctx); err != nil {
			tc.failErr(err)
			return
		}
		tc.writeState(ws.EventState)
	case ws.ActionPing:
		_ = tc.conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
	default:
		tc.log.Warn().Str("action", string(action)).Msg("Unknown action")
		tc.fail(response.ErrUnknownAction, nil)
	}
}

func (tc *tabConn) handleStart(ctx context.Context, raw []byte) {
	var req ws.StartRequest
	if !tc.decode(raw, &req) {
		return
	}

	test := model.Test{ID: req.TestID, TotalQuestions: req.TotalQuestions}
	limit := time.Duration(req.TimeLimitMs) * time.Millisecond
	prompt, err := tc.tab.RequestStart(ctx, test, limit, model.TestMode(req.Mode), req.Parts)
	if err != nil {
		tc.failErr(err)
		return
	}

	if prompt == nil {
		tc.prompt = nil
		tc.writeState(ws.EventStarted)
		return
	}

	tc.prompt = prompt
	_ = tc.conn.WriteTyped(ws.ResumePromptResponse{
		Event:    ws.EventResumePrompt,
		Existing: model.Summarize(prompt.Record(), time.Now()),
	})
}

func (tc *tabConn) handleChoice(ctx context.Context, resume bool) {
	if tc.prompt == nil {
		tc.fail(response.ErrNoPendingPrompt, nil)
		return
	}
	prompt := tc.prompt
	tc.prompt = nil

	if resume {
		if err := prompt.Continue(ctx); err != nil {
			tc.failErr(err)
			return
		}
		tc.writeState(ws.EventRestored)
		return
	}

	if err := prompt.Restart(ctx); err != nil {
		tc.failErr(err)
		return
	}
	tc.writeState(ws.EventRestarted)
}

func (tc *tabConn) handleComplete(ctx context.Context) {
	view, _ := tc.tab.View()
	if err := tc.tab.Complete(ctx); err != nil {
		tc.failErr(err)
		return
	}
	_ = tc.conn.WriteTyped(ws.CompletedResponse{
		Event:          ws.EventCompleted,
		Answered:       view.Answered,
		TotalQuestions: view.TotalQuestions,
	})
}

// mutate acknowledges an in-memory change with the resulting state.
func (tc *tabConn) mutate(err error) {
	if err != nil {
		tc.failErr(err)
		return
	}
	tc.writeState(ws.EventState)
}

func (tc *tabConn) writeState(event ws.Event) {
	view, ok := tc.tab.View()
	if !ok {
		_ = tc.conn.WriteTyped(ws.StateResponse{Event: event, Session: nil})
		return
	}
	_ = tc.conn.WriteTyped(ws.StateResponse{Event: event, Session: view})
}

func (tc *tabConn) pushConflict(stored model.Record) {
	resp := ws.ConflictResponse{Event: ws.EventConflict}
	if stored != nil {
		summary := model.Summarize(stored, time.Now())
		resp.Stored = &summary
	}
	_ = tc.conn.WriteTyped(resp)
}

func (tc *tabConn) decode(raw []byte, dst interface{}) bool {
	if err := json.Unmarshal(raw, dst); err != nil {
		tc.fail(response.ErrInvalidPayload, validator.TranslateErrors(err))
		return false
	}
	if fields := validator.Validate(dst); fields != nil {
		tc.fail(response.ErrValidation, fields)
		return false
	}
	return true
}

func (tc *tabConn) failErr(err error) {
	switch {
	case errors.Is(err, session.ErrSessionActive):
		tc.fail(response.ErrSessionActive, nil)
	case errors.Is(err, session.ErrNoSession):
		tc.fail(response.ErrNoSession, nil)
	default:
		tc.log.Error().Err(err).Msg("Tab action failed")
		tc.fail(response.ErrInternal, nil)
	}
}

func (tc *tabConn) fail(code response.ErrCode, fields map[string]string) {
	_ = tc.conn.WriteError(string(code), response.GetMessage(code), fields)
}
