package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"strix/internal/agent"
	"strix/internal/errors"
	"strix/internal/llm"
	"strix/internal/logging"
	"strix/internal/session"
)

type sessionHandler struct {
	sessions *session.Store
	contexts *session.ContextStore
	runner   *agent.Runner
	logger   logging.Logger
}

func newSessionHandler(sessions *session.Store, contexts *session.ContextStore, runner *agent.Runner) *sessionHandler {
	return &sessionHandler{
		sessions: sessions,
		contexts: contexts,
		runner:   runner,
		logger:   logging.NewComponentLogger("session-api"),
	}
}

type sessionResponse struct {
	SessionID       string    `json:"sessionId"`
	Status          string    `json:"status"`
	TaskDescription string    `json:"taskDescription"`
	IterationCount  int       `json:"iterationCount"`
	Result          string    `json:"result"`
	ErrorMessage    string    `json:"errorMessage"`
	SubscribePath   string    `json:"subscribePath"`
	CreateTime      time.Time `json:"createTime"`
	UpdateTime      time.Time `json:"updateTime"`
}

func toSessionResponse(s *session.Session) sessionResponse {
	return sessionResponse{
		SessionID:       s.ID,
		Status:          string(s.Status),
		TaskDescription: s.TaskDescription,
		IterationCount:  s.IterationCount,
		Result:          s.Result,
		ErrorMessage:    s.ErrorMessage,
		SubscribePath:   s.SubscribePath(),
		CreateTime:      s.CreateTime,
		UpdateTime:      s.UpdateTime,
	}
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch errors.KindOf(err) {
	case errors.KindValidation:
		status = http.StatusBadRequest
	case errors.KindNotFound:
		status = http.StatusNotFound
	case errors.KindStoreConflict:
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

type createSessionRequest struct {
	Task      string `json:"task"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

func (h *sessionHandler) create(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	sess, err := h.sessions.Create(&session.Session{
		ID:              req.SessionID,
		UserID:          req.UserID,
		TaskDescription: req.Task,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if h.runner != nil {
		h.runner.Submit(sess.ID)
	}
	c.JSON(http.StatusCreated, toSessionResponse(sess))
}

func (h *sessionHandler) list(c *gin.Context) {
	sessions := h.sessions.List()
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionResponse(s))
	}
	c.JSON(http.StatusOK, out)
}

func (h *sessionHandler) get(c *gin.Context) {
	sess, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(sess))
}

func (h *sessionHandler) pause(c *gin.Context) {
	sess, err := h.sessions.Update(c.Param("id"), func(s *session.Session) error {
		if s.Status != session.StatusRunning {
			return errors.New(errors.KindStoreConflict, "session is not running")
		}
		s.Status = session.StatusPaused
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(sess))
}

func (h *sessionHandler) resume(c *gin.Context) {
	sess, err := h.sessions.Update(c.Param("id"), func(s *session.Session) error {
		if s.Status != session.StatusPaused {
			return errors.New(errors.KindStoreConflict, "session is not paused")
		}
		s.Status = session.StatusRunning
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(sess))
}

type continueRequest struct {
	Message string `json:"message"`
}

// resumeWithMessage appends a user turn and re-enters the loop, which
// resumes the stored context as-is.
func (h *sessionHandler) resumeWithMessage(c *gin.Context) {
	var req continueRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	id := c.Param("id")
	sess, err := h.sessions.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.contexts.Append(id, llm.UserMessage(req.Message)); err != nil {
		writeError(c, err)
		return
	}
	if h.runner != nil {
		h.runner.Submit(id)
	}
	h.logger.Info("Session %s continued with a new user message", sess.ID)
	c.JSON(http.StatusOK, toSessionResponse(sess))
}

// abort force-fails a session. Terminal sessions are left untouched so the
// call stays idempotent.
func (h *sessionHandler) abort(c *gin.Context) {
	sess, err := h.sessions.Update(c.Param("id"), func(s *session.Session) error {
		if s.Status.Terminal() {
			return nil
		}
		s.Status = session.StatusFailed
		s.ErrorMessage = "Aborted by user"
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(sess))
}
