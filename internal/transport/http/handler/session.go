package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"wellness-sessions/internal/app"
	"wellness-sessions/internal/model"
	"wellness-sessions/internal/transport/http/middleware"
	"wellness-sessions/internal/transport/http/response"
)

type SessionHandler struct {
	sessionService *app.SessionService
	logger         zerolog.Logger
}

// SaveSessionRequest is the body of save-draft and publish. A present _id
// asks for an update of that session; otherwise a new one is created.
type SaveSessionRequest struct {
	ID          string   `json:"_id"`
	Title       string   `json:"title" binding:"required,max=200"`
	Description string   `json:"description" binding:"max=1000"`
	Tags        []string `json:"tags" binding:"max=50,dive,max=64"`
	JSONFileURL string   `json:"json_file_url" binding:"max=512"`
	Duration    int      `json:"duration" binding:"min=0"`
	Difficulty  string   `json:"difficulty"`
	Category    string   `json:"category"`
}

func (r SaveSessionRequest) command() app.SaveCommand {
	content := model.SessionContent{
		Title:       r.Title,
		Description: r.Description,
		Tags:        r.Tags,
		JSONFileURL: r.JSONFileURL,
		Duration:    r.Duration,
		Difficulty:  r.Difficulty,
		Category:    r.Category,
	}
	if id := strings.TrimSpace(r.ID); id != "" {
		return app.UpdateCommand(id, content)
	}
	return app.CreateCommand(content)
}

func NewSessionHandler(sessionService *app.SessionService, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{sessionService: sessionService, logger: logger}
}

func (h *SessionHandler) ListPublished(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	var tags []string
	if raw := c.Query("tags"); raw != "" {
		tags = strings.Split(raw, ",")
	}

	result, err := h.sessionService.ListPublished(c.Request.Context(), app.ListFilter{
		Category: c.Query("category"),
		Tags:     tags,
		Search:   c.Query("search"),
	}, page, limit)
	if err != nil {
		h.fail(c, err, "fetch sessions failed")
		return
	}
	response.OK(c, result)
}

func (h *SessionHandler) ListMine(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	sessions, err := h.sessionService.ListMine(c.Request.Context(), userID, c.Query("status"))
	if err != nil {
		h.fail(c, err, "fetch your sessions failed")
		return
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	response.OK(c, gin.H{"sessions": sessions})
}

func (h *SessionHandler) Get(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	session, err := h.sessionService.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.fail(c, err, "fetch session failed")
		return
	}
	response.OK(c, gin.H{"session": session})
}

func (h *SessionHandler) SaveDraft(c *gin.Context) {
	h.save(c, model.StatusDraft, "Session saved as draft")
}

func (h *SessionHandler) Publish(c *gin.Context) {
	h.save(c, model.StatusPublished, "Session published successfully")
}

func (h *SessionHandler) save(c *gin.Context, status, message string) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req SaveSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithDetail(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload", err.Error())
		return
	}

	session, err := h.sessionService.Save(c.Request.Context(), userID, req.command(), status)
	if err != nil {
		h.fail(c, err, "save session failed")
		return
	}
	response.OKWithMessage(c, message, gin.H{"session": session})
}

func (h *SessionHandler) Delete(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	if err := h.sessionService.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.fail(c, err, "delete session failed")
		return
	}
	response.OKWithMessage(c, "Session deleted successfully", nil)
}

func (h *SessionHandler) fail(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.ErrorWithDetail(c, http.StatusBadRequest, response.CodeBadRequest, "validation failed", err.Error())
	case errors.Is(err, app.ErrSessionNotFound):
		response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, "Session not found")
	default:
		_ = c.Error(err)
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg(fallback)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
