package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/attendly/attendly-api/internal/models"
	"github.com/attendly/attendly-api/internal/service"
	appErrors "github.com/attendly/attendly-api/pkg/errors"
	"github.com/attendly/attendly-api/pkg/response"
)

type sessionRegistry interface {
	Create(ctx context.Context, req service.CreateSessionRequest, actor *models.JWTClaims) (*models.Session, error)
	GetActive(ctx context.Context) (*models.Session, error)
	FindByID(ctx context.Context, id string) (*models.Session, error)
	Expire(ctx context.Context, sessionID string, actor *models.JWTClaims) (int, error)
}

type qrEncoder interface {
	Encode(session *models.Session, now time.Time) (string, error)
}

// SessionHandler exposes the session lifecycle endpoints.
type SessionHandler struct {
	registry sessionRegistry
	codec    qrEncoder
}

// NewSessionHandler constructs the handler.
func NewSessionHandler(registry sessionRegistry, codec qrEncoder) *SessionHandler {
	return &SessionHandler{registry: registry, codec: codec}
}

// Create godoc
// @Summary Open a new check-in session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body service.CreateSessionRequest true "Session payload"
// @Success 201 {object} response.Envelope
// @Router /sessions [post]
func (h *SessionHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}

	session, err := h.registry.Create(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// GetActive godoc
// @Summary Fetch the currently active session
// @Tags Sessions
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/active [get]
func (h *SessionHandler) GetActive(c *gin.Context) {
	session, err := h.registry.GetActive(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// QR godoc
// @Summary Render the scannable payload for a session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/qr [get]
func (h *SessionHandler) QR(c *gin.Context) {
	session, err := h.registry.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	payload, err := h.codec.Encode(session, time.Now().UTC())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"payload":    payload,
		"expires_at": session.ExpiresAt,
	}, nil)
}

// Expire godoc
// @Summary Close a session and materialize absentees
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id}/expire [post]
func (h *SessionHandler) Expire(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	count, err := h.registry.Expire(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"absenteeCount": count}, nil)
}
