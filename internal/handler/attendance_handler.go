package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/attendly/attendly-api/internal/models"
	"github.com/attendly/attendly-api/internal/token"
	appErrors "github.com/attendly/attendly-api/pkg/errors"
	"github.com/attendly/attendly-api/pkg/response"
)

type attendanceLedger interface {
	Record(ctx context.Context, sessionID string, principal *models.JWTClaims, method models.CheckInMethod) (*models.CheckInResult, error)
	ListForUser(ctx context.Context, principal *models.JWTClaims) ([]models.AttendanceRecord, error)
	ListForSession(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error)
}

type qrDecoder interface {
	Decode(raw string) (*token.Payload, error)
}

// AttendanceHandler exposes check-in and listing endpoints.
type AttendanceHandler struct {
	ledger attendanceLedger
	codec  qrDecoder
}

// NewAttendanceHandler constructs the handler.
func NewAttendanceHandler(ledger attendanceLedger, codec qrDecoder) *AttendanceHandler {
	return &AttendanceHandler{ledger: ledger, codec: codec}
}

// checkInRequest accepts either a scanned QR payload or a bare session id
// typed in for manual check-in.
type checkInRequest struct {
	Token     string `json:"token"`
	SessionID string `json:"sessionId"`
}

// Record godoc
// @Summary Check the authenticated principal into a session
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body checkInRequest true "Scanned token or session id"
// @Success 200 {object} response.Envelope "Already recorded"
// @Success 201 {object} response.Envelope "First check-in"
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Router /attendance [post]
func (h *AttendanceHandler) Record(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}

	sessionID := req.SessionID
	method := models.MethodCode
	if req.Token != "" {
		payload, err := h.codec.Decode(req.Token)
		if err != nil {
			response.Error(c, err)
			return
		}
		sessionID = payload.SessionID
		method = models.MethodQR
	}
	if sessionID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token or sessionId is required"))
		return
	}

	result, err := h.ledger.Record(c.Request.Context(), sessionID, claims, method)
	if err != nil {
		response.Error(c, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	response.JSON(c, status, result, nil)
}

// Me godoc
// @Summary List the authenticated principal's attendance, newest first
// @Tags Attendance
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /attendance/me [get]
func (h *AttendanceHandler) Me(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	records, err := h.ledger.ListForUser(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// BySession godoc
// @Summary List every record a session holds
// @Tags Attendance
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /attendance/sessions/{id} [get]
func (h *AttendanceHandler) BySession(c *gin.Context) {
	records, err := h.ledger.ListForSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}
