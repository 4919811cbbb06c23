package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attendly/attendly-api/internal/middleware"
	"github.com/attendly/attendly-api/internal/models"
	"github.com/attendly/attendly-api/internal/token"
	appErrors "github.com/attendly/attendly-api/pkg/errors"
)

type attendanceLedgerMock struct {
	recordResp    *models.CheckInResult
	recordErr     error
	userRecords   []models.AttendanceRecord
	listErr       error
	lastSessionID string
	lastMethod    models.CheckInMethod
	recordCalled  bool
}

func (m *attendanceLedgerMock) Record(ctx context.Context, sessionID string, principal *models.JWTClaims, method models.CheckInMethod) (*models.CheckInResult, error) {
	m.recordCalled = true
	m.lastSessionID = sessionID
	m.lastMethod = method
	return m.recordResp, m.recordErr
}

func (m *attendanceLedgerMock) ListForUser(ctx context.Context, principal *models.JWTClaims) ([]models.AttendanceRecord, error) {
	return m.userRecords, m.listErr
}

func (m *attendanceLedgerMock) ListForSession(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error) {
	m.lastSessionID = sessionID
	return m.userRecords, m.listErr
}

type qrDecoderMock struct {
	payload *token.Payload
	err     error
	lastRaw string
}

func (m *qrDecoderMock) Decode(raw string) (*token.Payload, error) {
	m.lastRaw = raw
	return m.payload, m.err
}

func checkInResult(duplicate bool) *models.CheckInResult {
	return &models.CheckInResult{
		Record: &models.AttendanceRecord{
			ID:          "att-1",
			SessionID:   "sess-1",
			UserID:      "stu-1",
			CheckInTime: time.Date(2026, 3, 9, 10, 5, 0, 0, time.UTC),
			Status:      models.AttendanceStatusPresent,
			Method:      models.MethodQR,
		},
		Duplicate: duplicate,
	}
}

func studentContext(w *httptest.ResponseRecorder) *gin.Context {
	c, _ := gin.CreateTestContext(w)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent})
	return c
}

func TestAttendanceHandlerRecordWithToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &attendanceLedgerMock{recordResp: checkInResult(false)}
	decoder := &qrDecoderMock{payload: &token.Payload{SessionID: "sess-1"}}
	handler := NewAttendanceHandler(mockSvc, decoder)

	w := httptest.NewRecorder()
	c := studentContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/attendance", bytes.NewBufferString(`{"token":"{\"sessionId\":\"sess-1\"}"}`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Record(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "sess-1", mockSvc.lastSessionID)
	assert.Equal(t, models.MethodQR, mockSvc.lastMethod)
}

func TestAttendanceHandlerRecordWithSessionID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &attendanceLedgerMock{recordResp: checkInResult(false)}
	handler := NewAttendanceHandler(mockSvc, &qrDecoderMock{})

	w := httptest.NewRecorder()
	c := studentContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/attendance", bytes.NewBufferString(`{"sessionId":"sess-1"}`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Record(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "sess-1", mockSvc.lastSessionID)
	assert.Equal(t, models.MethodCode, mockSvc.lastMethod)
}

func TestAttendanceHandlerRecordDuplicateGets200(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &attendanceLedgerMock{recordResp: checkInResult(true)}
	handler := NewAttendanceHandler(mockSvc, &qrDecoderMock{})

	w := httptest.NewRecorder()
	c := studentContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/attendance", bytes.NewBufferString(`{"sessionId":"sess-1"}`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Record(c)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data models.CheckInResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.True(t, envelope.Data.Duplicate)
}

func TestAttendanceHandlerRecordMalformedToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &attendanceLedgerMock{}
	decoder := &qrDecoderMock{err: appErrors.Clone(appErrors.ErrMalformedPayload, "")}
	handler := NewAttendanceHandler(mockSvc, decoder)

	w := httptest.NewRecorder()
	c := studentContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/attendance", bytes.NewBufferString(`{"token":"garbage"}`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Record(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, mockSvc.recordCalled)
}

func TestAttendanceHandlerRecordMissingInput(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &attendanceLedgerMock{}
	handler := NewAttendanceHandler(mockSvc, &qrDecoderMock{})

	w := httptest.NewRecorder()
	c := studentContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/attendance", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Record(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, mockSvc.recordCalled)
}

func TestAttendanceHandlerRecordExpiredSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &attendanceLedgerMock{recordErr: appErrors.Clone(appErrors.ErrSessionExpired, "")}
	handler := NewAttendanceHandler(mockSvc, &qrDecoderMock{})

	w := httptest.NewRecorder()
	c := studentContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/attendance", bytes.NewBufferString(`{"sessionId":"sess-1"}`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Record(c)
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestAttendanceHandlerRecordUnauthenticated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &attendanceLedgerMock{}
	handler := NewAttendanceHandler(mockSvc, &qrDecoderMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/attendance", bytes.NewBufferString(`{"sessionId":"sess-1"}`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Record(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, mockSvc.recordCalled)
}

func TestAttendanceHandlerMe(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &attendanceLedgerMock{userRecords: []models.AttendanceRecord{
		{ID: "att-2", SessionID: "sess-2", UserID: "stu-1"},
		{ID: "att-1", SessionID: "sess-1", UserID: "stu-1"},
	}}
	handler := NewAttendanceHandler(mockSvc, &qrDecoderMock{})

	w := httptest.NewRecorder()
	c := studentContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/attendance/me", nil)
	c.Request = req

	handler.Me(c)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data []models.AttendanceRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Len(t, envelope.Data, 2)
}

func TestAttendanceHandlerBySession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &attendanceLedgerMock{userRecords: []models.AttendanceRecord{{ID: "att-1", SessionID: "sess-1"}}}
	handler := NewAttendanceHandler(mockSvc, &qrDecoderMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/attendance/sessions/sess-1", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "sess-1"}}

	handler.BySession(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sess-1", mockSvc.lastSessionID)
}
