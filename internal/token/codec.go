package token

import (
	"encoding/json"
	"time"

	"github.com/attendly/attendly-api/internal/models"
	appErrors "github.com/attendly/attendly-api/pkg/errors"
)

// Payload is the self-describing QR payload rendered into the scannable
// symbol as UTF-8 JSON. A scanner learns session identity from the payload
// alone, no prior network call needed. The embedded expiry drives the client
// countdown only; the live registry state is the sole trust boundary.
type Payload struct {
	SessionID   string    `json:"sessionId"`
	Name        string    `json:"name"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	Duration    int       `json:"duration"`
	GeneratedAt time.Time `json:"generatedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Codec encodes and decodes QR payloads.
type Codec struct{}

// NewCodec constructs a codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Encode renders the session as a scannable payload string. generatedAt is
// stamped from the supplied clock so repeated renders of one session differ
// only in that field.
func (c *Codec) Encode(session *models.Session, now time.Time) (string, error) {
	payload := Payload{
		SessionID:   session.ID,
		Name:        session.Name,
		Date:        session.CreatedAt.Format("2006-01-02"),
		Time:        session.CreatedAt.Format("15:04"),
		Duration:    int(session.ExpiresAt.Sub(session.CreatedAt) / time.Minute),
		GeneratedAt: now.UTC(),
		ExpiresAt:   session.ExpiresAt,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode QR payload")
	}
	return string(raw), nil
}

// Decode parses a scanned payload. It never accepts or rejects on the
// embedded expiry; that check happens only against live registry state.
func (c *Codec) Decode(raw string) (*Payload, error) {
	var payload Payload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrMalformedPayload.Code, appErrors.ErrMalformedPayload.Status, appErrors.ErrMalformedPayload.Message)
	}
	if payload.SessionID == "" {
		return nil, appErrors.Clone(appErrors.ErrMissingSessionID, "")
	}
	return &payload, nil
}
