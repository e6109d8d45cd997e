package attendance

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TokenType is the type tag carried by every attendance token.
const TokenType = "attendance"

// maxPayload bounds the size of a submitted payload.
const maxPayload = 2048

// Token is the logical content of an attendance QR code.
type Token struct {
	GroupRef string
	Subject  string
	IssuedAt time.Time
}

type wireToken struct {
	Type     *string `json:"type"`
	GroupRef *string `json:"group_ref"`
	Subject  *string `json:"subject"`
	IssuedAt *string `json:"issued_at"`
}

// DecodeError reports a payload that is not a well-formed attendance token.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "attendance: invalid token: " + e.Reason
}

// Encode serializes a token into its compact JSON form. The issuance time is
// written in UTC with nanosecond precision so Decode returns it unchanged.
// Encode refuses anything Decode would reject.
func Encode(groupRef, subject string, issuedAt time.Time) (string, error) {
	if strings.TrimSpace(groupRef) == "" || strings.TrimSpace(subject) == "" || issuedAt.IsZero() {
		return "", fmt.Errorf("attendance: encode: group, subject and time are required")
	}
	typ := TokenType
	ts := issuedAt.UTC().Format(time.RFC3339Nano)
	b, err := json.Marshal(wireToken{Type: &typ, GroupRef: &groupRef, Subject: &subject, IssuedAt: &ts})
	if err != nil {
		return "", fmt.Errorf("attendance: encode: %w", err)
	}
	if len(b) > maxPayload {
		return "", fmt.Errorf("attendance: encode: payload exceeds %d bytes", maxPayload)
	}
	return string(b), nil
}

// Decode parses a payload of unknown origin. Any deviation from the token
// shape yields a *DecodeError.
func Decode(payload string) (Token, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Token{}, &DecodeError{Reason: "empty payload"}
	}
	if len(payload) > maxPayload {
		return Token{}, &DecodeError{Reason: "payload too large"}
	}
	var w wireToken
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return Token{}, &DecodeError{Reason: "not a json object"}
	}
	switch {
	case w.Type == nil:
		return Token{}, &DecodeError{Reason: "missing type"}
	case *w.Type != TokenType:
		return Token{}, &DecodeError{Reason: "wrong type " + *w.Type}
	case w.GroupRef == nil || strings.TrimSpace(*w.GroupRef) == "":
		return Token{}, &DecodeError{Reason: "missing group_ref"}
	case w.Subject == nil || strings.TrimSpace(*w.Subject) == "":
		return Token{}, &DecodeError{Reason: "missing subject"}
	case w.IssuedAt == nil:
		return Token{}, &DecodeError{Reason: "missing issued_at"}
	}
	issued, err := time.Parse(time.RFC3339Nano, *w.IssuedAt)
	if err != nil {
		return Token{}, &DecodeError{Reason: "bad issued_at"}
	}
	return Token{GroupRef: *w.GroupRef, Subject: *w.Subject, IssuedAt: issued.UTC()}, nil
}
