package attendance

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		group   string
		subject string
		issued  time.Time
	}{
		{name: "second precision", group: "G1", subject: "Math", issued: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)},
		{name: "nanoseconds", group: "10B", subject: "Physics", issued: time.Date(2026, 3, 2, 9, 30, 1, 123456789, time.UTC)},
		{name: "non utc zone", group: "G2", subject: "History", issued: time.Date(2026, 3, 2, 12, 0, 0, 0, time.FixedZone("MSK", 3*3600))},
		{name: "unicode subject", group: "ИТ-1", subject: "Математика", issued: time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := Encode(tt.group, tt.subject, tt.issued)
			require.NoError(t, err)

			tok, err := Decode(payload)
			require.NoError(t, err)
			assert.Equal(t, tt.group, tok.GroupRef)
			assert.Equal(t, tt.subject, tok.Subject)
			assert.True(t, tt.issued.Equal(tok.IssuedAt), "issued_at %s != %s", tok.IssuedAt, tt.issued)
		})
	}
}

func TestEncodeRejectsWhatDecodeRejects(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name           string
		group, subject string
		at             time.Time
	}{
		{"empty group", "", "Math", now},
		{"blank group", "  ", "Math", now},
		{"empty subject", "G1", "", now},
		{"blank subject", "G1", "\t\n", now},
		{"zero time", "G1", "Math", time.Time{}},
		{"oversized", "G1", strings.Repeat("x", maxPayload), now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.group, tt.subject, tt.at)
			assert.Error(t, err)
		})
	}
}

func TestDecodeRejectsMalformedPayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "empty", payload: ""},
		{name: "whitespace", payload: "   "},
		{name: "not json", payload: "hello"},
		{name: "json array", payload: `["attendance"]`},
		{name: "json null", payload: `null`},
		{name: "missing type", payload: `{"group_ref":"G1","subject":"Math","issued_at":"2026-03-02T09:30:00Z"}`},
		{name: "wrong type", payload: `{"type":"lunch","group_ref":"G1","subject":"Math","issued_at":"2026-03-02T09:30:00Z"}`},
		{name: "type not string", payload: `{"type":1,"group_ref":"G1","subject":"Math","issued_at":"2026-03-02T09:30:00Z"}`},
		{name: "missing group", payload: `{"type":"attendance","subject":"Math","issued_at":"2026-03-02T09:30:00Z"}`},
		{name: "blank group", payload: `{"type":"attendance","group_ref":" ","subject":"Math","issued_at":"2026-03-02T09:30:00Z"}`},
		{name: "missing subject", payload: `{"type":"attendance","group_ref":"G1","issued_at":"2026-03-02T09:30:00Z"}`},
		{name: "missing time", payload: `{"type":"attendance","group_ref":"G1","subject":"Math"}`},
		{name: "bad time", payload: `{"type":"attendance","group_ref":"G1","subject":"Math","issued_at":"yesterday"}`},
		{name: "numeric time", payload: `{"type":"attendance","group_ref":"G1","subject":"Math","issued_at":1700000000}`},
		{name: "truncated", payload: `{"type":"attendance","group_ref":"G1"`},
		{name: "too large", payload: `{"type":"attendance","group_ref":"` + strings.Repeat("A", 3000) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.payload)
			require.Error(t, err)
			var de *DecodeError
			assert.ErrorAs(t, err, &de)
		})
	}
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	tok, err := Decode(`{"type":"attendance","group_ref":"G1","subject":"Math","issued_at":"2026-03-02T09:30:00Z","extra":true}`)
	require.NoError(t, err)
	assert.Equal(t, "G1", tok.GroupRef)
}
