package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueRendersScannableCode(t *testing.T) {
	clock := &fixedClock{t: time.Date(2026, 3, 2, 9, 15, 42, 987654321, time.UTC)}
	issued, err := NewIssuer(clock).Issue("G1", "Math")
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 3, 2, 9, 15, 42, 0, time.UTC), issued.Token.IssuedAt)
	assert.NotEmpty(t, issued.PNG)

	text, err := Scan(issued.PNG)
	require.NoError(t, err)
	assert.Equal(t, issued.Payload, text)

	tok, err := Decode(text)
	require.NoError(t, err)
	assert.Equal(t, issued.Token, tok)
}

func TestScanRejectsNonImages(t *testing.T) {
	_, err := Scan([]byte("definitely not a png"))
	assert.Error(t, err)
}
