package attendance

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/makiuchi-d/gozxing"
	zxqr "github.com/makiuchi-d/gozxing/qrcode"
	"github.com/skip2/go-qrcode"
)

const qrSize = 512

// Issued is a freshly issued token with its scannable rendering.
type Issued struct {
	Token   Token
	Payload string
	PNG     []byte
}

// Issuer mints attendance tokens.
type Issuer struct {
	clock Clock
}

// NewIssuer creates an issuer; a nil clock uses the system clock.
func NewIssuer(clock Clock) *Issuer {
	if clock == nil {
		clock = SystemClock
	}
	return &Issuer{clock: clock}
}

// Issue encodes a token for the group and subject stamped with the current
// second and renders it as a PNG QR code.
func (i *Issuer) Issue(groupRef, subject string) (Issued, error) {
	issuedAt := i.clock.Now().UTC().Truncate(time.Second)
	payload, err := Encode(groupRef, subject, issuedAt)
	if err != nil {
		return Issued{}, err
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, qrSize)
	if err != nil {
		return Issued{}, fmt.Errorf("attendance: render qr: %w", err)
	}
	return Issued{
		Token:   Token{GroupRef: groupRef, Subject: subject, IssuedAt: issuedAt},
		Payload: payload,
		PNG:     png,
	}, nil
}

// Scan extracts the text of the first QR code found in an encoded image.
func Scan(img []byte) (string, error) {
	decoded, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return "", fmt.Errorf("attendance: decode image: %w", err)
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(decoded)
	if err != nil {
		return "", fmt.Errorf("attendance: binarize image: %w", err)
	}
	res, err := zxqr.NewQRCodeReader().Decode(bmp, nil)
	if err != nil {
		return "", fmt.Errorf("attendance: no qr code found: %w", err)
	}
	return res.GetText(), nil
}
