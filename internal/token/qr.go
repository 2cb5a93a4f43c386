package token

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

// DefaultQRSize is the rendered PNG edge length in pixels.
const DefaultQRSize = 256

// RenderPNG draws tok as a QR code PNG. High error correction keeps codes
// readable off a projector.
func RenderPNG(tok string, size int) ([]byte, error) {
	if tok == "" {
		return nil, fmt.Errorf("render qr: empty token")
	}
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(tok, qrcode.High, size)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}
