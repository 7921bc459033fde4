package qr

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/jsayol/qr-signin/internal/config"
)

// Encoder renders QR payloads as PNG images or data URLs.
type Encoder struct {
	level qrcode.RecoveryLevel
	size  int
}

func NewEncoder(cfg config.QRConfig) Encoder {
	level := qrcode.Low
	switch cfg.ErrorLevel {
	case "M":
		level = qrcode.Medium
	case "Q":
		level = qrcode.High
	case "H":
		level = qrcode.Highest
	}
	return Encoder{level: level, size: cfg.Size}
}

// PNG renders the payload as a PNG image.
func (e Encoder) PNG(payload string) ([]byte, error) {
	data, err := qrcode.Encode(payload, e.level, e.size)
	if err != nil {
		return nil, fmt.Errorf("encoding QR code: %w", err)
	}
	return data, nil
}

// DataURL renders the payload as a base64 data URL, ready for an <img> src.
func (e Encoder) DataURL(payload string) (string, error) {
	data, err := e.PNG(payload)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}

// Terminal renders the payload as a scannable block-character string.
func (e Encoder) Terminal(payload string) (string, error) {
	code, err := qrcode.New(payload, e.level)
	if err != nil {
		return "", fmt.Errorf("encoding QR code: %w", err)
	}
	return code.ToSmallString(false), nil
}
