// Package qr renders client profiles as QR codes for mobile WireGuard apps.
package qr

import (
	"context"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/glennswest/opnwg/pkg/system"
)

// Renderer turns profile text into a QR code.
type Renderer interface {
	// PNG returns the QR code as a PNG image.
	PNG(ctx context.Context, text string) ([]byte, error)
	// Terminal returns the QR code drawn with block characters.
	Terminal(ctx context.Context, text string) (string, error)
}

// Native encodes in-process with go-qrcode.
type Native struct {
	Size int // PNG edge in pixels, default 512
}

func (n Native) PNG(_ context.Context, text string) ([]byte, error) {
	size := n.Size
	if size == 0 {
		size = 512
	}
	png, err := qrcode.Encode(text, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encoding QR: %w", err)
	}
	return png, nil
}

func (Native) Terminal(_ context.Context, text string) (string, error) {
	q, err := qrcode.New(text, qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("encoding QR: %w", err)
	}
	return q.ToSmallString(false), nil
}

// CLI runs qrencode, which has to be installed on the appliance.
type CLI struct {
	Runner system.Runner
}

func (c CLI) runner() system.Runner {
	if c.Runner == nil {
		return system.ExecRunner{}
	}
	return c.Runner
}

func (c CLI) PNG(ctx context.Context, text string) ([]byte, error) {
	out, err := c.runner().Run(ctx, []byte(text), "qrencode", "-t", "png", "-o", "-")
	if err != nil {
		return nil, fmt.Errorf("qrencode: %w", err)
	}
	return out, nil
}

func (c CLI) Terminal(ctx context.Context, text string) (string, error) {
	out, err := c.runner().Run(ctx, []byte(text), "qrencode", "-t", "ansiutf8")
	if err != nil {
		return "", fmt.Errorf("qrencode: %w", err)
	}
	return string(out), nil
}

// New returns the renderer for a configured backend name: "native" or
// "qrencode".
func New(backend string, runner system.Runner) (Renderer, error) {
	switch backend {
	case "", "native":
		return Native{}, nil
	case "qrencode":
		return CLI{Runner: runner}, nil
	}
	return nil, fmt.Errorf("unknown qr backend %q", backend)
}
