// Package wgkeys produces WireGuard key material for new peers.
package wgkeys

import (
	"context"
	"fmt"
	"strings"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/glennswest/opnwg/pkg/system"
)

// Generator creates the three keys a new peer needs. Every key is a single
// base64 line.
type Generator interface {
	GeneratePrivateKey(ctx context.Context) (string, error)
	DerivePublicKey(ctx context.Context, privateKey string) (string, error)
	GeneratePSK(ctx context.Context) (string, error)
}

// Native generates keys in-process with wgtypes.
type Native struct{}

func (Native) GeneratePrivateKey(context.Context) (string, error) {
	k, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return "", fmt.Errorf("generate private key: %w", err)
	}
	return k.String(), nil
}

func (Native) DerivePublicKey(_ context.Context, privateKey string) (string, error) {
	k, err := wgtypes.ParseKey(privateKey)
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}
	return k.PublicKey().String(), nil
}

func (Native) GeneratePSK(context.Context) (string, error) {
	k, err := wgtypes.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("generate PSK: %w", err)
	}
	return k.String(), nil
}

// CLI shells out to the wg utility the way an operator would by hand.
type CLI struct {
	Binary string // defaults to "wg"
	Runner system.Runner
}

func (c CLI) run(ctx context.Context, stdin []byte, args ...string) (string, error) {
	bin := c.Binary
	if bin == "" {
		bin = "wg"
	}
	runner := c.Runner
	if runner == nil {
		runner = system.ExecRunner{}
	}
	out, err := runner.Run(ctx, stdin, bin, args...)
	if err != nil {
		return "", err
	}
	key := strings.TrimRight(string(out), "\r\n")
	if key == "" || strings.ContainsAny(key, "\r\n") {
		return "", fmt.Errorf("%s %s: expected a single line, got %q", bin, strings.Join(args, " "), out)
	}
	if _, err := wgtypes.ParseKey(key); err != nil {
		return "", fmt.Errorf("%s %s: %w", bin, strings.Join(args, " "), err)
	}
	return key, nil
}

func (c CLI) GeneratePrivateKey(ctx context.Context) (string, error) {
	return c.run(ctx, nil, "genkey")
}

func (c CLI) DerivePublicKey(ctx context.Context, privateKey string) (string, error) {
	return c.run(ctx, []byte(privateKey+"\n"), "pubkey")
}

func (c CLI) GeneratePSK(ctx context.Context) (string, error) {
	return c.run(ctx, nil, "genpsk")
}

// New returns the generator for a configured backend name: "native" or "wg".
func New(backend string, runner system.Runner) (Generator, error) {
	switch backend {
	case "", "native":
		return Native{}, nil
	case "wg":
		return CLI{Runner: runner}, nil
	}
	return nil, fmt.Errorf("unknown key backend %q", backend)
}
