// Package profile renders the wg-quick style configuration handed to a new
// client.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Profile is everything a client needs to reach the server.
type Profile struct {
	PrivateKey string
	Address    string
	DNS        string

	ServerPublicKey string
	PresharedKey    string
	AllowedIPs      string
	Endpoint        string
	Keepalive       int
}

// Render produces the profile text.
func (p Profile) Render() string {
	var b strings.Builder
	b.WriteString("[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", p.PrivateKey)
	fmt.Fprintf(&b, "Address = %s\n", p.Address)
	if p.DNS != "" {
		fmt.Fprintf(&b, "DNS = %s\n", p.DNS)
	}
	b.WriteString("\n")

	b.WriteString("[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", p.ServerPublicKey)
	if p.PresharedKey != "" {
		fmt.Fprintf(&b, "PresharedKey = %s\n", p.PresharedKey)
	}
	fmt.Fprintf(&b, "AllowedIPs = %s\n", p.AllowedIPs)
	fmt.Fprintf(&b, "Endpoint = %s\n", p.Endpoint)
	if p.Keepalive > 0 {
		fmt.Fprintf(&b, "PersistentKeepalive = %d\n", p.Keepalive)
	}
	return b.String()
}

// FileName returns a safe base name for a client's files. Path separators
// and other characters that do not belong in a file name become "_".
func FileName(client string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		}
		return '_'
	}, client)
	name = strings.Trim(name, ".")
	if name == "" {
		name = "client"
	}
	return name
}

// Write stores the rendered profile as <dir>/<name>.conf with owner-only
// permissions and returns the path.
func (p Profile) Write(dir, client string) (string, error) {
	path := filepath.Join(dir, FileName(client)+".conf")
	if err := os.WriteFile(path, []byte(p.Render()), 0o600); err != nil {
		return "", fmt.Errorf("writing client profile %s: %w", path, err)
	}
	return path, nil
}
