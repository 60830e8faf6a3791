package provision

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInputUnreadable means the configuration document could not be read.
	ErrInputUnreadable = errors.New("config unreadable")
	// ErrInvalidInstance means the instance selector is not a number in the
	// range of configured servers.
	ErrInvalidInstance = errors.New("invalid server instance")
	// ErrServerNotFound means no server carries the requested instance.
	ErrServerNotFound = errors.New("server not found")
	// ErrPeerAddressUnparseable means a peer listed by the server has a
	// tunnel address that cannot be read, so the free address cannot be
	// computed safely.
	ErrPeerAddressUnparseable = errors.New("peer address unparseable")
	// ErrKeyGeneration means the key collaborator failed.
	ErrKeyGeneration = errors.New("key generation failed")
	// ErrAborted means the operator declined the confirmation.
	ErrAborted = errors.New("aborted by operator")
)

// ValidationError lists every server field that is missing or invalid.
type ValidationError struct {
	Instance string
	Missing  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("server instance %s is missing or has invalid fields: %s",
		e.Instance, strings.Join(e.Missing, ", "))
}
