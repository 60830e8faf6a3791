// opnwg adds a WireGuard peer to an OPNsense firewall's config.xml.
//
// Flow:
//  1. Pick the server instance and client details (prompted when interactive)
//  2. Allocate the lowest free tunnel address and generate keys
//  3. Insert the peer, back up config.xml and rewrite it
//  4. Write the client profile and QR code, restart WireGuard
//
// Exit status is 0 on success or when the operator declines, 1 on failure
// and 2 when config.xml could not be restored after a failed write.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/glennswest/opnwg/pkg/provision"
	"github.com/glennswest/opnwg/pkg/txn"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return exitCode(Root().ExecuteContext(ctx))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, provision.ErrAborted):
		fmt.Fprintln(os.Stderr, "aborted, nothing written")
		return 0
	case errors.Is(err, txn.ErrUnrecoverable):
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 2
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}
