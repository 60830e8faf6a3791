package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/glennswest/opnwg/pkg/opnsense"
	"github.com/glennswest/opnwg/pkg/provision"
)

func printServers(w io.Writer, servers []opnsense.Server) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTANCE\tNAME\tPORT\tTUNNEL\tPEERS")
	for _, s := range servers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", s.Instance, s.Name, s.Port, s.TunnelAddress, len(s.Peers))
	}
	tw.Flush()
}

func printPlan(w io.Writer, p provision.Plan) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Server:\t%s (instance %s)\n", p.Server.Name, p.Server.Instance)
	fmt.Fprintf(tw, "Client:\t%s\n", p.Client)
	fmt.Fprintf(tw, "Peer uuid:\t%s\n", p.PeerUUID)
	fmt.Fprintf(tw, "Address:\t%s (from %s)\n", p.Profile.Address, p.Block)
	fmt.Fprintf(tw, "Endpoint:\t%s\n", p.Profile.Endpoint)
	fmt.Fprintf(tw, "DNS:\t%s\n", p.Profile.DNS)
	fmt.Fprintf(tw, "AllowedIPs:\t%s\n", p.Profile.AllowedIPs)
	tw.Flush()
}

func printResult(w io.Writer, res *provision.Result) {
	if res.DryRun {
		fmt.Fprintln(w, "Dry run, nothing written:")
		printPlan(w, res.Plan)
		return
	}

	fmt.Fprintf(w, "Added %s at %s. The peer is disabled until you enable it in the web UI.\n",
		res.Client, res.Profile.Address)
	fmt.Fprintf(w, "Backup: %s\n", res.BackupPath)
	if res.ProfilePath != "" {
		fmt.Fprintf(w, "Profile: %s\n", res.ProfilePath)
	}
	if res.QRPath != "" {
		fmt.Fprintf(w, "QR code: %s\n", res.QRPath)
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "WARNING: %s\n", warn)
	}
}
