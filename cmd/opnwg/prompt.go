package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	"github.com/glennswest/opnwg/pkg/config"
	"github.com/glennswest/opnwg/pkg/opnsense"
	"github.com/glennswest/opnwg/pkg/provision"
)

type prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewScanner(in), out: out}
}

// ask prints label with its default and returns the answer, or def for an
// empty answer or closed input.
func (p *prompter) ask(label, def string) string {
	fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	if !p.in.Scan() {
		fmt.Fprintln(p.out)
		return def
	}
	if v := strings.TrimSpace(p.in.Text()); v != "" {
		return v
	}
	return def
}

// fill asks for every selection input the user did not pass as a flag.
func (p *prompter) fill(opts *config.Options, flags *pflag.FlagSet) error {
	if !flags.Changed("instance") {
		doc, err := provision.Load(nil, opts.ConfigXML)
		if err != nil {
			return err
		}
		servers := opnsense.Servers(doc)
		printServers(p.out, servers)
		opts.Instance = p.ask("Server instance", opts.Instance)

		if s, ok := opnsense.FindServer(doc, opts.Instance); ok && !flags.Changed("name") {
			opts.ClientName = opts.ClientNameFor(len(s.Peers))
		}
	}
	if !flags.Changed("endpoint") {
		opts.Endpoint = p.ask("Server endpoint", opts.Endpoint)
	}
	if !flags.Changed("dns") {
		opts.DNS = p.ask("DNS server", opts.DNS)
	}
	if !flags.Changed("name") {
		opts.ClientName = p.ask("Client name", opts.ClientName)
	}
	return nil
}

func (p *prompter) confirm(plan provision.Plan) (bool, error) {
	printPlan(p.out, plan)
	answer := p.ask("Write this peer to the configuration? (y/n)", "n")
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes"), nil
}
