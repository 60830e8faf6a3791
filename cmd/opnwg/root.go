package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/glennswest/opnwg/pkg/config"
	"github.com/glennswest/opnwg/pkg/opnsense"
	"github.com/glennswest/opnwg/pkg/provision"
	"github.com/glennswest/opnwg/pkg/txn"
)

type rootFlags struct {
	configFile string
	envFile    string
	debug      bool
	options    *config.Flags
}

// Root returns the opnwg command. Run without a subcommand it provisions
// one peer.
func Root() *cobra.Command {
	f := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "opnwg",
		Short:         "Add a WireGuard peer to an OPNsense configuration",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAdd(cmd, f)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.configFile, "config", "c", "", "YAML options file (default $OPNWG_CONFIG)")
	pf.StringVar(&f.envFile, "env-file", ".env", "dotenv file with OPNWG_* variables")
	pf.BoolVar(&f.debug, "debug", false, "development logging")
	f.options = config.BindFlags(pf)

	cmd.AddCommand(serversCommand(f))
	return cmd
}

func newLogger(debug bool) (*zap.SugaredLogger, func(), error) {
	build := zap.NewProduction
	if debug {
		build = zap.NewDevelopment
	}
	logger, err := build()
	if err != nil {
		return nil, nil, fmt.Errorf("creating logger: %w", err)
	}
	return logger.Sugar(), func() { _ = logger.Sync() }, nil
}

// loadOptions layers defaults, the YAML file, the environment and the flags.
func loadOptions(f *rootFlags) (config.Options, error) {
	opts := config.Defaults()

	path := f.configFile
	if path == "" {
		path = os.Getenv("OPNWG_CONFIG")
	}
	if path != "" {
		if err := opts.LoadFile(path); err != nil {
			return opts, err
		}
	}
	if err := opts.LoadEnv(f.envFile); err != nil {
		return opts, err
	}
	f.options.Apply(&opts)
	return opts, opts.Validate()
}

func runAdd(cmd *cobra.Command, f *rootFlags) error {
	opts, err := loadOptions(f)
	if err != nil {
		return err
	}
	log, sync, err := newLogger(f.debug)
	if err != nil {
		return err
	}
	defer sync()

	log.Infow("starting opnwg", "version", version, "config", opts.ConfigXML)

	p := newPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
	if opts.Interactive {
		if err := p.fill(&opts, cmd.Flags()); err != nil {
			return err
		}
	}

	w, err := provision.New(opts, log)
	if err != nil {
		return err
	}
	w.Terminal = cmd.OutOrStdout()
	if out, ok := w.Terminal.(*os.File); ok && !isTerminal(out) {
		w.Terminal = nil
	}
	if opts.Interactive {
		w.Confirm = p.confirm
	}

	res, err := w.Run(cmd.Context())
	if err != nil {
		if errors.Is(err, txn.ErrUnrecoverable) {
			log.Errorw("config.xml may be inconsistent, restore it from the backup",
				"config", opts.ConfigXML, "error", err)
		}
		return err
	}
	printResult(cmd.OutOrStdout(), res)
	return nil
}

// isTerminal reports whether f is attached to a terminal. The QR code is
// only drawn there; redirected output gets the PNG alone.
func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func serversCommand(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List the WireGuard server instances in the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := loadOptions(f)
			if err != nil {
				return err
			}
			doc, err := provision.Load(nil, opts.ConfigXML)
			if err != nil {
				return err
			}
			printServers(cmd.OutOrStdout(), opnsense.Servers(doc))
			return nil
		},
	}
}
