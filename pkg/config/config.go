// Package config holds the options for one provisioning run. Values come
// from built-in defaults, an optional YAML file, OPNWG_* environment
// variables (optionally seeded from a .env file) and command-line flags, in
// that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/glennswest/opnwg/pkg/system"
)

// Options is the explicit configuration value passed into the workflow.
type Options struct {
	// ConfigXML is the appliance configuration document.
	ConfigXML string `yaml:"configXML" envconfig:"OPNWG_CONFIG_XML"`

	// Selection inputs. ClientName may contain "{}", which is replaced by
	// the number of peers the server already has.
	Endpoint   string `yaml:"endpoint" envconfig:"OPNWG_ENDPOINT"`
	DNS        string `yaml:"dns" envconfig:"OPNWG_DNS"`
	ClientName string `yaml:"clientName" envconfig:"OPNWG_CLIENT_NAME"`
	Instance   string `yaml:"instance" envconfig:"OPNWG_INSTANCE"`

	// AllowedIPs is the comma-separated list of networks the client routes
	// through the tunnel.
	AllowedIPs string `yaml:"allowedIPs" envconfig:"OPNWG_ALLOWED_IPS"`
	Keepalive  int    `yaml:"keepalive" envconfig:"OPNWG_KEEPALIVE"`

	// OutputDir receives <client>.conf and <client>.png.
	OutputDir string `yaml:"outputDir" envconfig:"OPNWG_OUTPUT_DIR"`

	Interactive         bool `yaml:"interactive" envconfig:"OPNWG_INTERACTIVE"`
	AutoInstallPackages bool `yaml:"autoInstallPackages" envconfig:"OPNWG_AUTO_INSTALL_PACKAGES"`
	ShowQR              bool `yaml:"showQR" envconfig:"OPNWG_SHOW_QR"`
	Restart             bool `yaml:"restart" envconfig:"OPNWG_RESTART"`
	DryRun              bool `yaml:"dryRun" envconfig:"OPNWG_DRY_RUN"`

	KeyBackend     string           `yaml:"keyBackend" envconfig:"OPNWG_KEY_BACKEND"` // native or wg
	QRBackend      string           `yaml:"qrBackend" envconfig:"OPNWG_QR_BACKEND"`   // native or qrencode
	RestartCommand string           `yaml:"restartCommand" envconfig:"OPNWG_RESTART_COMMAND"`
	Packages       []system.Package `yaml:"packages" ignored:"true"`
}

// Defaults returns the built-in options.
func Defaults() Options {
	return Options{
		ConfigXML:           "/conf/config.xml",
		Endpoint:            "server.address.com",
		DNS:                 "192.168.0.1",
		ClientName:          "client{}",
		Instance:            "0",
		AllowedIPs:          "192.168.0.0/24",
		Keepalive:           25,
		OutputDir:           ".",
		Interactive:         true,
		AutoInstallPackages: true,
		ShowQR:              true,
		Restart:             true,
		KeyBackend:          "native",
		QRBackend:           "native",
		RestartCommand:      system.DefaultRestartCommand,
		Packages:            append([]system.Package(nil), system.QRPackages...),
	}
}

// LoadFile overlays the YAML file at path onto o. Keys absent from the file
// keep their current values.
func (o *Options) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, o); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// LoadEnv overlays OPNWG_* environment variables onto o. Variables from
// envFile, when it exists, are added to the environment first without
// replacing any that are already set.
func (o *Options) LoadEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("reading env file %s: %w", envFile, err)
		}
	}
	if err := envconfig.Process("", o); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	return nil
}

// Validate checks the options that would otherwise fail late.
func (o Options) Validate() error {
	var problems []string
	if o.ConfigXML == "" {
		problems = append(problems, "configXML is empty")
	}
	if o.Keepalive < 0 {
		problems = append(problems, fmt.Sprintf("keepalive %d is negative", o.Keepalive))
	}
	if _, err := o.AllowedPrefixes(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid options: %s", strings.Join(problems, "; "))
	}
	return nil
}

// AllowedPrefixes parses the comma-separated AllowedIPs.
func (o Options) AllowedPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, s := range strings.Split(o.AllowedIPs, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("allowedIPs: %w", err)
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("allowedIPs is empty")
	}
	return out, nil
}

// ClientNameFor expands the client name template for a server that already
// has count peers.
func (o Options) ClientNameFor(count int) string {
	return strings.ReplaceAll(o.ClientName, "{}", strconv.Itoa(count))
}
