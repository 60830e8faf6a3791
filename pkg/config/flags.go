package config

import (
	"github.com/spf13/pflag"
)

// Flags holds the command-line overrides. Only flags the user actually set
// are applied, so file and environment values survive unset flags.
type Flags struct {
	fs   *pflag.FlagSet
	vals Options
}

// BindFlags registers the option flags on fs. Defaults shown in help come
// from Defaults.
func BindFlags(fs *pflag.FlagSet) *Flags {
	d := Defaults()
	f := &Flags{fs: fs}
	v := &f.vals

	fs.StringVar(&v.ConfigXML, "config-xml", d.ConfigXML, "appliance configuration document")
	fs.StringVarP(&v.Endpoint, "endpoint", "e", d.Endpoint, "server endpoint hostname for the client profile")
	fs.StringVar(&v.DNS, "dns", d.DNS, "DNS server for the client profile")
	fs.StringVarP(&v.ClientName, "name", "n", d.ClientName, "client name; {} is replaced by the peer count")
	fs.StringVarP(&v.Instance, "instance", "i", d.Instance, "WireGuard server instance number")
	fs.StringVar(&v.AllowedIPs, "allowed-ips", d.AllowedIPs, "comma-separated networks routed through the tunnel")
	fs.IntVar(&v.Keepalive, "keepalive", d.Keepalive, "persistent keepalive in seconds (0 disables)")
	fs.StringVarP(&v.OutputDir, "output-dir", "o", d.OutputDir, "directory for the client .conf and .png")
	fs.BoolVar(&v.Interactive, "interactive", d.Interactive, "prompt for values and confirmation")
	fs.BoolVar(&v.AutoInstallPackages, "install-packages", d.AutoInstallPackages, "install missing packages for the qrencode backend")
	fs.BoolVar(&v.ShowQR, "show-qr", d.ShowQR, "print the QR code to the terminal")
	fs.BoolVar(&v.Restart, "restart", d.Restart, "restart WireGuard after writing the config")
	fs.BoolVar(&v.DryRun, "dry-run", d.DryRun, "allocate and print the new peer without writing anything")
	fs.StringVar(&v.KeyBackend, "key-backend", d.KeyBackend, "key generator: native or wg")
	fs.StringVar(&v.QRBackend, "qr-backend", d.QRBackend, "QR renderer: native or qrencode")
	fs.StringVar(&v.RestartCommand, "restart-command", d.RestartCommand, "command that reloads WireGuard")

	return f
}

// Apply copies every flag the user set onto o.
func (f *Flags) Apply(o *Options) {
	v := f.vals
	set := map[string]func(){
		"config-xml":       func() { o.ConfigXML = v.ConfigXML },
		"endpoint":         func() { o.Endpoint = v.Endpoint },
		"dns":              func() { o.DNS = v.DNS },
		"name":             func() { o.ClientName = v.ClientName },
		"instance":         func() { o.Instance = v.Instance },
		"allowed-ips":      func() { o.AllowedIPs = v.AllowedIPs },
		"keepalive":        func() { o.Keepalive = v.Keepalive },
		"output-dir":       func() { o.OutputDir = v.OutputDir },
		"interactive":      func() { o.Interactive = v.Interactive },
		"install-packages": func() { o.AutoInstallPackages = v.AutoInstallPackages },
		"show-qr":          func() { o.ShowQR = v.ShowQR },
		"restart":          func() { o.Restart = v.Restart },
		"dry-run":          func() { o.DryRun = v.DryRun },
		"key-backend":      func() { o.KeyBackend = v.KeyBackend },
		"qr-backend":       func() { o.QRBackend = v.QRBackend },
		"restart-command":  func() { o.RestartCommand = v.RestartCommand },
	}
	for name, apply := range set {
		if f.fs.Changed(name) {
			apply()
		}
	}
}
