package system

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Package is an OS package and where to install it from when missing.
type Package struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
}

// QRPackages are the FreeBSD packages the qrencode backend needs. The URLs
// track the FreeBSD 13 release_2 set OPNsense 23.7 ships against and break
// on a major base upgrade; override them in the config file.
var QRPackages = []Package{
	{Name: "png", Source: "https://pkg.freebsd.org/FreeBSD:13:amd64/release_2/All/png-1.6.39.pkg"},
	{Name: "libqrencode", Source: "https://pkg.freebsd.org/FreeBSD:13:amd64/release_2/All/libqrencode-4.1.1.pkg"},
}

// EnsurePackages checks each package with `pkg info` and installs missing
// ones with `pkg add`. It stops at the first package that cannot be
// installed, since later packages depend on earlier ones.
func EnsurePackages(ctx context.Context, runner Runner, log *zap.SugaredLogger, pkgs []Package) error {
	if runner == nil {
		runner = ExecRunner{}
	}
	for _, p := range pkgs {
		if _, err := runner.Run(ctx, nil, "pkg", "info", p.Name); err == nil {
			log.Debugw("package present", "package", p.Name)
			continue
		}

		log.Infow("installing package", "package", p.Name, "source", p.Source)
		if _, err := runner.Run(ctx, nil, "pkg", "add", p.Source); err != nil {
			return fmt.Errorf("installing %s: %w", p.Name, err)
		}
	}
	return nil
}
