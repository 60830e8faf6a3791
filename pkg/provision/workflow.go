// Package provision adds one WireGuard peer to an OPNsense configuration:
// it picks the server, allocates the lowest free tunnel address, generates
// keys, inserts the peer record and rewrites the file behind a backup.
package provision

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/glennswest/opnwg/pkg/config"
	"github.com/glennswest/opnwg/pkg/indent"
	"github.com/glennswest/opnwg/pkg/ipam"
	"github.com/glennswest/opnwg/pkg/opnsense"
	"github.com/glennswest/opnwg/pkg/profile"
	"github.com/glennswest/opnwg/pkg/qr"
	"github.com/glennswest/opnwg/pkg/system"
	"github.com/glennswest/opnwg/pkg/txn"
	"github.com/glennswest/opnwg/pkg/wgkeys"
	"github.com/glennswest/opnwg/pkg/xmldoc"
)

// Restarter reloads WireGuard after a commit.
type Restarter interface {
	Restart(ctx context.Context) error
}

// Plan describes the peer about to be written. It is shown to the operator
// before anything touches the disk.
type Plan struct {
	Server   opnsense.Server
	Client   string
	PeerUUID string
	Address  netip.Addr
	Block    netip.Prefix
	Profile  profile.Profile
}

// Result reports a finished run. Warnings are follow-ups for the operator
// that did not undo the commit.
type Result struct {
	Plan
	DryRun      bool
	BackupPath  string
	ProfilePath string
	QRPath      string
	Warnings    []string
}

// Workflow holds the collaborators for one provisioning run.
type Workflow struct {
	Options config.Options

	Keys      wgkeys.Generator
	QR        qr.Renderer // nil disables QR output
	Restarter Restarter   // nil skips the restart
	Runner    system.Runner
	FS        txn.FS
	Log       *zap.SugaredLogger

	// Confirm is asked before writing. nil means yes.
	Confirm func(Plan) (bool, error)
	// Terminal receives the terminal QR code when Options.ShowQR is set.
	Terminal io.Writer
	// NewID returns the uuid of the new peer.
	NewID func() string
}

// New returns a Workflow with the default collaborators for opts.
func New(opts config.Options, log *zap.SugaredLogger) (*Workflow, error) {
	runner := system.ExecRunner{}

	keys, err := wgkeys.New(opts.KeyBackend, runner)
	if err != nil {
		return nil, err
	}
	w := &Workflow{
		Options:   opts,
		Keys:      keys,
		Runner:    runner,
		FS:        txn.OSFS{},
		Log:       log,
		Terminal:  os.Stdout,
		NewID:     opnsense.NewPeerID,
		Restarter: system.NewRestarter(opts.RestartCommand, runner, log),
	}
	if !opts.Restart {
		w.Restarter = nil
	}
	r, err := qr.New(opts.QRBackend, runner)
	if err != nil {
		return nil, err
	}
	w.QR = r
	return w, nil
}

// Load reads and parses the configuration document at path.
func Load(fsys txn.FS, path string) (*xmldoc.Document, error) {
	if fsys == nil {
		fsys = txn.OSFS{}
	}
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInputUnreadable, err)
	}
	doc, err := xmldoc.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return doc, nil
}

// CheckInstance validates the instance selector against the number of
// configured servers.
func CheckInstance(instance string, servers int) error {
	n, err := strconv.Atoi(instance)
	if err != nil {
		return fmt.Errorf("%w: %q is not a number", ErrInvalidInstance, instance)
	}
	if n < 0 || n > servers {
		return fmt.Errorf("%w: %d is outside 0..%d", ErrInvalidInstance, n, servers)
	}
	return nil
}

// SelectServer returns the server for instance.
func SelectServer(doc *xmldoc.Document, instance string) (opnsense.Server, error) {
	servers := opnsense.Servers(doc)
	if err := CheckInstance(instance, len(servers)); err != nil {
		return opnsense.Server{}, err
	}
	s, ok := opnsense.FindServer(doc, instance)
	if !ok {
		return opnsense.Server{}, fmt.Errorf("%w: no server with instance %s among %d servers",
			ErrServerNotFound, instance, len(servers))
	}
	return s, nil
}

// ValidateServer checks every field the new peer depends on and reports all
// problems together. It returns the server's own address and the block
// addresses are allocated from.
func ValidateServer(s opnsense.Server) (netip.Addr, netip.Prefix, error) {
	var (
		missing []string
		addr    netip.Addr
		block   netip.Prefix
	)
	if s.PubKey == "" {
		missing = append(missing, "pubkey")
	}
	if s.TunnelAddress == "" {
		missing = append(missing, "tunneladdress")
	} else {
		var err error
		addr, block, err = ipam.ParseInterfaceAddress(s.TunnelAddress)
		if err != nil {
			missing = append(missing, fmt.Sprintf("tunneladdress (%v)", err))
		}
	}
	if s.Port == "" {
		missing = append(missing, "port")
	}
	if len(missing) > 0 {
		return netip.Addr{}, netip.Prefix{}, &ValidationError{Instance: s.Instance, Missing: missing}
	}
	return addr, block, nil
}

// ExcludedAddresses builds the allocation pool for server: its own address
// plus the address of every peer its peer list names. Listed peers with no
// record are skipped. A listed peer whose address cannot be parsed fails the
// whole computation. The document is not modified.
func ExcludedAddresses(doc *xmldoc.Document, s opnsense.Server, serverAddr netip.Addr, block netip.Prefix) (*ipam.Pool, error) {
	pool := ipam.NewPool(block)
	pool.Record("server:"+s.Instance, serverAddr)

	peers := opnsense.PeersByUUID(doc)
	for _, id := range s.Peers {
		p, ok := peers[id]
		if !ok {
			continue
		}
		addr, _, err := ipam.ParseInterfaceAddress(p.TunnelAddress)
		if err != nil {
			return nil, fmt.Errorf("%w: peer %s (%s) has tunneladdress %q: %v",
				ErrPeerAddressUnparseable, id, p.Name, p.TunnelAddress, err)
		}
		pool.Record(id, addr)
	}
	return pool, nil
}

func (w *Workflow) generateKeys(ctx context.Context) (opnsense.Keys, error) {
	priv, err := w.Keys.GeneratePrivateKey(ctx)
	if err != nil {
		return opnsense.Keys{}, fmt.Errorf("%w: private key: %w", ErrKeyGeneration, err)
	}
	pub, err := w.Keys.DerivePublicKey(ctx, priv)
	if err != nil {
		return opnsense.Keys{}, fmt.Errorf("%w: public key: %w", ErrKeyGeneration, err)
	}
	psk, err := w.Keys.GeneratePSK(ctx)
	if err != nil {
		return opnsense.Keys{}, fmt.Errorf("%w: preshared key: %w", ErrKeyGeneration, err)
	}
	return opnsense.Keys{PrivateKey: priv, PublicKey: pub, PresharedKey: psk}, nil
}

// Run provisions one peer. Every error before the write leaves the file
// untouched; write errors carry the txn sentinels. Follow-up failures after
// the commit are returned as Result.Warnings.
func (w *Workflow) Run(ctx context.Context) (*Result, error) {
	opts := w.Options
	if w.Log == nil {
		w.Log = zap.NewNop().Sugar()
	}
	log := w.Log.With("config", opts.ConfigXML, "instance", opts.Instance)

	doc, err := Load(w.FS, opts.ConfigXML)
	if err != nil {
		return nil, err
	}
	server, err := SelectServer(doc, opts.Instance)
	if err != nil {
		return nil, err
	}
	serverAddr, block, err := ValidateServer(server)
	if err != nil {
		return nil, err
	}

	pool, err := ExcludedAddresses(doc, server, serverAddr, block)
	if err != nil {
		return nil, err
	}
	addr, err := pool.Next()
	if err != nil {
		return nil, fmt.Errorf("server %s block %s: %w", server.Instance, block, err)
	}
	log.Infow("address allocated", "server", server.Name, "block", block, "address", addr,
		"taken", len(pool.InBlock()))

	keys, err := w.generateKeys(ctx)
	if err != nil {
		return nil, err
	}

	newID := w.NewID
	if newID == nil {
		newID = opnsense.NewPeerID
	}
	plan := Plan{
		Server:   server,
		Client:   opts.ClientNameFor(len(server.Peers)),
		PeerUUID: newID(),
		Address:  addr,
		Block:    block,
		Profile: profile.Profile{
			PrivateKey:      keys.PrivateKey,
			Address:         opnsense.HostPrefix(addr).String(),
			DNS:             opts.DNS,
			ServerPublicKey: server.PubKey,
			PresharedKey:    keys.PresharedKey,
			AllowedIPs:      opts.AllowedIPs,
			Endpoint:        endpoint(opts.Endpoint, server.Port),
			Keepalive:       opts.Keepalive,
		},
	}

	np := opnsense.Build(addr, keys, opnsense.Metadata{
		UUID:       plan.PeerUUID,
		Name:       plan.Client,
		ServerPort: server.Port,
		Keepalive:  opts.Keepalive,
	}, server.Peers)
	insert(doc, server, np)
	out := doc.Serialize()

	if w.Confirm != nil {
		ok, err := w.Confirm(plan)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrAborted
		}
	}

	res := &Result{Plan: plan}
	if opts.DryRun {
		res.DryRun = true
		log.Infow("dry run, nothing written", "client", plan.Client, "address", addr)
		return res, nil
	}

	writer := txn.NewWriter(opts.ConfigXML, w.FS, log)
	if err := writer.Replace(out); err != nil {
		return nil, err
	}
	res.BackupPath = writer.BackupPath
	log.Infow("peer added", "client", plan.Client, "uuid", plan.PeerUUID, "address", addr)

	w.followUp(ctx, res)
	return res, nil
}

// insert places the new client record and stores the updated peer list.
func insert(doc *xmldoc.Document, server opnsense.Server, np opnsense.NewPeer) {
	clients := ensurePath(doc, doc.Root, opnsense.ClientsContainerPath)
	indent.Append(doc, clients, np.Node, indent.Unit(doc, clients))

	if peers := server.Node.Child("peers"); peers != nil {
		peers.Text = np.PeerList
		return
	}
	indent.Append(doc, server.Node, xmldoc.NewTextElement("peers", np.PeerList), indent.Unit(doc, server.Node))
}

// ensurePath walks a slash-separated chain of element names below from,
// creating any that are missing.
func ensurePath(doc *xmldoc.Document, from *xmldoc.Node, path string) *xmldoc.Node {
	n := from
	for _, name := range strings.Split(path, "/") {
		if name == "" {
			continue
		}
		next := n.Child(name)
		if next == nil {
			next = xmldoc.NewElement(name)
			indent.Append(doc, n, next, indent.Unit(doc, n))
		}
		n = next
	}
	return n
}

func endpoint(host, port string) string {
	if port == "" {
		return host
	}
	return host + ":" + port
}

// followUp writes the client artifacts and restarts WireGuard. None of it
// can undo the commit, so failures become warnings.
func (w *Workflow) followUp(ctx context.Context, res *Result) {
	opts := w.Options
	warn := func(msg string, err error) {
		w.Log.Warnw(msg, "error", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", msg, err))
	}

	path, err := res.Profile.Write(opts.OutputDir, res.Client)
	if err != nil {
		warn("client profile not written, the new peer has no usable private key", err)
	} else {
		res.ProfilePath = path
		w.Log.Infow("client profile written", "path", path)
	}

	if w.QR != nil {
		w.renderQR(ctx, res, warn)
	}

	if w.Restarter != nil {
		if err := w.Restarter.Restart(ctx); err != nil {
			warn("restart WireGuard manually", err)
		}
	}
}

func (w *Workflow) renderQR(ctx context.Context, res *Result, warn func(string, error)) {
	opts := w.Options
	if _, ok := w.QR.(qr.CLI); ok && opts.AutoInstallPackages && len(opts.Packages) > 0 {
		if err := system.EnsurePackages(ctx, w.Runner, w.Log, opts.Packages); err != nil {
			warn("QR packages unavailable, skipping QR code", err)
			return
		}
	}

	text := res.Profile.Render()
	png, err := w.QR.PNG(ctx, text)
	if err != nil {
		warn("QR code not rendered", err)
		return
	}
	path := filepath.Join(opts.OutputDir, profile.FileName(res.Client)+".png")
	if err := os.WriteFile(path, png, 0o600); err != nil {
		warn("QR code not written", err)
	} else {
		res.QRPath = path
	}

	if !opts.ShowQR || w.Terminal == nil {
		return
	}
	art, err := w.QR.Terminal(ctx, text)
	if err != nil {
		warn("QR code not shown", err)
		return
	}
	fmt.Fprintln(w.Terminal, art)
}
