package provision

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/glennswest/opnwg/pkg/config"
	"github.com/glennswest/opnwg/pkg/ipam"
	"github.com/glennswest/opnwg/pkg/txn"
	"github.com/glennswest/opnwg/pkg/xmldoc"
)

const baseConfig = `<?xml version="1.0"?>
<opnsense>
  <OPNsense>
    <wireguard>
      <client>
        <clients>
          <client uuid="A">
            <name>laptop</name>
            <tunneladdress>10.0.0.2/32</tunneladdress>
          </client>
        </clients>
      </client>
      <server>
        <servers>
          <server uuid="S">
            <instance>0</instance>
            <name>wg0</name>
            <pubkey>SERVERPUB</pubkey>
            <port>51820</port>
            <tunneladdress>10.0.0.1/24</tunneladdress>
            <peers>A</peers>
          </server>
        </servers>
      </server>
    </wireguard>
  </OPNsense>
</opnsense>
`

const wantConfig = `<?xml version="1.0"?>
<opnsense>
  <OPNsense>
    <wireguard>
      <client>
        <clients>
          <client uuid="A">
            <name>laptop</name>
            <tunneladdress>10.0.0.2/32</tunneladdress>
          </client>
          <client uuid="X">
            <enabled>0</enabled>
            <name>client1</name>
            <pubkey>PUB</pubkey>
            <psk>PSK</psk>
            <tunneladdress>10.0.0.3/32</tunneladdress>
            <serveraddress/>
            <serverport>51820</serverport>
            <keepalive>25</keepalive>
          </client>
        </clients>
      </client>
      <server>
        <servers>
          <server uuid="S">
            <instance>0</instance>
            <name>wg0</name>
            <pubkey>SERVERPUB</pubkey>
            <port>51820</port>
            <tunneladdress>10.0.0.1/24</tunneladdress>
            <peers>A,X</peers>
          </server>
        </servers>
      </server>
    </wireguard>
  </OPNsense>
</opnsense>
`

type fakeKeys struct {
	fail string // "private", "public" or "psk"
}

func (f fakeKeys) GeneratePrivateKey(context.Context) (string, error) {
	if f.fail == "private" {
		return "", errors.New("no entropy")
	}
	return "PRIV", nil
}

func (f fakeKeys) DerivePublicKey(_ context.Context, priv string) (string, error) {
	if f.fail == "public" {
		return "", errors.New("bad key")
	}
	if priv != "PRIV" {
		return "", errors.New("unexpected private key " + priv)
	}
	return "PUB", nil
}

func (f fakeKeys) GeneratePSK(context.Context) (string, error) {
	if f.fail == "psk" {
		return "", errors.New("no entropy")
	}
	return "PSK", nil
}

type fakeQR struct {
	err error
}

func (f fakeQR) PNG(_ context.Context, text string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("PNG:" + text), nil
}

func (f fakeQR) Terminal(context.Context, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "##QR##", nil
}

type fakeRestarter struct {
	err   error
	calls int
}

func (f *fakeRestarter) Restart(context.Context) error {
	f.calls++
	return f.err
}

// failFS wraps the real filesystem and fails every write to a listed path
// from its nth write onwards.
type failFS struct {
	txn.OSFS
	fail   map[string]int
	writes map[string]int
}

func (f *failFS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	if f.writes == nil {
		f.writes = map[string]int{}
	}
	f.writes[name]++
	if n, ok := f.fail[name]; ok && f.writes[name] >= n {
		return errors.New("disk full")
	}
	return f.OSFS.WriteFile(name, data, perm)
}

func testLogger() *zap.SugaredLogger {
	log, _ := zap.NewDevelopment()
	return log.Sugar()
}

func setup(t *testing.T, content string) (*Workflow, *fakeRestarter, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.xml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	opts := config.Defaults()
	opts.ConfigXML = path
	opts.OutputDir = dir
	opts.Endpoint = "vpn.example.org"

	restarter := &fakeRestarter{}
	term := &bytes.Buffer{}
	w := &Workflow{
		Options:   opts,
		Keys:      fakeKeys{},
		QR:        fakeQR{},
		Restarter: restarter,
		FS:        txn.OSFS{},
		Log:       testLogger(),
		Terminal:  term,
		NewID:     func() string { return "X" },
	}
	return w, restarter, term
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

func TestRunAddsPeer(t *testing.T) {
	w, restarter, term := setup(t, baseConfig)

	res, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := res.Address.String(); got != "10.0.0.3" {
		t.Errorf("expected 10.0.0.3, got %s", got)
	}
	if res.Client != "client1" {
		t.Errorf("expected client1, got %s", res.Client)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", res.Warnings)
	}

	if got := readFile(t, w.Options.ConfigXML); got != wantConfig {
		t.Errorf("unexpected config:\n%s", got)
	}
	if got := readFile(t, res.BackupPath); got != baseConfig {
		t.Errorf("expected backup to hold the original, got:\n%s", got)
	}

	prof := readFile(t, res.ProfilePath)
	for _, want := range []string{
		"PrivateKey = PRIV",
		"Address = 10.0.0.3/32",
		"PublicKey = SERVERPUB",
		"PresharedKey = PSK",
		"Endpoint = vpn.example.org:51820",
		"PersistentKeepalive = 25",
	} {
		if !strings.Contains(prof, want) {
			t.Errorf("expected profile to contain %q, got:\n%s", want, prof)
		}
	}
	if filepath.Base(res.ProfilePath) != "client1.conf" {
		t.Errorf("expected client1.conf, got %s", res.ProfilePath)
	}

	if png := readFile(t, res.QRPath); !strings.HasPrefix(png, "PNG:[Interface]") {
		t.Errorf("unexpected QR content %q", png)
	}
	if !strings.Contains(term.String(), "##QR##") {
		t.Errorf("expected terminal QR, got %q", term.String())
	}
	if restarter.calls != 1 {
		t.Errorf("expected one restart, got %d", restarter.calls)
	}
}

func TestRunReusesLowestFreeAddress(t *testing.T) {
	// .2 belongs to a peer the server no longer lists, .3 is still listed.
	content := strings.Replace(baseConfig,
		"          </client>\n        </clients>",
		"          </client>\n          <client uuid=\"B\">\n            <tunneladdress>10.0.0.3/32</tunneladdress>\n          </client>\n        </clients>", 1)
	content = strings.Replace(content, "<peers>A</peers>", "<peers>B</peers>", 1)

	w, _, _ := setup(t, content)
	w.Options.DryRun = true
	res, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := res.Address.String(); got != "10.0.0.2" {
		t.Errorf("expected 10.0.0.2, got %s", got)
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	w, restarter, _ := setup(t, baseConfig)
	w.Options.DryRun = true

	res, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.DryRun {
		t.Error("expected DryRun result")
	}
	if got := readFile(t, w.Options.ConfigXML); got != baseConfig {
		t.Error("expected config untouched")
	}
	if _, err := os.Stat(txn.BackupPath(w.Options.ConfigXML)); !os.IsNotExist(err) {
		t.Errorf("expected no backup, got %v", err)
	}
	if restarter.calls != 0 {
		t.Errorf("expected no restart, got %d", restarter.calls)
	}
}

func TestRunDeclined(t *testing.T) {
	w, _, _ := setup(t, baseConfig)
	var seen Plan
	w.Confirm = func(p Plan) (bool, error) {
		seen = p
		return false, nil
	}

	_, err := w.Run(context.Background())
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if seen.Address.String() != "10.0.0.3" || seen.PeerUUID != "X" {
		t.Errorf("unexpected plan: %+v", seen)
	}
	if got := readFile(t, w.Options.ConfigXML); got != baseConfig {
		t.Error("expected config untouched")
	}
}

func TestRunValidationListsAllFields(t *testing.T) {
	content := strings.Replace(baseConfig, "            <pubkey>SERVERPUB</pubkey>\n", "", 1)
	content = strings.Replace(content, "<port>51820</port>", "<port></port>", 1)

	w, _, _ := setup(t, content)
	_, err := w.Run(context.Background())

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Missing) != 2 || verr.Missing[0] != "pubkey" || verr.Missing[1] != "port" {
		t.Errorf("expected [pubkey port], got %v", verr.Missing)
	}
	if got := readFile(t, w.Options.ConfigXML); got != content {
		t.Error("expected config untouched")
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		mutate  func(*Workflow)
		want    error
	}{
		{
			name:    "missing file",
			content: baseConfig,
			mutate:  func(w *Workflow) { w.Options.ConfigXML += ".missing" },
			want:    ErrInputUnreadable,
		},
		{
			name:    "malformed",
			content: "<opnsense><OPNsense></opnsense>",
			want:    xmldoc.ErrMalformed,
		},
		{
			name:    "instance not numeric",
			content: baseConfig,
			mutate:  func(w *Workflow) { w.Options.Instance = "wg0" },
			want:    ErrInvalidInstance,
		},
		{
			name:    "instance out of range",
			content: baseConfig,
			mutate:  func(w *Workflow) { w.Options.Instance = "5" },
			want:    ErrInvalidInstance,
		},
		{
			name:    "instance in range but absent",
			content: baseConfig,
			mutate:  func(w *Workflow) { w.Options.Instance = "1" },
			want:    ErrServerNotFound,
		},
		{
			name:    "unparseable peer address",
			content: strings.Replace(baseConfig, "10.0.0.2/32", "10.0.0.x/32", 1),
			want:    ErrPeerAddressUnparseable,
		},
		{
			name:    "block exhausted",
			content: strings.Replace(baseConfig, "10.0.0.1/24", "10.0.0.1/30", 1),
			want:    ipam.ErrNoAddressAvailable,
		},
		{
			name:    "private key",
			content: baseConfig,
			mutate:  func(w *Workflow) { w.Keys = fakeKeys{fail: "private"} },
			want:    ErrKeyGeneration,
		},
		{
			name:    "public key",
			content: baseConfig,
			mutate:  func(w *Workflow) { w.Keys = fakeKeys{fail: "public"} },
			want:    ErrKeyGeneration,
		},
		{
			name:    "psk",
			content: baseConfig,
			mutate:  func(w *Workflow) { w.Keys = fakeKeys{fail: "psk"} },
			want:    ErrKeyGeneration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, restarter, _ := setup(t, tt.content)
			if tt.mutate != nil {
				tt.mutate(w)
			}
			_, err := w.Run(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if _, err := os.Stat(txn.BackupPath(w.Options.ConfigXML)); !os.IsNotExist(err) {
				t.Errorf("expected no backup before mutation, got %v", err)
			}
			if restarter.calls != 0 {
				t.Errorf("expected no restart, got %d", restarter.calls)
			}
		})
	}
}

func TestRunBackupFailure(t *testing.T) {
	w, _, _ := setup(t, baseConfig)
	backup := txn.BackupPath(w.Options.ConfigXML)
	w.FS = &failFS{fail: map[string]int{backup: 1}}

	_, err := w.Run(context.Background())
	if !errors.Is(err, txn.ErrBackupFailed) {
		t.Fatalf("expected ErrBackupFailed, got %v", err)
	}
	if got := readFile(t, w.Options.ConfigXML); got != baseConfig {
		t.Error("expected config untouched")
	}
}

func TestRunWriteFailureRestores(t *testing.T) {
	w, restarter, _ := setup(t, baseConfig)
	// The new content fails to land; the restore goes through.
	w.FS = &onceFS{path: w.Options.ConfigXML}

	_, err := w.Run(context.Background())
	if !errors.Is(err, txn.ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}
	if errors.Is(err, txn.ErrUnrecoverable) {
		t.Error("restored write must not report unrecoverable")
	}
	if got := readFile(t, w.Options.ConfigXML); got != baseConfig {
		t.Errorf("expected original restored, got:\n%s", got)
	}
	if restarter.calls != 0 {
		t.Errorf("expected no restart, got %d", restarter.calls)
	}
}

func TestRunRestoreFailureUnrecoverable(t *testing.T) {
	w, _, _ := setup(t, baseConfig)
	w.FS = &failFS{fail: map[string]int{w.Options.ConfigXML: 1}}

	_, err := w.Run(context.Background())
	if !errors.Is(err, txn.ErrUnrecoverable) {
		t.Fatalf("expected ErrUnrecoverable, got %v", err)
	}
	if got := readFile(t, txn.BackupPath(w.Options.ConfigXML)); got != baseConfig {
		t.Error("expected backup to hold the original")
	}
}

// onceFS fails the first write to path and passes everything else through.
type onceFS struct {
	txn.OSFS
	path   string
	failed bool
}

func (f *onceFS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	if name == f.path && !f.failed {
		f.failed = true
		return errors.New("permission revoked")
	}
	return f.OSFS.WriteFile(name, data, perm)
}

func TestRunFollowUpFailuresAreWarnings(t *testing.T) {
	w, restarter, _ := setup(t, baseConfig)
	w.QR = fakeQR{err: errors.New("encoder missing")}
	restarter.err = errors.New("configctl: not found")

	res, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", res.Warnings)
	}
	if !strings.Contains(res.Warnings[1], "restart WireGuard manually") {
		t.Errorf("unexpected restart warning %q", res.Warnings[1])
	}
	if got := readFile(t, w.Options.ConfigXML); got != wantConfig {
		t.Error("expected commit to stand")
	}
	if res.QRPath != "" {
		t.Errorf("expected no QR path, got %s", res.QRPath)
	}
}

func TestRunCreatesMissingPeersAndClients(t *testing.T) {
	content := `<?xml version="1.0"?>
<opnsense>
  <OPNsense>
    <wireguard>
      <server>
        <servers>
          <server uuid="S">
            <instance>0</instance>
            <pubkey>SERVERPUB</pubkey>
            <port>51820</port>
            <tunneladdress>10.0.0.1/24</tunneladdress>
          </server>
        </servers>
      </server>
    </wireguard>
  </OPNsense>
</opnsense>
`
	want := `<?xml version="1.0"?>
<opnsense>
  <OPNsense>
    <wireguard>
      <server>
        <servers>
          <server uuid="S">
            <instance>0</instance>
            <pubkey>SERVERPUB</pubkey>
            <port>51820</port>
            <tunneladdress>10.0.0.1/24</tunneladdress>
            <peers>X</peers>
          </server>
        </servers>
      </server>
      <client>
        <clients>
          <client uuid="X">
            <enabled>0</enabled>
            <name>client0</name>
            <pubkey>PUB</pubkey>
            <psk>PSK</psk>
            <tunneladdress>10.0.0.2/32</tunneladdress>
            <serveraddress/>
            <serverport>51820</serverport>
            <keepalive>25</keepalive>
          </client>
        </clients>
      </client>
    </wireguard>
  </OPNsense>
</opnsense>
`
	w, _, _ := setup(t, content)
	if _, err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := readFile(t, w.Options.ConfigXML); got != want {
		t.Errorf("unexpected config:\n%s", got)
	}
}

func TestExcludedAddressesIdempotent(t *testing.T) {
	content := strings.Replace(baseConfig, "<peers>A</peers>", "<peers>A,ghost</peers>", 1)
	doc, err := xmldoc.Parse([]byte(content))
	if err != nil {
		t.Fatal(err)
	}
	server, err := SelectServer(doc, "0")
	if err != nil {
		t.Fatal(err)
	}
	addr, block, err := ValidateServer(server)
	if err != nil {
		t.Fatal(err)
	}

	first, err := ExcludedAddresses(doc, server, addr, block)
	if err != nil {
		t.Fatal(err)
	}
	second, err := ExcludedAddresses(doc, server, addr, block)
	if err != nil {
		t.Fatal(err)
	}

	a, b := first.InBlock(), second.InBlock()
	if len(a) != 2 || len(b) != 2 {
		t.Fatalf("expected 2 excluded addresses, got %v and %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("expected identical sets, got %v and %v", a, b)
		}
	}
	if got := string(doc.Serialize()); got != content {
		t.Error("expected document unchanged")
	}
}

func TestCheckInstance(t *testing.T) {
	tests := []struct {
		instance string
		servers  int
		ok       bool
	}{
		{"0", 1, true},
		{"1", 1, true},
		{"2", 1, false},
		{"-1", 3, false},
		{"", 3, false},
		{"a", 3, false},
	}
	for _, tt := range tests {
		err := CheckInstance(tt.instance, tt.servers)
		if tt.ok && err != nil {
			t.Errorf("CheckInstance(%q, %d): unexpected error %v", tt.instance, tt.servers, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidInstance) {
			t.Errorf("CheckInstance(%q, %d): expected ErrInvalidInstance, got %v", tt.instance, tt.servers, err)
		}
	}
}
