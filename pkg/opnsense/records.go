// Package opnsense maps the WireGuard section of an OPNsense config.xml onto
// server and peer records.
package opnsense

import (
	"strings"

	"github.com/glennswest/opnwg/pkg/xmldoc"
)

// Locations of the WireGuard records, relative to the <opnsense> root.
const (
	ServersPath          = "OPNsense/wireguard/server/servers/"
	ClientsContainerPath = "OPNsense/wireguard/client/clients"
	ClientsPath          = ClientsContainerPath + "/client"
)

// Server is a view over a <server> element.
type Server struct {
	Node *xmldoc.Node

	UUID          string
	Instance      string
	Name          string
	Port          string
	PubKey        string
	TunnelAddress string
	Peers         []string // peer uuids in document order
}

// ServerFromNode reads the fields of a <server> element. Missing fields are
// left empty; callers validate.
func ServerFromNode(n *xmldoc.Node) Server {
	s := Server{Node: n}
	s.UUID, _ = n.Attr("uuid")
	s.Instance = text(n, "instance")
	s.Name = text(n, "name")
	s.Port = text(n, "port")
	s.PubKey = text(n, "pubkey")
	s.TunnelAddress = text(n, "tunneladdress")
	s.Peers = SplitPeers(text(n, "peers"))
	return s
}

// Servers returns every configured server in document order.
func Servers(doc *xmldoc.Document) []Server {
	var out []Server
	for _, n := range doc.Root.FindAll(ServersPath) {
		out = append(out, ServerFromNode(n))
	}
	return out
}

// FindServer returns the server whose <instance> equals instance.
func FindServer(doc *xmldoc.Document, instance string) (Server, bool) {
	for _, s := range Servers(doc) {
		if s.Instance == instance {
			return s, true
		}
	}
	return Server{}, false
}

// Peer is a view over a <client> element.
type Peer struct {
	Node *xmldoc.Node

	UUID          string
	Enabled       bool
	Name          string
	PubKey        string
	PSK           string
	TunnelAddress string
	ServerPort    string
	Keepalive     string
}

// PeerFromNode reads the fields of a <client> element.
func PeerFromNode(n *xmldoc.Node) Peer {
	p := Peer{Node: n}
	p.UUID, _ = n.Attr("uuid")
	p.Enabled = text(n, "enabled") == "1"
	p.Name = text(n, "name")
	p.PubKey = text(n, "pubkey")
	p.PSK = text(n, "psk")
	p.TunnelAddress = text(n, "tunneladdress")
	p.ServerPort = text(n, "serverport")
	p.Keepalive = text(n, "keepalive")
	return p
}

// PeersByUUID indexes every configured peer by uuid. Peers without a uuid
// are skipped since no server can reference them.
func PeersByUUID(doc *xmldoc.Document) map[string]Peer {
	out := make(map[string]Peer)
	for _, n := range doc.Root.FindAll(ClientsPath) {
		p := PeerFromNode(n)
		if p.UUID == "" {
			continue
		}
		out[p.UUID] = p
	}
	return out
}

// SplitPeers parses a comma-joined peer list. Blank entries are dropped.
func SplitPeers(s string) []string {
	var out []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// JoinPeers appends id to existing and returns the comma-joined list.
func JoinPeers(existing []string, id string) string {
	all := make([]string, 0, len(existing)+1)
	all = append(all, existing...)
	all = append(all, id)
	return strings.Join(all, ",")
}

func text(n *xmldoc.Node, child string) string {
	v, _ := n.ChildText(child)
	return strings.TrimSpace(v)
}
