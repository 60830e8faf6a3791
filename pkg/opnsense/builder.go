package opnsense

import (
	"net/netip"
	"strconv"

	"github.com/google/uuid"

	"github.com/glennswest/opnwg/pkg/xmldoc"
)

// Keys is the key material generated for a new peer. PrivateKey never goes
// into the document; it is only written to the client profile.
type Keys struct {
	PrivateKey   string
	PublicKey    string
	PresharedKey string
}

// Metadata is everything about a new peer that is not key material or an
// address.
type Metadata struct {
	UUID       string
	Name       string
	ServerPort string
	Keepalive  int
	Enabled    bool
}

// NewPeer is the result of Build: the <client> element to insert under the
// clients container and the server's updated <peers> text.
type NewPeer struct {
	Node     *xmldoc.Node
	PeerList string
}

// NewPeerID returns a fresh random peer identifier.
func NewPeerID() string {
	return uuid.NewString()
}

// HostPrefix returns addr as a single-host prefix (/32 or /128).
func HostPrefix(addr netip.Addr) netip.Prefix {
	return netip.PrefixFrom(addr, addr.BitLen())
}

// Build assembles a <client> element in the field order OPNsense writes
// and appends its uuid to the server's peer list. It has no side effects;
// the caller inserts the node and stores PeerList.
func Build(addr netip.Addr, keys Keys, meta Metadata, existingPeers []string) NewPeer {
	enabled := "0"
	if meta.Enabled {
		enabled = "1"
	}

	n := xmldoc.NewElement("client", xmldoc.Attr{Name: "uuid", Value: meta.UUID})
	n.Append(xmldoc.NewTextElement("enabled", enabled))
	n.Append(xmldoc.NewTextElement("name", meta.Name))
	n.Append(xmldoc.NewTextElement("pubkey", keys.PublicKey))
	n.Append(xmldoc.NewTextElement("psk", keys.PresharedKey))
	n.Append(xmldoc.NewTextElement("tunneladdress", HostPrefix(addr).String()))
	n.Append(xmldoc.NewElement("serveraddress"))
	n.Append(xmldoc.NewTextElement("serverport", meta.ServerPort))
	n.Append(xmldoc.NewTextElement("keepalive", strconv.Itoa(meta.Keepalive)))

	return NewPeer{
		Node:     n,
		PeerList: JoinPeers(existingPeers, meta.UUID),
	}
}
