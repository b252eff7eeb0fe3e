package p2p

import (
	"github.com/siertrichain/siertrichain/internal/ratelimit"
	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// banGater implements the libp2p ConnectionGater interface to reject
// connections from banned peers and firewalled addresses at the transport
// level. Firewall rules are ordered CIDR allow/deny entries, first match wins.
type banGater struct {
	banMgr   *BanManager
	firewall *ratelimit.Firewall // nil disables address filtering
}

// InterceptPeerDial rejects outbound dials to banned peers.
func (g *banGater) InterceptPeerDial(p peer.ID) bool {
	return !g.banMgr.IsBanned(p)
}

// InterceptAddrDial rejects outbound dials to a firewalled address.
func (g *banGater) InterceptAddrDial(_ peer.ID, addr ma.Multiaddr) bool {
	if g.firewall == nil {
		return true
	}
	return g.addrAllowed(addr)
}

// InterceptAccept rejects inbound connections from a firewalled address.
// Peer identity isn't known yet at this stage, only the remote address.
func (g *banGater) InterceptAccept(conns network.ConnMultiaddrs) bool {
	if g.firewall == nil {
		return true
	}
	return g.addrAllowed(conns.RemoteMultiaddr())
}

func (g *banGater) addrAllowed(addr ma.Multiaddr) bool {
	if g.firewall == nil {
		return true
	}
	ip, err := manet.ToIP(addr)
	if err != nil {
		return true // Non-IP transport (e.g. in-memory test harness); nothing to filter.
	}
	return g.firewall.Allowed(ip)
}

// InterceptSecured rejects connections from banned peers once their
// identity is authenticated.
func (g *banGater) InterceptSecured(_ network.Direction, p peer.ID, _ network.ConnMultiaddrs) bool {
	return !g.banMgr.IsBanned(p)
}

// InterceptUpgraded allows all fully upgraded connections.
func (g *banGater) InterceptUpgraded(_ network.Conn) (bool, control.DisconnectReason) {
	return true, 0
}
