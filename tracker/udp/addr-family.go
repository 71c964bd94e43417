package udp

import (
	"encoding/binary"
	"net/netip"
)

// Discriminates behaviours based on address family in use.
type AddrFamily int

const (
	AddrFamilyIpv4 AddrFamily = iota + 1
	AddrFamilyIpv6
)

// AppendCompactPeers appends the compact form of the peers in the family: 4 or 16 address bytes
// then a 2 byte port. Peers not in the family are skipped. IPv4 peers are mapped for IPv6.
func AppendCompactPeers(b []byte, peers []netip.AddrPort, family AddrFamily) []byte {
	for _, p := range peers {
		addr := p.Addr().Unmap()
		switch family {
		case AddrFamilyIpv4:
			if !addr.Is4() {
				continue
			}
			a := addr.As4()
			b = append(b, a[:]...)
		case AddrFamilyIpv6:
			a := addr.As16()
			b = append(b, a[:]...)
		default:
			continue
		}
		b = binary.BigEndian.AppendUint16(b, p.Port())
	}
	return b
}
