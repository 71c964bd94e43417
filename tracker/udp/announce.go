package udp

import (
	"encoding"
	"fmt"
	"net/netip"

	"github.com/anacrolix/dht/v2/krpc"
)

// Marshalled as binary by the UDP client, so be careful making changes.
type AnnounceRequest struct {
	InfoHash   InfoHash
	PeerId     [20]byte
	Downloaded int64
	Left       int64
	Uploaded   int64
	// None is used for announces done at regular intervals.
	Event AnnounceEvent
	// 0 means the tracker should use the packet's source address.
	IPAddress uint32
	Key       int32
	NumWant   int32 // How many peer addresses are desired. -1 for default.
	Port      uint16
} // 82 bytes

// SetIPv4 sets the announced address. Only IPv4 addresses fit the field.
func (r *AnnounceRequest) SetIPv4(addr netip.Addr) error {
	addr = addr.Unmap()
	if !addr.Is4() {
		return fmt.Errorf("announce address %v is not IPv4", addr)
	}
	b := addr.As4()
	r.IPAddress = uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	return nil
}

type AnnounceEvent int32

const (
	AnnounceEventNone AnnounceEvent = iota
	AnnounceEventCompleted
	AnnounceEventStarted
	AnnounceEventStopped
)

func (me *AnnounceEvent) UnmarshalText(text []byte) error {
	for key, str := range announceEventStrings {
		if string(text) == str {
			*me = AnnounceEvent(key)
			return nil
		}
	}
	return fmt.Errorf("unknown event %q", text)
}

var announceEventStrings = []string{"", "completed", "started", "stopped"}

func (e AnnounceEvent) String() string {
	// See BEP 3, "event". Return a safe default in case event values are not sanitized.
	if e < 0 || int(e) >= len(announceEventStrings) {
		return ""
	}
	return announceEventStrings[e]
}

type AnnounceResponseHeader struct {
	Interval int32 // Seconds until the tracker expects the next announce.
	Leechers int32
	Seeders  int32
} // 12 bytes

type AnnounceResponse struct {
	AnnounceResponseHeader
	Peers []netip.AddrPort
}

type AnnounceResponsePeers interface {
	encoding.BinaryUnmarshaler
	NodeAddrs() []krpc.NodeAddr
}

// Per BEP 15 the peer entry size depends on the address family the announce was made over.
const announceResponseHeaderLen = 12

// Compact peer lengths: address followed by a 2 byte port.
const (
	compactIpv4PeerLen = 6
	compactIpv6PeerLen = 18
)

func checkAnnounceResponseBody(b []byte, ipv6 bool) error {
	if len(b) < announceResponseHeaderLen {
		return fmt.Errorf("announce response too short: %v bytes", len(b))
	}
	peerLen := compactIpv4PeerLen
	if ipv6 {
		peerLen = compactIpv6PeerLen
	}
	if n := len(b) - announceResponseHeaderLen; n%peerLen != 0 {
		return fmt.Errorf("announce response peers length %v isn't a multiple of %v", n, peerLen)
	}
	return nil
}

func decodeAnnounceResponsePeers(b []byte, ipv6 bool) (ret []netip.AddrPort, err error) {
	var peers AnnounceResponsePeers
	if ipv6 {
		peers = &krpc.CompactIPv6NodeAddrs{}
	} else {
		peers = &krpc.CompactIPv4NodeAddrs{}
	}
	err = peers.UnmarshalBinary(b)
	if err != nil {
		return
	}
	for _, na := range peers.NodeAddrs() {
		ap := na.UDP().AddrPort()
		ret = append(ret, netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()))
	}
	return
}
