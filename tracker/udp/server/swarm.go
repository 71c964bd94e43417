package udpTrackerServer

import (
	"context"
	"net/netip"
	"time"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/sync"

	"github.com/anacrolix/btlink/tracker/udp"
)

type InfoHash = [20]byte

type AnnounceAddr = netip.AddrPort

// This is reserved for stuff like filtering by IP version, avoiding an announcer's IP or key,
// limiting return count, etc.
type GetPeersOpts struct {
	// Negative numbers are not allowed.
	MaxCount g.Option[uint]
	Family   udp.AddrFamily
}

type AnnounceTracker interface {
	TrackAnnounce(ctx context.Context, req udp.AnnounceRequest, addr AnnounceAddr) error
	Scrape(ctx context.Context, infoHashes []InfoHash) ([]udp.ScrapeInfohashResult, error)
	GetPeers(
		ctx context.Context,
		infoHash InfoHash,
		opts GetPeersOpts,
		remote AnnounceAddr,
	) ServerAnnounceResult
}

type ServerAnnounceResult struct {
	Err      error
	Peers    []AnnounceAddr
	Interval g.Option[int32]
	Leechers g.Option[int32]
	Seeders  g.Option[int32]
}

type swarmPeer struct {
	seeder   bool
	lastSeen time.Time
}

type swarm struct {
	peers     map[AnnounceAddr]swarmPeer
	completed int32
}

func (s *swarm) counts() (seeders, leechers int32) {
	for _, p := range s.peers {
		if p.seeder {
			seeders++
		} else {
			leechers++
		}
	}
	return
}

// MemoryAnnounceTracker keeps swarms in memory. Peers that stop announcing are forgotten after
// PeerTimeout.
type MemoryAnnounceTracker struct {
	mu     sync.Mutex
	swarms map[InfoHash]*swarm
	// Defaults to twice DefaultInterval.
	PeerTimeout time.Duration
	now         func() time.Time
}

var _ AnnounceTracker = (*MemoryAnnounceTracker)(nil)

func (me *MemoryAnnounceTracker) timeNow() time.Time {
	if me.now != nil {
		return me.now()
	}
	return time.Now()
}

func (me *MemoryAnnounceTracker) peerTimeout() time.Duration {
	if me.PeerTimeout == 0 {
		return 2 * DefaultInterval * time.Second
	}
	return me.PeerTimeout
}

// Must hold mu.
func (me *MemoryAnnounceTracker) getSwarm(ih InfoHash, create bool) *swarm {
	s, ok := me.swarms[ih]
	if !ok {
		if !create {
			return nil
		}
		s = &swarm{peers: make(map[AnnounceAddr]swarmPeer)}
		g.MakeMapIfNilAndSet(&me.swarms, ih, s)
		return s
	}
	now := me.timeNow()
	for addr, p := range s.peers {
		if now.Sub(p.lastSeen) >= me.peerTimeout() {
			delete(s.peers, addr)
		}
	}
	return s
}

func (me *MemoryAnnounceTracker) TrackAnnounce(ctx context.Context, req udp.AnnounceRequest, addr AnnounceAddr) error {
	me.mu.Lock()
	defer me.mu.Unlock()
	s := me.getSwarm(req.InfoHash, true)
	switch req.Event {
	case udp.AnnounceEventStopped:
		delete(s.peers, addr)
		return nil
	case udp.AnnounceEventCompleted:
		s.completed++
	}
	s.peers[addr] = swarmPeer{
		seeder:   req.Left == 0,
		lastSeen: me.timeNow(),
	}
	return nil
}

func (me *MemoryAnnounceTracker) Scrape(ctx context.Context, infoHashes []InfoHash) (ret []udp.ScrapeInfohashResult, err error) {
	me.mu.Lock()
	defer me.mu.Unlock()
	ret = make([]udp.ScrapeInfohashResult, 0, len(infoHashes))
	for _, ih := range infoHashes {
		var res udp.ScrapeInfohashResult
		if s := me.getSwarm(ih, false); s != nil {
			res.Seeders, res.Leechers = s.counts()
			res.Completed = s.completed
		}
		ret = append(ret, res)
	}
	return
}

// GetPeers returns peers in the swarm other than remote. Only peers of the requested address
// family are returned if one is given.
func (me *MemoryAnnounceTracker) GetPeers(
	ctx context.Context,
	infoHash InfoHash,
	opts GetPeersOpts,
	remote AnnounceAddr,
) (ret ServerAnnounceResult) {
	me.mu.Lock()
	defer me.mu.Unlock()
	s := me.getSwarm(infoHash, false)
	ret.Seeders = g.Some[int32](0)
	ret.Leechers = g.Some[int32](0)
	if s == nil {
		return
	}
	ret.Seeders.Value, ret.Leechers.Value = s.counts()
	for addr := range s.peers {
		if opts.MaxCount.Ok && uint(len(ret.Peers)) >= opts.MaxCount.Value {
			break
		}
		if addr == remote {
			continue
		}
		if opts.Family == udp.AddrFamilyIpv4 && !addr.Addr().Unmap().Is4() {
			continue
		}
		ret.Peers = append(ret.Peers, addr)
	}
	return
}
