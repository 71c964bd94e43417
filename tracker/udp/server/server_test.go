package udpTrackerServer

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"net/netip"
	"testing"
	"time"

	g "github.com/anacrolix/generics"
	qt "github.com/go-quicktest/qt"
	"github.com/stretchr/testify/require"

	"github.com/anacrolix/btlink/tracker/udp"
)

type sentDatagram struct {
	data []byte
	addr net.Addr
}

func newTestServer() (*Server, *[]sentDatagram) {
	var sent []sentDatagram
	return &Server{
		ConnTracker:     &MemoryConnTracker{},
		AnnounceTracker: &MemoryAnnounceTracker{},
		SendResponse: func(ctx context.Context, data []byte, addr net.Addr) (int, error) {
			sent = append(sent, sentDatagram{append([]byte(nil), data...), addr})
			return len(data), nil
		},
	}, &sent
}

func lastResponse(t *testing.T, sent []sentDatagram) (h udp.ResponseHeader, body []byte) {
	t.Helper()
	qt.Assert(t, qt.Not(qt.HasLen(sent, 0)))
	r := bytes.NewReader(sent[len(sent)-1].data)
	qt.Assert(t, qt.IsNil(udp.Read(r, &h)))
	body = sent[len(sent)-1].data[8:]
	return
}

func connect(t *testing.T, s *Server, sent *[]sentDatagram, source net.Addr) udp.ConnectionId {
	t.Helper()
	err := s.HandleRequest(context.Background(), AddrFamilyOf(source), source, udp.MarshalConnectRequest(1))
	qt.Assert(t, qt.IsNil(err))
	h, body := lastResponse(t, *sent)
	qt.Assert(t, qt.Equals(h.Action, udp.ActionConnect))
	qt.Assert(t, qt.Equals(h.TransactionId, 1))
	qt.Assert(t, qt.HasLen(body, 8))
	return binary.BigEndian.Uint64(body)
}

func TestAnnounceUnknownConnectionId(t *testing.T) {
	s, sent := newTestServer()
	source := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	err := s.HandleRequest(
		context.Background(), udp.AddrFamilyIpv4, source,
		udp.MarshalAnnounceRequest(1234, 9, udp.AnnounceRequest{}, udp.Options{}))
	qt.Check(t, qt.ErrorIs(err, ErrUnknownConnectionId))
	h, body := lastResponse(t, *sent)
	qt.Check(t, qt.Equals(h.Action, udp.ActionError))
	qt.Check(t, qt.Equals(h.TransactionId, 9))
	qt.Check(t, qt.Equals(string(body), udp.ConnectionIdMissmatchNul))
	qt.Check(t, qt.Equals((*sent)[0].addr, net.Addr(source)))
}

func TestConnectionIdBoundToSource(t *testing.T) {
	s, sent := newTestServer()
	a := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	b := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 5000}
	connId := connect(t, s, sent, a)
	err := s.HandleRequest(context.Background(), udp.AddrFamilyIpv4, b,
		udp.MarshalAnnounceRequest(connId, 2, udp.AnnounceRequest{}, udp.Options{}))
	qt.Check(t, qt.ErrorIs(err, ErrUnknownConnectionId))
	err = s.HandleRequest(context.Background(), udp.AddrFamilyIpv4, a,
		udp.MarshalAnnounceRequest(connId, 3, udp.AnnounceRequest{}, udp.Options{}))
	qt.Check(t, qt.IsNil(err))
}

func TestConnectBadProtocolId(t *testing.T) {
	s, sent := newTestServer()
	b := udp.MarshalConnectRequest(5)
	b[0] ^= 1
	err := s.HandleRequest(context.Background(), udp.AddrFamilyIpv4, &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1}, b)
	qt.Check(t, qt.ErrorIs(err, errBadProtocolId))
	h, _ := lastResponse(t, *sent)
	qt.Check(t, qt.Equals(h.Action, udp.ActionError))
}

func TestUnhandledAction(t *testing.T) {
	s, sent := newTestServer()
	var buf bytes.Buffer
	udp.Write(&buf, udp.RequestHeader{ConnectionId: 1, Action: 7, TransactionId: 3})
	err := s.HandleRequest(context.Background(), udp.AddrFamilyIpv4, &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1}, buf.Bytes())
	qt.Check(t, qt.IsNotNil(err))
	h, _ := lastResponse(t, *sent)
	qt.Check(t, qt.Equals(h.Action, udp.ActionError))
	qt.Check(t, qt.Equals(h.TransactionId, 3))

	// A truncated header gets no response.
	*sent = nil
	err = s.HandleRequest(context.Background(), udp.AddrFamilyIpv4, &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1}, buf.Bytes()[:10])
	qt.Check(t, qt.IsNotNil(err))
	qt.Check(t, qt.HasLen(*sent, 0))
}

func TestMemoryConnTrackerExpiry(t *testing.T) {
	now := time.Unix(1e9, 0)
	ct := MemoryConnTracker{now: func() time.Time { return now }}
	ctx := context.Background()
	qt.Assert(t, qt.IsNil(ct.Add(ctx, "a", 1)))
	ok, _ := ct.Check(ctx, "a", 1)
	qt.Check(t, qt.IsTrue(ok))
	ok, _ = ct.Check(ctx, "b", 1)
	qt.Check(t, qt.IsFalse(ok))
	now = now.Add(udp.ConnectionIdLifetime - time.Second)
	ok, _ = ct.Check(ctx, "a", 1)
	qt.Check(t, qt.IsTrue(ok))
	now = now.Add(time.Second)
	ok, _ = ct.Check(ctx, "a", 1)
	qt.Check(t, qt.IsFalse(ok))
	qt.Check(t, qt.Equals(ct.Len(), 0))
}

func TestMemoryAnnounceTracker(t *testing.T) {
	now := time.Unix(1e9, 0)
	at := MemoryAnnounceTracker{now: func() time.Time { return now }}
	ctx := context.Background()
	ih := InfoHash{1}
	seeder := netip.MustParseAddrPort("1.2.3.4:1")
	leecher := netip.MustParseAddrPort("1.2.3.5:2")
	v6 := netip.MustParseAddrPort("[2001:db8::1]:3")
	require.NoError(t, at.TrackAnnounce(ctx, udp.AnnounceRequest{InfoHash: ih, Event: udp.AnnounceEventStarted}, seeder))
	require.NoError(t, at.TrackAnnounce(ctx, udp.AnnounceRequest{InfoHash: ih, Left: 10}, leecher))
	require.NoError(t, at.TrackAnnounce(ctx, udp.AnnounceRequest{InfoHash: ih, Left: 10}, v6))

	res := at.GetPeers(ctx, ih, GetPeersOpts{Family: udp.AddrFamilyIpv4}, leecher)
	require.NoError(t, res.Err)
	require.Equal(t, []AnnounceAddr{seeder}, res.Peers)
	require.EqualValues(t, 1, res.Seeders.Value)
	require.EqualValues(t, 2, res.Leechers.Value)

	res = at.GetPeers(ctx, ih, GetPeersOpts{Family: udp.AddrFamilyIpv6}, leecher)
	require.ElementsMatch(t, []AnnounceAddr{seeder, v6}, res.Peers)
	res = at.GetPeers(ctx, ih, GetPeersOpts{MaxCount: g.Some[uint](0)}, leecher)
	require.Empty(t, res.Peers)

	require.NoError(t, at.TrackAnnounce(ctx, udp.AnnounceRequest{InfoHash: ih, Event: udp.AnnounceEventCompleted}, leecher))
	require.NoError(t, at.TrackAnnounce(ctx, udp.AnnounceRequest{InfoHash: ih, Event: udp.AnnounceEventStopped}, v6))
	scrape, err := at.Scrape(ctx, []InfoHash{ih, {2}})
	require.NoError(t, err)
	require.Equal(t, []udp.ScrapeInfohashResult{
		{Seeders: 2, Completed: 1, Leechers: 0},
		{},
	}, scrape)

	now = now.Add(2 * DefaultInterval * time.Second)
	scrape, err = at.Scrape(ctx, []InfoHash{ih})
	require.NoError(t, err)
	require.Equal(t, []udp.ScrapeInfohashResult{{Completed: 1}}, scrape)
}

// Exercises the client against the server over loopback.
func TestLoopback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	ct := &MemoryConnTracker{}
	s := &Server{
		ConnTracker:     ct,
		AnnounceTracker: &MemoryAnnounceTracker{},
		Interval:        g.Some[int32](600),
	}
	served := make(chan error, 1)
	go func() { served <- RunSimple(ctx, s, pc, 0) }()

	cc, err := udp.NewConnClient(udp.NewConnClientOpts{
		Network: "udp4",
		Host:    pc.LocalAddr().String(),
	})
	require.NoError(t, err)
	defer cc.Close()

	ih := udp.InfoHash{0xab}
	resp, err := cc.Announce(ctx, udp.AnnounceRequest{InfoHash: ih, Port: 1111, NumWant: -1}, udp.Options{RequestUri: "/announce?k=v"})
	require.NoError(t, err)
	require.EqualValues(t, 600, resp.Interval)
	require.EqualValues(t, 1, resp.Seeders)
	require.Empty(t, resp.Peers)

	resp, err = cc.Announce(ctx, udp.AnnounceRequest{InfoHash: ih, Port: 2222, Left: 5, NumWant: -1}, udp.Options{})
	require.NoError(t, err)
	require.EqualValues(t, 1, resp.Seeders)
	require.EqualValues(t, 1, resp.Leechers)
	require.Equal(t, []netip.AddrPort{netip.MustParseAddrPort("127.0.0.1:1111")}, resp.Peers)
	require.Equal(t, 1, ct.Len())

	scrape, err := cc.Scrape(ctx, []udp.InfoHash{ih, {0xcd}})
	require.NoError(t, err)
	require.Equal(t, udp.ScrapeResponse{{Seeders: 1, Leechers: 1}, {}}, scrape)

	pc.Close()
	require.Error(t, <-served)
}
