package tracker

import (
	"context"
	"net"
	"net/netip"
	"testing"

	qt "github.com/go-quicktest/qt"
	"github.com/stretchr/testify/require"

	"github.com/anacrolix/btlink/metainfo"
	udpTrackerServer "github.com/anacrolix/btlink/tracker/udp/server"
	"github.com/anacrolix/btlink/types/infohash"
)

func TestUnsupportedTrackerScheme(t *testing.T) {
	t.Parallel()
	_, err := Announce{TrackerUrl: "lol://tracker.openbittorrent.com:80/announce"}.Do(context.Background())
	qt.Check(t, qt.ErrorIs(err, ErrUnsupportedScheme))
	_, err = NewClient("http://tracker.example/announce", NewClientOpts{})
	qt.Check(t, qt.ErrorIs(err, ErrUnsupportedScheme))
}

func TestLegacyInfoHash(t *testing.T) {
	v1, err := infohash.FromLegacySha1("807646161c8bad88781761dfc759eef870421098")
	qt.Assert(t, qt.IsNil(err))
	ih, err := LegacyInfoHash(v1)
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(ih[0], 0x80))
	qt.Check(t, qt.Equals(ih[19], 0x98))

	v2, err := infohash.ParseMultihash("1220caf1e1c30e81cb361b9ee167c4aa64228a7fa4fa9f6105232b28ad099f3a302e")
	qt.Assert(t, qt.IsNil(err))
	_, err = LegacyInfoHash(v2)
	qt.Check(t, qt.ErrorIs(err, ErrUnsupportedHashLength))
}

func TestAnnounceRequestForMagnet(t *testing.T) {
	hybrid, err := metainfo.ParseMagnetUri("magnet:?xt=urn:btmh:1220caf1e1c30e81cb361b9ee167c4aa64228a7fa4fa9f6105232b28ad099f3a302e&xt=urn:btih:807646161c8bad88781761dfc759eef870421098")
	qt.Assert(t, qt.IsNil(err))
	req, err := AnnounceRequestForMagnet(hybrid, [20]byte{'p'}, 6881)
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(req.InfoHash[0], 0x80))
	qt.Check(t, qt.Equals(req.Event, Started))
	qt.Check(t, qt.Equals(req.Port, 6881))
	qt.Check(t, qt.Equals(req.NumWant, -1))
	qt.Check(t, qt.Equals(req.PeerId[0], 'p'))

	v2Only, err := metainfo.ParseMagnetUri("magnet:?xt=urn:btmh:1220caf1e1c30e81cb361b9ee167c4aa64228a7fa4fa9f6105232b28ad099f3a302e&dn=bittorrent-v2-test")
	qt.Assert(t, qt.IsNil(err))
	_, err = AnnounceRequestForMagnet(v2Only, [20]byte{}, 6881)
	qt.Check(t, qt.ErrorIs(err, ErrUnsupportedHashLength))
}

func startServer(t *testing.T) (trackerUrl string, s *udpTrackerServer.Server) {
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })
	s = &udpTrackerServer.Server{
		ConnTracker:     &udpTrackerServer.MemoryConnTracker{},
		AnnounceTracker: &udpTrackerServer.MemoryAnnounceTracker{},
	}
	go udpTrackerServer.RunSimple(context.Background(), s, pc, 0)
	return "udp://" + pc.LocalAddr().String() + "/announce", s
}

func TestClientReusesConnection(t *testing.T) {
	trackerUrl, s := startServer(t)
	cl, err := NewClient(trackerUrl, NewClientOpts{UdpNetwork: "udp4"})
	require.NoError(t, err)
	defer cl.Close()
	ctx := context.Background()
	ih := InfoHash{1, 2, 3}
	for _, port := range []uint16{1000, 1001} {
		_, err = cl.Announce(ctx, AnnounceRequest{InfoHash: ih, Port: port, Left: 1, NumWant: -1})
		require.NoError(t, err)
	}
	scrape, err := cl.Scrape(ctx, []InfoHash{ih})
	require.NoError(t, err)
	require.EqualValues(t, 2, scrape[0].Leechers)
	require.Equal(t, 1, s.ConnTracker.(*udpTrackerServer.MemoryConnTracker).Len())
}

func TestAnnounceClientIp(t *testing.T) {
	trackerUrl, _ := startServer(t)
	ctx := context.Background()
	ih := InfoHash{4}
	_, err := Announce{
		TrackerUrl: trackerUrl,
		Request:    AnnounceRequest{InfoHash: ih, Port: 1, NumWant: -1},
		UdpNetwork: "udp4",
		ClientIp4:  netip.MustParseAddr("10.0.0.1"),
	}.Do(ctx)
	require.NoError(t, err)
	_, err = Announce{
		TrackerUrl: trackerUrl,
		Request:    AnnounceRequest{InfoHash: ih, NumWant: -1},
		ClientIp4:  netip.MustParseAddr("::1"),
	}.Do(ctx)
	require.Error(t, err)
}

func TestAnnounceAll(t *testing.T) {
	a, _ := startServer(t)
	b, _ := startServer(t)
	urls := []string{a, "http://tracker.example/announce", b}
	results := AnnounceAll(context.Background(), urls, AnnounceRequest{InfoHash: InfoHash{9}, Port: 7, NumWant: -1}, NewClientOpts{UdpNetwork: "udp4"})
	require.Len(t, results, 3)
	for i, res := range results {
		require.Equal(t, urls[i], res.TrackerUrl)
	}
	require.NoError(t, results[0].Err)
	require.ErrorIs(t, results[1].Err, ErrUnsupportedScheme)
	require.NoError(t, results[2].Err)
	require.EqualValues(t, 1, results[2].Response.Seeders)
}

func TestAnnounceMagnet(t *testing.T) {
	a, _ := startServer(t)
	m, err := metainfo.ParseMagnetUri("magnet:?xt=urn:btih:807646161c8bad88781761dfc759eef870421098&tr=" + a)
	require.NoError(t, err)
	results, err := AnnounceMagnet(context.Background(), m, [20]byte{}, 6881, NewClientOpts{UdpNetwork: "udp4"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.EqualValues(t, 1, results[0].Response.Leechers)
}
