package udp

import (
	"context"
	"errors"
	"net"
	"sync"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/anacrolix/missinggo/v2"
	"golang.org/x/time/rate"
)

type NewConnClientOpts struct {
	// The network to operate to use, such as "udp4", "udp", "udp6".
	Network string
	// Tracker address
	Host string
	// If non-nil, forces either IPv4 or IPv6 in the UDP tracker wire protocol.
	Ipv6 *bool
	// Local address to listen on. Defaults to an ephemeral port on all interfaces.
	ListenAddr string
	Logger     g.Option[log.Logger]
	// Passed through to Client.
	Limiter *rate.Limiter
}

// Manages a Client with a specific connection.
type ConnClient struct {
	Client  Client
	conn    net.PacketConn
	d       Dispatcher
	logger  log.Logger
	readErr error
	mu      sync.Mutex
	closed  bool
	newOpts NewConnClientOpts
}

func (cc *ConnClient) reader() {
	b := make([]byte, 0x800)
	for {
		n, addr, err := cc.conn.ReadFrom(b)
		if err != nil {
			cc.mu.Lock()
			cc.readErr = err
			closed := cc.closed
			cc.mu.Unlock()
			if !closed {
				cc.logger.Levelf(log.Warning, "reading from %v: %v", cc.conn.LocalAddr(), err)
			}
			break
		}
		err = cc.d.Dispatch(b[:n], addr)
		if err != nil {
			cc.logger.Levelf(log.Debug, "dispatching packet received on %v (%q): %v", cc.conn.LocalAddr(), string(b[:n]), err)
		}
	}
}

func ipv6(opt *bool, network string, remoteAddr net.Addr) bool {
	if opt != nil {
		return *opt
	}
	switch network {
	case "udp4":
		return false
	case "udp6":
		return true
	}
	rip := missinggo.AddrIP(remoteAddr)
	return rip.To16() != nil && rip.To4() == nil
}

// Allows a UDP Client to write packets to an endpoint without knowing about the network specifics.
type clientWriter struct {
	pc      net.PacketConn
	network string
	address string
}

func (me clientWriter) Write(p []byte) (n int, err error) {
	addr, err := net.ResolveUDPAddr(me.network, me.address)
	if err != nil {
		return
	}
	return me.pc.WriteTo(p, addr)
}

func NewConnClient(opts NewConnClientOpts) (cc *ConnClient, err error) {
	if opts.Network == "" {
		opts.Network = "udp"
	}
	listenAddr := opts.ListenAddr
	if listenAddr == "" {
		listenAddr = ":0"
	}
	conn, err := net.ListenPacket(opts.Network, listenAddr)
	if err != nil {
		return
	}
	logger := opts.Logger.UnwrapOr(defaultLogger)
	cc = &ConnClient{
		Client: Client{
			Writer: clientWriter{
				pc:      conn,
				network: opts.Network,
				address: opts.Host,
			},
			Limiter: opts.Limiter,
			Logger:  g.Some(logger),
		},
		conn:    conn,
		logger:  logger,
		newOpts: opts,
	}
	cc.Client.Dispatcher = &cc.d
	go cc.reader()
	return
}

var errClosed = errors.New("conn client closed")

func (cc *ConnClient) Close() error {
	cc.mu.Lock()
	if cc.closed {
		cc.mu.Unlock()
		return errClosed
	}
	cc.closed = true
	cc.mu.Unlock()
	return cc.conn.Close()
}

func (cc *ConnClient) LocalAddr() net.Addr {
	return cc.conn.LocalAddr()
}

func (cc *ConnClient) Connect(ctx context.Context) error {
	return cc.Client.Connect(ctx)
}

func (cc *ConnClient) Announce(
	ctx context.Context, req AnnounceRequest, opts Options,
) (
	AnnounceResponse, error,
) {
	return cc.Client.Announce(ctx, req, opts, func(addr net.Addr) bool {
		return ipv6(cc.newOpts.Ipv6, cc.newOpts.Network, addr)
	})
}

func (cc *ConnClient) Scrape(ctx context.Context, ihs []InfoHash) (ScrapeResponse, error) {
	return cc.Client.Scrape(ctx, ihs)
}
