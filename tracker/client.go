package tracker

import (
	"context"
	"fmt"
	"net/url"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"golang.org/x/time/rate"

	"github.com/anacrolix/btlink/tracker/udp"
)

type Client interface {
	Announce(context.Context, AnnounceRequest) (AnnounceResponse, error)
	Scrape(ctx context.Context, ihs []InfoHash) (ScrapeResponse, error)
	Close() error
}

type NewClientOpts struct {
	// The network to use for "udp" trackers. Defaults to "udp".
	UdpNetwork string
	// Local address for the client socket.
	ListenAddr string
	Limiter    *rate.Limiter
	Logger     g.Option[log.Logger]
}

// NewClient returns a Client for the tracker at urlStr. The client keeps its connection id
// between requests, so reuse it for repeated announces to the same tracker.
func NewClient(urlStr string, opts NewClientOpts) (Client, error) {
	_url, err := url.Parse(urlStr)
	if err != nil {
		return nil, err
	}
	network := opts.UdpNetwork
	switch _url.Scheme {
	case "udp":
		if network == "" {
			network = "udp"
		}
	case "udp4", "udp6":
		network = _url.Scheme
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, _url.Scheme)
	}
	cc, err := udp.NewConnClient(udp.NewConnClientOpts{
		Network:    network,
		Host:       _url.Host,
		ListenAddr: opts.ListenAddr,
		Logger:     opts.Logger,
		Limiter:    opts.Limiter,
	})
	if err != nil {
		return nil, err
	}
	return &udpClient{
		cl:         cc,
		requestUri: _url.RequestURI(),
	}, nil
}

type udpClient struct {
	cl         *udp.ConnClient
	requestUri string
}

func (c *udpClient) Announce(ctx context.Context, req AnnounceRequest) (AnnounceResponse, error) {
	// BEP 41: the path and query carry things like passkeys for private trackers.
	return c.cl.Announce(ctx, req, udp.Options{RequestUri: c.requestUri})
}

func (c *udpClient) Scrape(ctx context.Context, ihs []InfoHash) (ScrapeResponse, error) {
	return c.cl.Scrape(ctx, ihs)
}

func (c *udpClient) Close() error {
	return c.cl.Close()
}
