package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"golang.org/x/time/rate"

	"github.com/anacrolix/btlink/tracker/udp"
)

var ErrUnsupportedScheme = errors.New("unsupported tracker url scheme")

type (
	AnnounceRequest  = udp.AnnounceRequest
	AnnounceResponse = udp.AnnounceResponse
	AnnounceEvent    = udp.AnnounceEvent
	ScrapeResponse   = udp.ScrapeResponse
	InfoHash         = udp.InfoHash
)

const (
	None      = udp.AnnounceEventNone
	Completed = udp.AnnounceEventCompleted
	Started   = udp.AnnounceEventStarted
	Stopped   = udp.AnnounceEventStopped
)

// Announce is a one-shot announce to a single tracker.
type Announce struct {
	TrackerUrl string
	Request    AnnounceRequest
	// The network to use for udp trackers, such as "udp4". Defaults to "udp".
	UdpNetwork string
	// Announced in place of the packet source address if the request doesn't set one.
	ClientIp4 netip.Addr
	Limiter   *rate.Limiter
	Logger    g.Option[log.Logger]
}

func (me Announce) Do(ctx context.Context) (res AnnounceResponse, err error) {
	cl, err := NewClient(me.TrackerUrl, NewClientOpts{
		UdpNetwork: me.UdpNetwork,
		Limiter:    me.Limiter,
		Logger:     me.Logger,
	})
	if err != nil {
		return
	}
	defer cl.Close()
	req := me.Request
	if req.IPAddress == 0 && me.ClientIp4.IsValid() {
		err = req.SetIPv4(me.ClientIp4)
		if err != nil {
			err = fmt.Errorf("setting client ip: %w", err)
			return
		}
	}
	return cl.Announce(ctx, req)
}
