package main

import (
	"context"
	"errors"
	"net"
	"time"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"

	udpTrackerServer "github.com/anacrolix/btlink/tracker/udp/server"
)

type serveCmd struct {
	Addr     string        `default:"localhost:6969"`
	Network  string        `default:"udp"`
	Interval time.Duration `default:"30m" help:"announce interval given to clients"`
}

func (me *serveCmd) Run(ctx context.Context) error {
	pc, err := net.ListenPacket(me.Network, me.Addr)
	if err != nil {
		return err
	}
	defer pc.Close()
	logger.Levelf(log.Info, "serving udp tracker on %v", pc.LocalAddr())
	go func() {
		<-ctx.Done()
		pc.Close()
	}()
	s := udpTrackerServer.Server{
		ConnTracker:     &udpTrackerServer.MemoryConnTracker{},
		AnnounceTracker: &udpTrackerServer.MemoryAnnounceTracker{PeerTimeout: 2 * me.Interval},
		Interval:        g.Some(int32(me.Interval / time.Second)),
		Logger:          g.Some(logger),
	}
	err = udpTrackerServer.RunSimple(ctx, &s, pc, 0)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}
