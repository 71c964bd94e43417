// Command btlink inspects magnet links and info hashes, and talks to UDP trackers.
package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/anacrolix/envpprof"
	"github.com/anacrolix/log"

	"github.com/anacrolix/btlink/types"
)

type args struct {
	Magnet   *magnetCmd   `arg:"subcommand:magnet" help:"parse a magnet link"`
	Infohash *infohashCmd `arg:"subcommand:infohash" help:"parse a legacy or multihash info hash"`
	Announce *announceCmd `arg:"subcommand:announce" help:"announce to UDP trackers"`
	Scrape   *scrapeCmd   `arg:"subcommand:scrape" help:"scrape a UDP tracker"`
	Serve    *serveCmd    `arg:"subcommand:serve" help:"run an in-memory UDP tracker"`
	Metadata *metadataCmd `arg:"subcommand:metadata-pieces" help:"show the metadata pieces for an info of the given size"`
}

type trackerFlags struct {
	Network string        `help:"network for udp trackers" default:"udp"`
	Timeout time.Duration `help:"give up on trackers after this long" default:"1m"`
}

var logger = log.Default.WithNames("btlink")

func main() {
	defer envpprof.Stop()
	err := mainErr()
	if err != nil {
		logger.Levelf(log.Error, "error in main: %v", err)
		os.Exit(1)
	}
}

func mainErr() error {
	var args args
	p := arg.MustParse(&args)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	switch {
	case args.Magnet != nil:
		return args.Magnet.Run()
	case args.Infohash != nil:
		return args.Infohash.Run()
	case args.Announce != nil:
		return args.Announce.Run(ctx)
	case args.Scrape != nil:
		return args.Scrape.Run(ctx)
	case args.Serve != nil:
		return args.Serve.Run(ctx)
	case args.Metadata != nil:
		return args.Metadata.Run()
	default:
		p.Fail("expected subcommand")
		panic("unreachable")
	}
}

func randomPeerId() [20]byte {
	return types.RandomPeerID("-BL0001-")
}
