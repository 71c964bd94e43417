package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anacrolix/log"
	"github.com/davecgh/go-spew/spew"

	"github.com/anacrolix/btlink/metainfo"
	"github.com/anacrolix/btlink/tracker"
	"github.com/anacrolix/btlink/tracker/udp"
)

type announceCmd struct {
	trackerFlags
	Target   string            `arg:"positional,required" help:"magnet link or info hash"`
	Trackers []string          `arg:"-t,--tracker,separate" help:"tracker url, added to those in a magnet link"`
	Event    udp.AnnounceEvent `help:"started, completed or stopped"`
	Port     uint16            `default:"6881"`
	Left     int64             `default:"-1" help:"bytes left to download"`
}

func (me *announceCmd) Run(ctx context.Context) error {
	urls := me.Trackers
	var req tracker.AnnounceRequest
	var err error
	if strings.HasPrefix(me.Target, "magnet:") {
		var m metainfo.Magnet
		m, err = metainfo.ParseMagnetUri(me.Target)
		if err != nil {
			return err
		}
		req, err = tracker.AnnounceRequestForMagnet(m, randomPeerId(), me.Port)
		if err != nil {
			return err
		}
		trackerUrls, err := m.TrackerURLs()
		if err != nil {
			return err
		}
		for _, u := range trackerUrls {
			urls = append(urls, u.String())
		}
	} else {
		ih, err := parseInfoHash(me.Target)
		if err != nil {
			return err
		}
		req.InfoHash, err = tracker.LegacyInfoHash(ih)
		if err != nil {
			return err
		}
		req.PeerId = randomPeerId()
		req.Port = me.Port
		req.NumWant = -1
	}
	if me.Event != tracker.None {
		req.Event = me.Event
	}
	req.Left = me.Left
	if len(urls) == 0 {
		return errors.New("no trackers")
	}
	ctx, cancel := context.WithTimeout(ctx, me.Timeout)
	defer cancel()
	var failed int
	for _, res := range tracker.AnnounceAll(ctx, urls, req, tracker.NewClientOpts{UdpNetwork: me.Network}) {
		if res.Err != nil {
			failed++
			logger.Levelf(log.Warning, "error announcing to %q: %v", res.TrackerUrl, res.Err)
			continue
		}
		fmt.Printf("tracker response from %q: %s", res.TrackerUrl, spew.Sdump(res.Response))
	}
	if failed == len(urls) {
		return errors.New("all announces failed")
	}
	return nil
}

type scrapeCmd struct {
	trackerFlags
	Tracker string   `arg:"positional,required"`
	Hashes  []string `arg:"positional,required" help:"info hashes"`
}

func (me *scrapeCmd) Run(ctx context.Context) error {
	ihs := make([]tracker.InfoHash, 0, len(me.Hashes))
	for _, s := range me.Hashes {
		ih, err := parseInfoHash(s)
		if err != nil {
			return fmt.Errorf("parsing %q: %w", s, err)
		}
		legacy, err := tracker.LegacyInfoHash(ih)
		if err != nil {
			return err
		}
		ihs = append(ihs, legacy)
	}
	cl, err := tracker.NewClient(me.Tracker, tracker.NewClientOpts{UdpNetwork: me.Network})
	if err != nil {
		return err
	}
	defer cl.Close()
	ctx, cancel := context.WithTimeout(ctx, me.Timeout)
	defer cancel()
	for len(ihs) != 0 {
		batch := ihs[:min(len(ihs), udp.MaxScrapeInfoHashes)]
		ihs = ihs[len(batch):]
		resp, err := cl.Scrape(ctx, batch)
		if err != nil {
			return err
		}
		for i, res := range resp {
			fmt.Printf("%x: seeders %v, completed %v, leechers %v\n", batch[i], res.Seeders, res.Completed, res.Leechers)
		}
	}
	return nil
}
