package main

import (
	"fmt"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"

	"github.com/anacrolix/btlink/bep0009"
	"github.com/anacrolix/btlink/metainfo"
	"github.com/anacrolix/btlink/types/infohash"
)

type magnetCmd struct {
	Uri string `arg:"positional,required"`
}

func (me *magnetCmd) Run() error {
	m, err := metainfo.ParseMagnetUri(me.Uri)
	if err != nil {
		return err
	}
	for _, ih := range m.InfoHashes {
		fmt.Printf("%v: %v\n", ih.HashFunction(), ih.MultihashHexString())
	}
	if name, ok := m.DisplayName.Value, m.DisplayName.Ok; ok {
		fmt.Printf("name: %q\n", name)
	}
	for _, tr := range m.Trackers {
		fmt.Printf("tracker: %v\n", tr)
	}
	for _, pe := range m.PeerAddrs {
		fmt.Printf("peer: %v\n", pe)
	}
	if len(m.Params) != 0 {
		spew.Dump(m.Params)
	}
	fmt.Println(m.String())
	return nil
}

type infohashCmd struct {
	Hashes []string `arg:"positional,required" help:"40 hex digits or a multihash in hex"`
}

func parseInfoHash(s string) (infohash.T, error) {
	s = strings.TrimPrefix(s, "urn:btih:")
	s = strings.TrimPrefix(s, "urn:btmh:")
	if len(s) == 2*infohash.Size {
		return infohash.FromLegacySha1(s)
	}
	return infohash.ParseMultihash(s)
}

func (me *infohashCmd) Run() error {
	for _, s := range me.Hashes {
		ih, err := parseInfoHash(s)
		if err != nil {
			return fmt.Errorf("parsing %q: %w", s, err)
		}
		fmt.Printf("function: %v\n", ih.HashFunction())
		fmt.Printf("digest: %v\n", ih.HexString())
		fmt.Printf("multihash: %v\n", ih.MultihashHexString())
		if legacy, ok := ih.Legacy(); ok {
			fmt.Printf("magnet: magnet:?xt=urn:btih:%x\n", legacy)
		} else {
			fmt.Printf("magnet: magnet:?xt=urn:btmh:%v\n", ih.MultihashHexString())
		}
	}
	return nil
}

type metadataCmd struct {
	TotalSize int `arg:"positional,required" help:"size of the info dict in bytes"`
}

func (me *metadataCmd) Run() error {
	n := bep0009.NumPieces(me.TotalSize)
	fmt.Printf("%v in %v pieces\n", humanize.IBytes(uint64(me.TotalSize)), n)
	for i := range n {
		b, err := bep0009.NewRequest(i).MarshalBinary()
		if err != nil {
			return err
		}
		fmt.Printf("piece %v: %v, request %q\n", i, humanize.IBytes(uint64(bep0009.ExpectedPieceLen(i, me.TotalSize))), b)
	}
	return nil
}
