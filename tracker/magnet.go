package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/anacrolix/btlink/metainfo"
	"github.com/anacrolix/btlink/types/infohash"
)

// ErrUnsupportedHashLength is returned for info hashes that don't fit the 20 byte field of the
// UDP tracker protocol. They are never truncated.
var ErrUnsupportedHashLength = errors.New("unsupported hash length for udp tracker protocol")

func LegacyInfoHash(ih infohash.T) (ret InfoHash, err error) {
	ret, ok := ih.Legacy()
	if !ok {
		err = fmt.Errorf("%w: %v digest of %v bytes", ErrUnsupportedHashLength, ih.HashFunction(), len(ih.Bytes()))
	}
	return
}

// AnnounceRequestForMagnet returns a started announce for the SHA-1 info hash of m. The amount
// left is unknown without the info.
func AnnounceRequestForMagnet(m metainfo.Magnet, peerId [20]byte, port uint16) (req AnnounceRequest, err error) {
	ih := m.LegacyInfoHash()
	if !ih.Ok {
		ih.Value = m.InfoHash(metainfo.PreferV1)
	}
	req.InfoHash, err = LegacyInfoHash(ih.Value)
	if err != nil {
		return
	}
	req.PeerId = peerId
	req.Port = port
	req.Event = Started
	req.Left = -1
	req.NumWant = -1
	return
}

// AnnounceMagnet announces to the trackers listed in m.
func AnnounceMagnet(ctx context.Context, m metainfo.Magnet, peerId [20]byte, port uint16, opts NewClientOpts) ([]AnnounceResult, error) {
	req, err := AnnounceRequestForMagnet(m, peerId, port)
	if err != nil {
		return nil, err
	}
	urls, err := m.TrackerURLs()
	if err != nil {
		return nil, fmt.Errorf("parsing trackers: %w", err)
	}
	urlStrs := make([]string, 0, len(urls))
	for _, u := range urls {
		urlStrs = append(urlStrs, u.String())
	}
	return AnnounceAll(ctx, urlStrs, req, opts), nil
}
