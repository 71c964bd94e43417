package metainfo

import (
	"encoding/base32"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"

	g "github.com/anacrolix/generics"

	"github.com/anacrolix/btlink/types/infohash"
)

const (
	magnetPrefix = "magnet:?"
	btihPrefix   = "urn:btih:"
	btmhPrefix   = "urn:btmh:"
)

var (
	ErrWrongPrefix = errors.New("not a magnet link")
	// No xt parameter carried an info hash in a recognised scheme.
	ErrMissingInfoHash = errors.New("missing info hash")
)

// Magnet link components.
type Magnet struct {
	// Every recognised xt value in link order. Hybrid torrents carry a v1 and a v2 hash for the same
	// content.
	InfoHashes  []infohash.T
	DisplayName g.Option[string] // "dn", unescaped
	Trackers    []string         // "tr" values, as they appear in the link
	PeerAddrs   []string         // "x.pe" values, as they appear in the link
	Params      url.Values       // All other values, such as unrecognised "xt", "as", "xs" etc.
}

// HashPreference chooses between the info hashes of a hybrid magnet link.
type HashPreference int

const (
	PreferV2 HashPreference = iota
	PreferV1
)

// ParseMagnetUri parses magnet:? URIs. Parameters without '=' are ignored. Only dn is unescaped,
// other values are kept as written. xt values that fail to parse are kept in Params, and only fail
// the link if no xt gives an info hash.
func ParseMagnetUri(uri string) (m Magnet, err error) {
	rest, ok := strings.CutPrefix(uri, magnetPrefix)
	if !ok {
		err = ErrWrongPrefix
		return
	}
	// The first xt parse error, reported only if no xt gives an info hash.
	var xtErr error
	for _, pair := range strings.Split(rest, "&") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		switch key {
		case "xt":
			ih, parseErr := parseExactTopic(value)
			if parseErr != nil {
				if xtErr == nil {
					xtErr = fmt.Errorf("parsing xt %q: %w", value, parseErr)
				}
				lazyAddParam(&m.Params, key, value)
				continue
			}
			if !ih.Ok {
				lazyAddParam(&m.Params, key, value)
			} else if !slices.Contains(m.InfoHashes, ih.Value) {
				m.InfoHashes = append(m.InfoHashes, ih.Value)
			}
		case "dn":
			if m.DisplayName.Ok {
				lazyAddParam(&m.Params, key, value)
				continue
			}
			dn, unescapeErr := url.QueryUnescape(value)
			if unescapeErr != nil {
				// Malformed escapes are kept as written.
				dn = value
			}
			m.DisplayName = g.Some(dn)
		case "tr":
			m.Trackers = append(m.Trackers, value)
		case "x.pe":
			m.PeerAddrs = append(m.PeerAddrs, value)
		default:
			lazyAddParam(&m.Params, key, value)
		}
	}
	if len(m.InfoHashes) == 0 {
		if xtErr != nil {
			err = xtErr
		} else {
			err = ErrMissingInfoHash
		}
	}
	return
}

// Returns None for xt values in schemes we don't handle.
func parseExactTopic(xt string) (_ g.Option[infohash.T], err error) {
	var ih infohash.T
	if encoded, ok := strings.CutPrefix(xt, btihPrefix); ok {
		switch len(encoded) {
		case 2 * infohash.Size:
			ih, err = infohash.FromLegacySha1(encoded)
		case 32:
			ih, err = parseBase32Infohash(encoded)
		default:
			return
		}
	} else if encoded, ok := strings.CutPrefix(xt, btmhPrefix); ok {
		ih, err = infohash.ParseMultihash(encoded)
	} else {
		return
	}
	if err != nil {
		return
	}
	return g.Some(ih), nil
}

func parseBase32Infohash(encoded string) (ih infohash.T, err error) {
	var b [infohash.Size]byte
	n, err := base32.StdEncoding.Decode(b[:], []byte(encoded))
	if err != nil {
		err = fmt.Errorf("decoding base32: %w", err)
		return
	}
	if n != infohash.Size {
		err = infohash.MalformedHashError{Actual: len(encoded), Expected: infohash.Size}
		return
	}
	return infohash.FromLegacyBytes(b), nil
}

// InfoHash picks one of the link's info hashes according to pref, falling back to whatever is
// present.
func (m Magnet) InfoHash(pref HashPreference) (ret infohash.T) {
	for _, ih := range m.InfoHashes {
		isV1 := ih.HashFunction() == infohash.SHA1
		if isV1 == (pref == PreferV1) {
			return ih
		}
		if ret.IsZero() {
			ret = ih
		}
	}
	return
}

// LegacyInfoHash returns the v1 hash, which is what UDP trackers and the v1 peer protocol use.
func (m Magnet) LegacyInfoHash() g.Option[infohash.T] {
	for _, ih := range m.InfoHashes {
		if ih.HashFunction() == infohash.SHA1 {
			return g.Some(ih)
		}
	}
	return g.None[infohash.T]()
}

// TrackerUrl is the first "tr" value.
func (m Magnet) TrackerUrl() g.Option[string] {
	return firstValue(m.Trackers)
}

// PeerAddr is the first "x.pe" value.
func (m Magnet) PeerAddr() g.Option[string] {
	return firstValue(m.PeerAddrs)
}

// TrackerURLs unescapes and parses the trackers for dialling.
func (m Magnet) TrackerURLs() (ret []*url.URL, err error) {
	for _, tr := range m.Trackers {
		var s string
		s, err = url.QueryUnescape(tr)
		if err != nil {
			err = fmt.Errorf("unescaping tracker %q: %w", tr, err)
			return
		}
		var u *url.URL
		u, err = url.Parse(s)
		if err != nil {
			err = fmt.Errorf("parsing tracker %q: %w", s, err)
			return
		}
		ret = append(ret, u)
	}
	return
}

func (m Magnet) String() string {
	var parts []string
	// Transmission and Deluge both expect "urn:btih:" to be unescaped, and Deluge wants it at the
	// start of the link.
	for _, ih := range m.InfoHashes {
		if ih.HashFunction() == infohash.SHA1 {
			parts = append(parts, "xt="+btihPrefix+ih.HexString())
		} else {
			parts = append(parts, "xt="+btmhPrefix+ih.MultihashHexString())
		}
	}
	if m.DisplayName.Ok {
		parts = append(parts, "dn="+url.QueryEscape(m.DisplayName.Value))
	}
	for _, tr := range m.Trackers {
		parts = append(parts, "tr="+tr)
	}
	for _, pe := range m.PeerAddrs {
		parts = append(parts, "x.pe="+pe)
	}
	for _, k := range slices.Sorted(maps.Keys(m.Params)) {
		for _, v := range m.Params[k] {
			parts = append(parts, k+"="+v)
		}
	}
	return magnetPrefix + strings.Join(parts, "&")
}

func firstValue(vs []string) g.Option[string] {
	if len(vs) == 0 {
		return g.None[string]()
	}
	return g.Some(vs[0])
}

func lazyAddParam(vs *url.Values, k, v string) {
	if *vs == nil {
		g.MakeMap(vs)
	}
	vs.Add(k, v)
}
