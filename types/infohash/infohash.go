package infohash

import (
	"encoding"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/multiformats/go-multihash"
)

// Size of a v1 (SHA-1) info hash, which is also the only size the UDP tracker protocol can carry.
const Size = 20

// T identifies torrent content by a digest and the function that produced it. It's comparable, and
// safe to use as a map key. The zero value is not a valid hash.
type T struct {
	fn     HashFunction
	digest string
}

var _ fmt.Formatter = T{}

func (t T) Format(f fmt.State, c rune) {
	f.Write([]byte(t.HexString()))
}

// FromDigest copies digest, which must match the size of fn.
func FromDigest(fn HashFunction, digest []byte) (t T, err error) {
	if !fn.Valid() {
		err = UnknownCodeError{Code: fmt.Sprintf("%02x", fn.Code())}
		return
	}
	if len(digest) != fn.Size() {
		err = MalformedHashError{Actual: 2 * len(digest), Expected: fn.Size()}
		return
	}
	t = T{fn: fn, digest: string(digest)}
	return
}

// FromLegacySha1 parses a bare 40 character hex SHA-1 digest, as found in v1 magnet links.
func FromLegacySha1(s string) (t T, err error) {
	if len(s) != 2*Size {
		err = MalformedHashError{Actual: len(s), Expected: Size}
		return
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		err = MalformedHashError{Actual: len(s), Expected: Size, Err: err}
		return
	}
	return T{fn: SHA1, digest: string(b)}, nil
}

// FromLegacyBytes wraps a 20-byte SHA-1 digest.
func FromLegacyBytes(b [Size]byte) T {
	return T{fn: SHA1, digest: string(b[:])}
}

// ParseMultihash parses the hex form of a multihash: <2 hex code><2 hex length><digest hex>.
func ParseMultihash(s string) (t T, err error) {
	if len(s) < minMultihashHexLen {
		err = TooShortError{Len: len(s)}
		return
	}
	codeField, lenField, digestHex := s[:2], s[2:4], s[4:]
	expectedLen, err := strconv.ParseUint(lenField, 16, 8)
	if err != nil {
		err = MalformedLengthError{Field: lenField}
		return
	}
	if len(digestHex) != int(expectedLen)*2 {
		err = MalformedHashError{Actual: len(digestHex), Expected: int(expectedLen)}
		return
	}
	code, err := strconv.ParseUint(codeField, 16, 8)
	if err != nil {
		err = UnknownCodeError{Code: codeField}
		return
	}
	fn, err := HashFunctionFromCode(uint8(code))
	if err != nil {
		err = UnknownCodeError{Code: codeField}
		return
	}
	if int(expectedLen) != fn.Size() {
		err = MalformedHashError{Actual: len(digestHex), Expected: fn.Size()}
		return
	}
	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		err = MalformedHashError{Actual: len(digestHex), Expected: int(expectedLen), Err: err}
		return
	}
	return T{fn: fn, digest: string(digest)}, nil
}

// HashBytes computes the info hash of b, such as a bencoded info dictionary.
func HashBytes(fn HashFunction, b []byte) (t T, err error) {
	info, ok := hashFunctions[fn]
	if !ok {
		err = UnknownCodeError{Code: fmt.Sprintf("%02x", fn.Code())}
		return
	}
	return T{fn: fn, digest: string(info.sum(b))}, nil
}

func (t T) HashFunction() HashFunction {
	return t.fn
}

func (t T) IsZero() bool {
	return t.fn == 0
}

func (t T) Bytes() []byte {
	return []byte(t.digest)
}

func (t T) AsString() string {
	return t.digest
}

func (t T) String() string {
	return t.HexString()
}

// HexString is the lowercase hex of the digest alone.
func (t T) HexString() string {
	return hex.EncodeToString([]byte(t.digest))
}

func (t T) Multihash() multihash.Multihash {
	// Encode doesn't validate codes, and only fails on allocation.
	b, _ := multihash.Encode([]byte(t.digest), uint64(t.fn))
	return b
}

// MultihashHexString is the self-describing form used in urn:btmh: magnet components.
func (t T) MultihashHexString() string {
	return t.Multihash().HexString()
}

// Legacy returns the SHA-1 digest for use in protocols with fixed 20-byte hash fields.
func (t T) Legacy() (ret [Size]byte, ok bool) {
	if t.fn != SHA1 || len(t.digest) != Size {
		return
	}
	copy(ret[:], t.digest)
	ok = true
	return
}

var (
	_ encoding.TextUnmarshaler = (*T)(nil)
	_ encoding.TextMarshaler   = T{}
)

// MarshalText emits the legacy form for SHA-1, and the multihash form otherwise.
func (t T) MarshalText() (text []byte, err error) {
	if t.fn == SHA1 {
		return []byte(t.HexString()), nil
	}
	return []byte(t.MultihashHexString()), nil
}

// UnmarshalText accepts either form produced by MarshalText.
func (t *T) UnmarshalText(b []byte) (err error) {
	s := string(b)
	var parsed T
	if len(s) == 2*Size {
		parsed, err = FromLegacySha1(s)
	} else {
		parsed, err = ParseMultihash(s)
	}
	if err != nil {
		return
	}
	*t = parsed
	return
}
