package types

import (
	"testing"

	qt "github.com/go-quicktest/qt"
)

func TestPeerIDString(t *testing.T) {
	var id PeerID
	copy(id[:], "-BL0001-\x00\x01\x02\x03\x04\x05\x06\x07\x08\x09\x0a\x0b")
	qt.Check(t, qt.Equals(id.String(), "-BL0001-000102030405060708090a0b"))
	id[0] = 'x'
	qt.Check(t, qt.Equals(id.String(), "78424c303030312d000102030405060708090a0b"))
}

func TestRandomPeerID(t *testing.T) {
	a, b := RandomPeerID("-BL0001-"), RandomPeerID("-BL0001-")
	qt.Check(t, qt.Equals(string(a[:8]), "-BL0001-"))
	qt.Check(t, qt.Not(qt.Equals(a, b)))
}
