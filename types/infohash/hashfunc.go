package infohash

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/sha3"
)

// HashFunction is a registered multihash function code. The codes are a single byte, which is also
// their varint encoding.
type HashFunction uint8

const (
	SHA1     HashFunction = 0x11
	SHA2_256 HashFunction = 0x12
	SHA2_512 HashFunction = 0x13
	// SHA3-512.
	SHA3    HashFunction = 0x14
	BLAKE2b HashFunction = 0x40
	BLAKE2s HashFunction = 0x41
)

type hashFunctionInfo struct {
	name string
	size int
	sum  func([]byte) []byte
}

var hashFunctions = map[HashFunction]hashFunctionInfo{
	SHA1:     {"sha1", sha1.Size, func(b []byte) []byte { s := sha1.Sum(b); return s[:] }},
	SHA2_256: {"sha2-256", sha256.Size, func(b []byte) []byte { s := sha256.Sum256(b); return s[:] }},
	SHA2_512: {"sha2-512", sha512.Size, func(b []byte) []byte { s := sha512.Sum512(b); return s[:] }},
	SHA3:     {"sha3-512", 64, func(b []byte) []byte { s := sha3.Sum512(b); return s[:] }},
	BLAKE2b:  {"blake2b-512", blake2b.Size, func(b []byte) []byte { s := blake2b.Sum512(b); return s[:] }},
	BLAKE2s:  {"blake2s-256", blake2s.Size, func(b []byte) []byte { s := blake2s.Sum256(b); return s[:] }},
}

// HashFunctionFromCode returns the registered function for code, or an UnknownCodeError.
func HashFunctionFromCode(code uint8) (HashFunction, error) {
	hf := HashFunction(code)
	if !hf.Valid() {
		return 0, UnknownCodeError{Code: fmt.Sprintf("%02x", code)}
	}
	return hf, nil
}

func (hf HashFunction) Valid() bool {
	_, ok := hashFunctions[hf]
	return ok
}

// Size is the digest length in bytes. Zero for unregistered functions.
func (hf HashFunction) Size() int {
	return hashFunctions[hf].size
}

func (hf HashFunction) Code() uint8 {
	return uint8(hf)
}

func (hf HashFunction) String() string {
	if info, ok := hashFunctions[hf]; ok {
		return info.name
	}
	return fmt.Sprintf("unknown(%#02x)", uint8(hf))
}
