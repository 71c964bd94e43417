package infohash

import "fmt"

// Minimum multihash hex length: 2 code chars, 2 length chars and at least one digest char.
const minMultihashHexLen = 5

type TooShortError struct {
	Len int
}

func (me TooShortError) Error() string {
	return fmt.Sprintf("multihash must be at least %d characters long, got %d", minMultihashHexLen, me.Len)
}

type UnknownCodeError struct {
	Code string
}

func (me UnknownCodeError) Error() string {
	return fmt.Sprintf("invalid hash function code: %s", me.Code)
}

type MalformedLengthError struct {
	Field string
}

func (me MalformedLengthError) Error() string {
	return fmt.Sprintf("malformed length: %q", me.Field)
}

// MalformedHashError is returned when the digest doesn't have the expected length or isn't hex.
// Actual is in hex characters, Expected in bytes.
type MalformedHashError struct {
	Actual   int
	Expected int
	Err      error
}

func (me MalformedHashError) Error() string {
	if me.Err != nil {
		return fmt.Sprintf("malformed hash: %v", me.Err)
	}
	return fmt.Sprintf("malformed hash: found length %d but expected %d", me.Actual, me.Expected)
}

func (me MalformedHashError) Unwrap() error {
	return me.Err
}
