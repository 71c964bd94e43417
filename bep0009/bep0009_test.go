package bep0009

import (
	"bytes"
	"testing"

	qt "github.com/go-quicktest/qt"
)

func TestTags(t *testing.T) {
	qt.Check(t, qt.Equals(Tag(NewRequest(3)), 0))
	qt.Check(t, qt.Equals(Tag(NewData(0, 1, []byte{1})), 1))
	qt.Check(t, qt.Equals(Tag(NewReject(3)), 2))
}

func TestMarshalRequest(t *testing.T) {
	b, err := NewRequest(2).MarshalBinary()
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(string(b), "d8:msg_typei0e5:piecei2ee"))
}

func TestMarshalData(t *testing.T) {
	b, err := NewData(0, 3, []byte("abc")).MarshalBinary()
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(string(b), "d8:msg_typei1e5:piecei0e10:total_sizei3eeabc"))
}

func TestUnmarshal(t *testing.T) {
	for _, m := range []Message{
		NewRequest(0),
		NewRequest(7),
		NewReject(1),
		NewData(1, PieceSize+5, []byte("hello")),
		NewData(0, PieceSize, bytes.Repeat([]byte{'e'}, PieceSize)),
	} {
		b, err := m.MarshalBinary()
		qt.Assert(t, qt.IsNil(err))
		var got Message
		qt.Assert(t, qt.IsNil(got.UnmarshalBinary(b)))
		qt.Check(t, qt.DeepEquals(got, m))
	}
}

func TestUnmarshalErrors(t *testing.T) {
	var m Message
	qt.Check(t, qt.IsNotNil(m.UnmarshalBinary([]byte("d8:msg_typei3e5:piecei0ee"))))
	qt.Check(t, qt.IsNotNil(m.UnmarshalBinary([]byte("d8:msg_typei0e5:piecei0eejunk"))))
	qt.Check(t, qt.IsNotNil(m.UnmarshalBinary([]byte("garbage"))))
	qt.Check(t, qt.DeepEquals(m, Message{}))
}

func TestDataTooLong(t *testing.T) {
	_, err := NewData(0, PieceSize*2, make([]byte, PieceSize+1)).MarshalBinary()
	qt.Check(t, qt.ErrorIs(err, ErrPieceTooLong))
}

func TestPieceArithmetic(t *testing.T) {
	qt.Check(t, qt.Equals(NumPieces(0), 0))
	qt.Check(t, qt.Equals(NumPieces(1), 1))
	qt.Check(t, qt.Equals(NumPieces(PieceSize), 1))
	qt.Check(t, qt.Equals(NumPieces(PieceSize+1), 2))
	qt.Check(t, qt.Equals(ExpectedPieceLen(0, PieceSize+1), PieceSize))
	qt.Check(t, qt.Equals(ExpectedPieceLen(1, PieceSize+1), 1))
	qt.Check(t, qt.Equals(ExpectedPieceLen(2, PieceSize+1), 0))
}
