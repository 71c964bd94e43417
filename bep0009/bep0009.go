// Package bep0009 models the ut_metadata extension messages used to fetch torrent info from peers
// when only the info hash is known. See https://www.bittorrent.org/beps/bep_0009.html.
package bep0009

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/jackpal/bencode-go"
)

// Metadata is transferred in pieces of this size, except for the last.
const PieceSize = 1 << 14

// MessageType is the msg_type value, and also the tag byte for each message kind.
type MessageType int

const (
	Request MessageType = iota
	Data
	Reject
)

func (me MessageType) String() string {
	switch me {
	case Request:
		return "request"
	case Data:
		return "data"
	case Reject:
		return "reject"
	}
	return fmt.Sprintf("MessageType(%d)", int(me))
}

func (me MessageType) Valid() bool {
	return me >= Request && me <= Reject
}

type Message struct {
	Type  MessageType
	Piece int
	// Only sent with Data.
	TotalSize int
	// The piece bytes, for Data.
	Data []byte
}

func NewRequest(piece int) Message {
	return Message{Type: Request, Piece: piece}
}

func NewData(piece, totalSize int, data []byte) Message {
	return Message{Type: Data, Piece: piece, TotalSize: totalSize, Data: data}
}

func NewReject(piece int) Message {
	return Message{Type: Reject, Piece: piece}
}

// Tag is the wire tag for the message kind.
func Tag(m Message) byte {
	return m.Tag()
}

func (m Message) Tag() byte {
	return byte(m.Type)
}

// Field order is the sorted key order bencoding requires.
type requestHeader struct {
	MsgType int `bencode:"msg_type"`
	Piece   int `bencode:"piece"`
}

type dataHeader struct {
	MsgType   int `bencode:"msg_type"`
	Piece     int `bencode:"piece"`
	TotalSize int `bencode:"total_size"`
}

var ErrPieceTooLong = fmt.Errorf("metadata piece longer than %d bytes", PieceSize)

// MarshalBinary produces the extended message payload: the bencoded dict, followed by the piece
// for Data messages.
func (m Message) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch m.Type {
	case Request, Reject:
		err = bencode.Marshal(&buf, requestHeader{MsgType: int(m.Type), Piece: m.Piece})
	case Data:
		if len(m.Data) > PieceSize {
			return nil, ErrPieceTooLong
		}
		err = bencode.Marshal(&buf, dataHeader{MsgType: int(m.Type), Piece: m.Piece, TotalSize: m.TotalSize})
		buf.Write(m.Data)
	default:
		err = fmt.Errorf("unknown message type %v", m.Type)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *Message) UnmarshalBinary(b []byte) error {
	r := bufio.NewReader(bytes.NewReader(b))
	var h dataHeader
	err := bencode.Unmarshal(r, &h)
	if err != nil {
		return fmt.Errorf("decoding header: %w", err)
	}
	mt := MessageType(h.MsgType)
	if !mt.Valid() {
		return fmt.Errorf("unknown message type %v", mt)
	}
	if h.Piece < 0 {
		return errors.New("negative piece index")
	}
	rest, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	ret := Message{Type: mt, Piece: h.Piece}
	if mt == Data {
		if len(rest) > PieceSize {
			return ErrPieceTooLong
		}
		ret.TotalSize = h.TotalSize
		ret.Data = rest
	} else if len(rest) != 0 {
		return fmt.Errorf("%v bytes trailing %v message", len(rest), mt)
	}
	*m = ret
	return nil
}

// NumPieces is the number of metadata pieces for metadata of the given size.
func NumPieces(totalSize int) int {
	return (totalSize + PieceSize - 1) / PieceSize
}

// ExpectedPieceLen is the length a Data message for piece should carry.
func ExpectedPieceLen(piece, totalSize int) int {
	if piece < 0 || piece >= NumPieces(totalSize) {
		return 0
	}
	if piece == NumPieces(totalSize)-1 {
		return totalSize - piece*PieceSize
	}
	return PieceSize
}
