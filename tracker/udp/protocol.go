package udp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// See BEP 15.
type Action int32

const (
	ActionConnect Action = iota
	ActionAnnounce
	ActionScrape
	ActionError
)

func (a Action) String() string {
	switch a {
	case ActionConnect:
		return "connect"
	case ActionAnnounce:
		return "announce"
	case ActionScrape:
		return "scrape"
	case ActionError:
		return "error"
	}
	return fmt.Sprintf("Action(%d)", int32(a))
}

// Minimum response body length for each action.
func (a Action) minResponseBodyLen() int {
	switch a {
	case ActionConnect:
		return 8
	case ActionAnnounce:
		return 12
	case ActionScrape:
		return 12
	}
	return 0
}

type (
	ConnectionId  = uint64
	TransactionId = int32
	// The UDP tracker protocol only carries 20-byte (v1) info hashes.
	InfoHash = [20]byte
)

// The magic connection id sent with connect requests.
const ConnectRequestConnectionId ConnectionId = 0x41727101980

const (
	connectRequestLen  = 16
	announceRequestLen = 98
)

type RequestHeader struct {
	ConnectionId  ConnectionId
	Action        Action
	TransactionId TransactionId
} // 16 bytes

type ResponseHeader struct {
	Action        Action
	TransactionId TransactionId
} // 8 bytes

type ConnectionResponse struct {
	ConnectionId ConnectionId
}

func Write(w io.Writer, data any) error {
	return binary.Write(w, binary.BigEndian, data)
}

func Read(r io.Reader, data any) error {
	return binary.Read(r, binary.BigEndian, data)
}

// Only for fixed size types, where failure is a programming error.
func mustMarshal(parts ...any) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		err := Write(&buf, p)
		if err != nil {
			panic(err)
		}
	}
	return buf.Bytes()
}

func MarshalConnectRequest(tid TransactionId) []byte {
	return mustMarshal(RequestHeader{
		ConnectionId:  ConnectRequestConnectionId,
		Action:        ActionConnect,
		TransactionId: tid,
	})
}

// Returns the full announce datagram: 98 bytes, followed by any encoded options.
func MarshalAnnounceRequest(connId ConnectionId, tid TransactionId, req AnnounceRequest, opts Options) []byte {
	b := mustMarshal(RequestHeader{
		ConnectionId:  connId,
		Action:        ActionAnnounce,
		TransactionId: tid,
	}, req)
	return append(b, opts.Encode()...)
}

func MarshalScrapeRequest(connId ConnectionId, tid TransactionId, ihs []InfoHash) ([]byte, error) {
	err := checkScrapeInfoHashes(ihs)
	if err != nil {
		return nil, err
	}
	return mustMarshal(RequestHeader{
		ConnectionId:  connId,
		Action:        ActionScrape,
		TransactionId: tid,
	}, ScrapeRequest(ihs)), nil
}
