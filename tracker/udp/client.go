package udp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"golang.org/x/time/rate"
)

// How long a tracker honours a connection id after issuing it. See BEP 15.
const ConnectionIdLifetime = 2 * time.Minute

// ErrTimeout is returned when a request goes unanswered through the whole retransmission schedule.
var ErrTimeout = errors.New("tracker did not respond")

// Client interacts with UDP trackers via its Writer and Dispatcher. It has no knowledge of
// connection specifics.
type Client struct {
	mu           sync.Mutex
	connId       ConnectionId
	connIdIssued time.Time

	shouldReconnectOverride func() bool

	Dispatcher *Dispatcher
	Writer     io.Writer
	// Overrides the retransmission schedule, which is given the number of preceding transmissions.
	Timeout func(n int) time.Duration
	// Limits datagrams sent to the tracker, if set.
	Limiter *rate.Limiter
	Logger  g.Option[log.Logger]
}

var defaultLogger = log.Default.WithNames("tracker", "udp")

func (cl *Client) logger() log.Logger {
	return cl.Logger.UnwrapOr(defaultLogger)
}

// Connect obtains a connection id if there isn't a current one.
func (cl *Client) Connect(ctx context.Context) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.connect(ctx)
}

// Connected reports whether there's an unexpired connection id.
func (cl *Client) Connected() bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return !cl.shouldReconnect()
}

func (cl *Client) Announce(
	ctx context.Context, req AnnounceRequest, opts Options,
	// Decides whether the response body is IPv6 or IPv4, see BEP 15.
	ipv6 func(net.Addr) bool,
) (
	resp AnnounceResponse, err error,
) {
	respBody, addr, err := cl.request(
		ctx,
		ActionAnnounce,
		func(connId ConnectionId, tid TransactionId) ([]byte, error) {
			return MarshalAnnounceRequest(connId, tid, req, opts), nil
		},
		func(body []byte, addr net.Addr) error {
			return checkAnnounceResponseBody(body, ipv6(addr))
		},
	)
	if err != nil {
		return
	}
	r := bytes.NewBuffer(respBody)
	var header AnnounceResponseHeader
	err = Read(r, &header)
	if err != nil {
		err = fmt.Errorf("reading response header: %w", err)
		return
	}
	peers, err := decodeAnnounceResponsePeers(r.Bytes(), ipv6(addr))
	if err != nil {
		err = fmt.Errorf("reading response peers: %w", err)
		return
	}
	resp.AnnounceResponseHeader = header
	resp.Peers = peers
	return
}

// There's no way to pass options in a scrape, since we don't know when the request body ends.
func (cl *Client) Scrape(
	ctx context.Context, ihs []InfoHash,
) (
	out ScrapeResponse, err error,
) {
	err = checkScrapeInfoHashes(ihs)
	if err != nil {
		return
	}
	respBody, _, err := cl.request(
		ctx,
		ActionScrape,
		func(connId ConnectionId, tid TransactionId) ([]byte, error) {
			return MarshalScrapeRequest(connId, tid, ihs)
		},
		func(body []byte, _ net.Addr) error {
			return checkScrapeResponseBody(body, len(ihs))
		},
	)
	if err != nil {
		return
	}
	r := bytes.NewBuffer(respBody)
	results := make(ScrapeResponse, 0, len(respBody)/scrapeInfohashResultLen)
	for r.Len() != 0 {
		var item ScrapeInfohashResult
		err = Read(r, &item)
		if err != nil {
			return
		}
		results = append(results, item)
	}
	out = results
	return
}

func (cl *Client) shouldReconnectDefault() bool {
	return cl.connIdIssued.IsZero() || time.Since(cl.connIdIssued) >= ConnectionIdLifetime
}

func (cl *Client) shouldReconnect() bool {
	if cl.shouldReconnectOverride != nil {
		return cl.shouldReconnectOverride()
	}
	return cl.shouldReconnectDefault()
}

// Must hold cl.mu.
func (cl *Client) connect(ctx context.Context) (err error) {
	if !cl.shouldReconnect() {
		return nil
	}
	return cl.doConnectRoundTrip(ctx)
}

// This just does the connect request and updates local state if it succeeds.
func (cl *Client) doConnectRoundTrip(ctx context.Context) (err error) {
	respBody, _, err := cl.request(ctx, ActionConnect, func(_ ConnectionId, tid TransactionId) ([]byte, error) {
		return MarshalConnectRequest(tid), nil
	}, nil)
	if err != nil {
		return err
	}
	var connResp ConnectionResponse
	err = Read(bytes.NewReader(respBody), &connResp)
	if err != nil {
		return
	}
	cl.connId = connResp.ConnectionId
	// The lifetime runs from receipt.
	cl.connIdIssued = time.Now()
	return
}

func (cl *Client) invalidateConnectionId() {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.connIdIssued = time.Time{}
}

type marshalRequestFunc func(ConnectionId, TransactionId) ([]byte, error)

// Rejects response bodies for the request's action that can't be decoded. Rejected responses are
// discarded and the request keeps waiting.
type checkResponseBodyFunc func(body []byte, addr net.Addr) error

func (cl *Client) writeRequest(
	ctx context.Context, action Action, marshal marshalRequestFunc, tId TransactionId,
) (
	err error,
) {
	var connId ConnectionId
	if action != ActionConnect {
		// We lock here while establishing a connection ID, and then ensuring that the request is
		// written before allowing the connection ID to change again. This is to ensure the server
		// doesn't assign us another ID before we've sent this request.
		cl.mu.Lock()
		defer cl.mu.Unlock()
		err = cl.connect(ctx)
		if err != nil {
			return fmt.Errorf("connecting: %w", err)
		}
		connId = cl.connId
	}
	b, err := marshal(connId, tId)
	if err != nil {
		return
	}
	if cl.Limiter != nil {
		err = cl.Limiter.Wait(ctx)
		if err != nil {
			return
		}
	}
	_, err = cl.Writer.Write(b)
	return
}

func (cl *Client) timeout(n int) time.Duration {
	if cl.Timeout != nil {
		return cl.Timeout(n)
	}
	return timeout(n)
}

// Transmits the request and retransmits it with the same transaction id each time the wait for a
// response expires.
func (cl *Client) requestWriter(ctx context.Context, action Action, marshal marshalRequestFunc, tId TransactionId) (err error) {
	for n := 0; ; n++ {
		err = cl.writeRequest(ctx, action, marshal, tId)
		if err != nil {
			return
		}
		timer := time.NewTimer(cl.timeout(n))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if n >= maxRetransmissions {
			return fmt.Errorf("%w after %v transmissions", ErrTimeout, n+1)
		}
	}
}

const ConnectionIdMissmatchNul = "Connection ID missmatch.\x00"

type ErrorResponse struct {
	Message string
}

func (me ErrorResponse) Error() string {
	return fmt.Sprintf("error response: %#q", me.Message)
}

func isConnectionIdRejection(msg string) bool {
	return msg == ConnectionIdMissmatchNul || strings.Contains(strings.ToLower(msg), "connection id")
}

func (cl *Client) request(
	ctx context.Context, action Action, marshal marshalRequestFunc, checkBody checkResponseBodyFunc,
) (
	respBody []byte, addr net.Addr, err error,
) {
	respChan := make(chan DispatchedResponse, 4)
	t := cl.Dispatcher.NewTransaction(func(dr DispatchedResponse) {
		select {
		case respChan <- dr:
		default:
		}
	})
	defer t.End()
	invalidateConnId := false
	defer func() {
		// After the writer has been cancelled, as it may hold cl.mu.
		if invalidateConnId {
			cl.invalidateConnectionId()
		}
	}()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- cl.requestWriter(ctx, action, marshal, t.Id())
	}()
	for {
		select {
		case dr := <-respChan:
			switch dr.Header.Action {
			case action:
				if len(dr.Body) < action.minResponseBodyLen() {
					cl.logger().Levelf(log.Debug, "discarding short %v response (%v bytes)", action, len(dr.Body))
					continue
				}
				if checkBody != nil {
					if checkErr := checkBody(dr.Body, dr.Addr); checkErr != nil {
						cl.logger().Levelf(log.Debug, "discarding %v response: %v", action, checkErr)
						continue
					}
				}
				respBody = dr.Body
				addr = dr.Addr
			case ActionError:
				// udp://tracker.torrent.eu.org:451/announce frequently returns "Connection ID
				// missmatch.\x00"
				err = ErrorResponse{Message: string(dr.Body)}
				invalidateConnId = action != ActionConnect && isConnectionIdRejection(string(dr.Body))
			default:
				cl.logger().Levelf(log.Debug, "discarding %v response to %v request", dr.Header.Action, action)
				continue
			}
		case err = <-writeErr:
			if ctx.Err() == nil && !errors.Is(err, ErrTimeout) {
				err = fmt.Errorf("write error: %w", err)
			}
		}
		return
	}
}
