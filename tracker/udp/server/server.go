package udpTrackerServer

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/anacrolix/missinggo/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/anacrolix/btlink/tracker/udp"
	"github.com/anacrolix/btlink/types"
)

// Announce interval in seconds given to clients when the Server doesn't set one.
const DefaultInterval = 30 * 60

var (
	ErrUnknownConnectionId = errors.New("unknown connection id")
	errBadProtocolId       = errors.New("bad protocol id")
)

type Server struct {
	ConnTracker     ConnectionTracker
	SendResponse    func(ctx context.Context, data []byte, addr net.Addr) (int, error)
	AnnounceTracker AnnounceTracker
	Interval        g.Option[int32]
	Logger          g.Option[log.Logger]
}

type RequestSourceAddr = net.Addr

var tracer = otel.Tracer("btlink.tracker.udp")

var defaultLogger = log.Default.WithNames("tracker", "udp", "server")

func (me *Server) logger() log.Logger {
	return me.Logger.UnwrapOr(defaultLogger)
}

// HandleRequest answers a single request datagram. Requests that can't be served get an error
// response, and the error is also returned.
func (me *Server) HandleRequest(
	ctx context.Context,
	family udp.AddrFamily,
	source RequestSourceAddr,
	body []byte,
) (err error) {
	ctx, span := tracer.Start(ctx, "Server.HandleRequest",
		trace.WithAttributes(attribute.Int("payload.len", len(body))))
	defer span.End()
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	var h udp.RequestHeader
	var r bytes.Reader
	r.Reset(body)
	err = udp.Read(&r, &h)
	if err != nil {
		// Without a header there's no transaction to respond to.
		err = fmt.Errorf("reading request header: %w", err)
		return err
	}
	span.SetAttributes(attribute.String("request.action", h.Action.String()))
	var resp []byte
	switch h.Action {
	case udp.ActionConnect:
		resp, err = me.handleConnect(ctx, source, h)
	case udp.ActionAnnounce:
		resp, err = me.handleAnnounce(ctx, family, source, h, &r)
	case udp.ActionScrape:
		resp, err = me.handleScrape(ctx, source, h, &r)
	default:
		err = fmt.Errorf("unhandled action")
	}
	if err != nil {
		err = fmt.Errorf("handling action %v: %w", h.Action, err)
		resp = errorResponse(h.TransactionId, err)
	}
	sendErr := me.send(ctx, resp, source)
	if err == nil {
		err = sendErr
	}
	return err
}

func errorResponse(tid udp.TransactionId, err error) []byte {
	msg := err.Error()
	if errors.Is(err, ErrUnknownConnectionId) {
		// Clients recognise this and reconnect.
		msg = udp.ConnectionIdMissmatchNul
	}
	var buf bytes.Buffer
	udp.Write(&buf, udp.ResponseHeader{
		Action:        udp.ActionError,
		TransactionId: tid,
	})
	buf.WriteString(msg)
	return buf.Bytes()
}

func (me *Server) send(ctx context.Context, b []byte, addr net.Addr) error {
	n, err := me.SendResponse(ctx, b, addr)
	if err != nil {
		return err
	}
	if n < len(b) {
		err = io.ErrShortWrite
	}
	return err
}

func (me *Server) checkConnectionId(ctx context.Context, source RequestSourceAddr, connId udp.ConnectionId) error {
	ok, err := me.ConnTracker.Check(ctx, source.String(), connId)
	if err != nil {
		return fmt.Errorf("checking conn id: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %x", ErrUnknownConnectionId, connId)
	}
	return nil
}

func sourceAddrPort(source RequestSourceAddr) (netip.AddrPort, error) {
	var ap netip.AddrPort
	if ua, ok := source.(*net.UDPAddr); ok {
		ap = ua.AddrPort()
	} else {
		var err error
		ap, err = netip.ParseAddrPort(source.String())
		if err != nil {
			return ap, err
		}
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

func (me *Server) handleAnnounce(
	ctx context.Context,
	addrFamily udp.AddrFamily,
	source RequestSourceAddr,
	h udp.RequestHeader,
	r *bytes.Reader,
) ([]byte, error) {
	err := me.checkConnectionId(ctx, source, h.ConnectionId)
	if err != nil {
		return nil, err
	}
	var req udp.AnnounceRequest
	err = udp.Read(r, &req)
	if err != nil {
		return nil, err
	}
	optBytes, _ := io.ReadAll(r)
	requestUri := udp.DecodeOptions(optBytes).RequestUri
	if requestUri != "" {
		me.logger().Levelf(log.Debug, "announce from %v for %q", source, requestUri)
	}
	announceAddr, err := sourceAddrPort(source)
	if err != nil {
		err = fmt.Errorf("converting source net.Addr to AnnounceAddr: %w", err)
		return nil, err
	}
	if req.Port != 0 {
		announceAddr = netip.AddrPortFrom(announceAddr.Addr(), req.Port)
	}
	ctx, span := tracer.Start(
		ctx,
		"Server.handleAnnounce",
		trace.WithAttributes(
			attribute.Int64("announce.request.num_want", int64(req.NumWant)),
			attribute.Int("announce.request.port", int(req.Port)),
			attribute.String("announce.request.info_hash", hex.EncodeToString(req.InfoHash[:])),
			attribute.String("announce.request.event", req.Event.String()),
			attribute.String("announce.request.uri", requestUri),
			attribute.String("announce.request.peer_id", types.PeerID(req.PeerId).String()),
			attribute.String("announce.source.addr.ip", announceAddr.Addr().String()),
		),
	)
	defer span.End()
	err = me.AnnounceTracker.TrackAnnounce(ctx, req, announceAddr)
	if err != nil {
		return nil, fmt.Errorf("tracking announce: %w", err)
	}
	opts := GetPeersOpts{MaxCount: g.Some[uint](50), Family: addrFamily}
	if addrFamily == udp.AddrFamilyIpv4 {
		opts.MaxCount = g.Some[uint](150)
	}
	if req.NumWant >= 0 && uint(req.NumWant) < opts.MaxCount.Value {
		opts.MaxCount.Value = uint(req.NumWant)
	}
	res := me.AnnounceTracker.GetPeers(ctx, req.InfoHash, opts, announceAddr)
	if res.Err != nil {
		return nil, res.Err
	}
	span.SetAttributes(attribute.Int("announce.get_peers.len", len(res.Peers)))
	var buf bytes.Buffer
	udp.Write(&buf, udp.ResponseHeader{
		Action:        udp.ActionAnnounce,
		TransactionId: h.TransactionId,
	})
	udp.Write(&buf, udp.AnnounceResponseHeader{
		Interval: res.Interval.UnwrapOr(me.Interval.UnwrapOr(DefaultInterval)),
		Seeders:  res.Seeders.Value,
		Leechers: res.Leechers.Value,
	})
	return udp.AppendCompactPeers(buf.Bytes(), res.Peers, addrFamily), nil
}

func (me *Server) handleScrape(
	ctx context.Context,
	source RequestSourceAddr,
	h udp.RequestHeader,
	r *bytes.Reader,
) ([]byte, error) {
	err := me.checkConnectionId(ctx, source, h.ConnectionId)
	if err != nil {
		return nil, err
	}
	if r.Len()%20 != 0 {
		return nil, fmt.Errorf("scrape body length %v is not a multiple of 20", r.Len())
	}
	ihs := make([]InfoHash, r.Len()/20)
	if len(ihs) == 0 {
		return nil, errors.New("no info hashes")
	}
	if len(ihs) > udp.MaxScrapeInfoHashes {
		return nil, udp.ErrTooManyInfoHashes
	}
	err = udp.Read(r, ihs)
	if err != nil {
		return nil, err
	}
	results, err := me.AnnounceTracker.Scrape(ctx, ihs)
	if err != nil {
		return nil, fmt.Errorf("scraping: %w", err)
	}
	var buf bytes.Buffer
	udp.Write(&buf, udp.ResponseHeader{
		Action:        udp.ActionScrape,
		TransactionId: h.TransactionId,
	})
	udp.Write(&buf, results)
	return buf.Bytes(), nil
}

func (me *Server) handleConnect(ctx context.Context, source RequestSourceAddr, h udp.RequestHeader) ([]byte, error) {
	if h.ConnectionId != udp.ConnectRequestConnectionId {
		return nil, fmt.Errorf("%w: %x", errBadProtocolId, h.ConnectionId)
	}
	connId := randomConnectionId()
	err := me.ConnTracker.Add(ctx, source.String(), connId)
	if err != nil {
		err = fmt.Errorf("recording conn id: %w", err)
		return nil, err
	}
	var buf bytes.Buffer
	udp.Write(&buf, udp.ResponseHeader{
		Action:        udp.ActionConnect,
		TransactionId: h.TransactionId,
	})
	udp.Write(&buf, udp.ConnectionResponse{ConnectionId: connId})
	return buf.Bytes(), nil
}

func randomConnectionId() udp.ConnectionId {
	var b [8]byte
	_, err := rand.Read(b[:])
	if err != nil {
		panic(err)
	}
	return binary.BigEndian.Uint64(b[:])
}

// AddrFamilyOf returns the family of peers to send in announce responses to addr.
func AddrFamilyOf(addr net.Addr) udp.AddrFamily {
	if missinggo.AddrIP(addr).To4() != nil {
		return udp.AddrFamilyIpv4
	}
	return udp.AddrFamilyIpv6
}

// RunSimple serves requests read from pc until reading fails or ctx is done. If family is zero, it's
// determined for each request from the source address. Closing pc is left to the caller.
func RunSimple(ctx context.Context, s *Server, pc net.PacketConn, family udp.AddrFamily) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.SendResponse == nil {
		s.SendResponse = func(ctx context.Context, data []byte, addr net.Addr) (int, error) {
			return pc.WriteTo(data, addr)
		}
	}
	logger := s.logger()
	var b [1500]byte
	// Limit concurrent handled requests.
	sem := make(chan struct{}, 1000)
	for {
		n, addr, err := pc.ReadFrom(b[:])
		ctx, span := tracer.Start(ctx, "handle udp packet")
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.End()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		select {
		case <-ctx.Done():
			span.SetStatus(codes.Error, ctx.Err().Error())
			span.End()
			return ctx.Err()
		default:
			span.SetStatus(codes.Error, "concurrency limit reached")
			span.End()
			logger.Levelf(log.Debug, "dropping request from %v: concurrency limit reached", addr)
			continue
		case sem <- struct{}{}:
		}
		b := append([]byte(nil), b[:n]...)
		requestFamily := family
		if requestFamily == 0 {
			requestFamily = AddrFamilyOf(addr)
		}
		go func() {
			defer span.End()
			defer func() { <-sem }()
			err := s.HandleRequest(ctx, requestFamily, addr, b)
			if err != nil {
				logger.Levelf(log.Debug, "error handling %v byte request from %v: %v", n, addr, err)
			}
		}()
	}
}
