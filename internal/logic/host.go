// Package logic runs the peer discovery protocol on top of a p2p endpoint.
package logic

import (
	"context"
	"errors"
	"log/slog"

	"github.com/WendelHime/peerfs/internal/p2p"
	"github.com/WendelHime/peerfs/internal/shared/models"
)

// Host is one peer of the network: an endpoint plus the directory of known peers.
// Tick and Run must not be called concurrently, the other methods are safe from any goroutine.
type Host struct {
	endpoint *p2p.Endpoint
	events   p2p.Events
	peers    *Directory
	log      *slog.Logger
}

// NewHost listens on addr, ":0" picks a free port.
func NewHost(addr string, logger *slog.Logger, opts ...p2p.EndpointOptionFunc) (*Host, error) {
	opts = append([]p2p.EndpointOptionFunc{p2p.WithLogger(logger)}, opts...)
	endpoint, err := p2p.NewEndpoint(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Host{
		endpoint: endpoint,
		peers:    NewDirectory(),
		log:      logger.With(slog.Int("port", int(endpoint.Port()))),
	}, nil
}

// Port returns the listening port announced to other peers.
func (h *Host) Port() uint16 {
	return h.endpoint.Port()
}

// AddPeer adds a peer to link with on the next tick.
func (h *Host) AddPeer(addr models.Addr) {
	if h.peers.Add(addr, models.PeerStatusUndefined, models.NoToken) {
		h.log.Info("peer added", slog.String("peer", addr.String()))
	}
}

// Peers returns a snapshot of the known peers.
func (h *Host) Peers() []models.Peer {
	return h.peers.Peers()
}

func (h *Host) Directory() *Directory {
	return h.peers
}

// Run ticks until ctx is done or the host is closed.
func (h *Host) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := h.Tick(ctx); err != nil {
			if errors.Is(err, p2p.ErrEndpointClosed) {
				return nil
			}
			return err
		}
	}
}

// Tick links the undefined peers, polls the endpoint once and handles every event.
func (h *Host) Tick(ctx context.Context) error {
	for _, addr := range h.peers.Undefined() {
		h.linkTo(ctx, addr)
	}

	if err := h.endpoint.Poll(&h.events); err != nil {
		return err
	}

	for _, event := range h.events {
		switch ev := event.(type) {
		case p2p.NewLink:
			h.log.Debug("new link", slog.String("link", ev.Link.String()))
		case p2p.RejectedLink:
			if err := ev.Link.Send(p2p.Rejected{}); err != nil {
				h.log.Warn("failed to reject link", slog.String("link", ev.Link.String()), slog.Any("error", err))
			}
			ev.Link.Close()
		case p2p.BrokenLink:
			h.log.Debug("link broken", slog.String("link", ev.Link.String()), slog.Any("error", ev.Err))
			h.unlink(ev.Link)
		case p2p.ReceivedPacket:
			h.handlePacket(ev)
		}
	}
	return nil
}

func (h *Host) linkTo(ctx context.Context, addr models.Addr) {
	h.log.Debug("linking undefined peer", slog.String("peer", addr.String()))
	link, err := h.endpoint.AddLinkTo(ctx, addr)
	if err != nil {
		h.log.Warn("failed to link peer", slog.String("peer", addr.String()), slog.Any("error", err))
		return
	}
	if err := link.Send(p2p.PeerIdentify{Port: h.Port()}); err != nil {
		h.log.Warn("failed to identify", slog.String("link", link.String()), slog.Any("error", err))
		h.endpoint.RemoveLink(link)
		return
	}
	h.peers.Add(addr, models.PeerStatusLinked, link.Token())
}

func (h *Host) handlePacket(ev p2p.ReceivedPacket) {
	h.peers.Touch(ev.Link.Token())

	switch packet := ev.Packet.(type) {
	case p2p.Rejected:
		h.log.Info("link rejected by peer", slog.String("link", ev.Link.String()))
		h.unlink(ev.Link)
	case p2p.PeerIdentify:
		h.identify(ev.Link, models.NewAddr(ev.Addr.IP, packet.Port))
	case p2p.PeerDiscover:
		if h.peers.Add(packet.Addr, models.PeerStatusUnlinked, models.NoToken) {
			h.log.Debug("peer discovered", slog.String("peer", packet.Addr.String()), slog.String("from", ev.Link.String()))
		}
	default:
		h.log.Debug("ignored packet", slog.String("id", packet.ID().String()))
	}
}

// identify answers a peer announcing its listening address: it learns every other known
// peer, every other linked peer learns it, then it is linked through link.
func (h *Host) identify(link *p2p.Link, identified models.Addr) {
	h.log.Debug("peer identified", slog.String("peer", identified.String()), slog.String("link", link.String()))

	for _, peer := range h.peers.Peers() {
		if peer.Addr == identified {
			continue
		}
		if err := link.Send(p2p.PeerDiscover{Addr: peer.Addr}); err != nil {
			h.log.Warn("failed to send discover", slog.String("link", link.String()), slog.Any("error", err))
			break
		}
	}

	announce := p2p.PeerDiscover{Addr: identified}
	for _, peer := range h.peers.Linked() {
		if peer.Addr == identified || peer.Token == link.Token() {
			continue
		}
		other := h.endpoint.Link(peer.Token)
		if other == nil {
			continue
		}
		if err := other.Send(announce); err != nil {
			h.log.Warn("failed to forward discover", slog.String("link", other.String()), slog.Any("error", err))
		}
	}

	h.peers.Add(identified, models.PeerStatusLinked, link.Token())
}

func (h *Host) unlink(link *p2p.Link) {
	h.endpoint.RemoveLink(link)
	if addr, ok := h.peers.Detach(link.Token()); ok {
		h.log.Info("peer unlinked", slog.String("peer", addr.String()))
	}
}

// Close closes every link and the listening socket.
func (h *Host) Close() error {
	return h.endpoint.Close()
}
