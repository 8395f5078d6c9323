package logic

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/WendelHime/peerfs/internal/logging"
	"github.com/WendelHime/peerfs/internal/p2p"
	"github.com/WendelHime/peerfs/internal/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const testTimeout = 5 * time.Second

var netipLoopback = netip.MustParseAddr("127.0.0.1")

func newTestHost(t *testing.T, opts ...p2p.EndpointOptionFunc) *Host {
	t.Helper()
	opts = append([]p2p.EndpointOptionFunc{p2p.WithPollTimeout(5 * time.Millisecond)}, opts...)
	h, err := NewHost("127.0.0.1:0", logging.Discard(), opts...)
	require.NoError(t, err)
	return h
}

func hostAddr(h *Host) models.Addr {
	return models.NewAddr(netipLoopback, h.Port())
}

// tickUntil ticks every host in turn until done holds.
func tickUntil(t *testing.T, done func() bool, hosts ...*Host) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		for _, h := range hosts {
			require.NoError(t, h.Tick(context.Background()))
		}
		if done() {
			return
		}
	}
	t.Fatal("condition not met before timeout")
}

func status(h *Host, a models.Addr) (models.PeerStatus, bool) {
	p, ok := h.Directory().Get(a)
	return p.Status, ok
}

func TestThreePeerDiscovery(t *testing.T) {
	defer goleak.VerifyNone(t)
	a := newTestHost(t)
	defer a.Close()
	b := newTestHost(t)
	defer b.Close()
	c := newTestHost(t)
	defer c.Close()

	// Only B knows A and only C knows B.
	b.AddPeer(hostAddr(a))
	c.AddPeer(hostAddr(b))

	tickUntil(t, func() bool {
		_, knowsC := status(a, hostAddr(c))
		_, cKnowsA := status(c, hostAddr(a))
		return knowsC && cKnowsA
	}, a, b, c)

	peers := a.Peers()
	require.Len(t, peers, 2)
	for _, p := range peers {
		assert.NotEqual(t, models.PeerStatusUndefined, p.Status, "peer %s", p.Addr)
	}
	s, _ := status(a, hostAddr(b))
	assert.Equal(t, models.PeerStatusLinked, s)
	s, _ = status(a, hostAddr(c))
	assert.Equal(t, models.PeerStatusUnlinked, s)

	s, _ = status(b, hostAddr(a))
	assert.Equal(t, models.PeerStatusLinked, s)
	s, _ = status(b, hostAddr(c))
	assert.Equal(t, models.PeerStatusLinked, s)

	s, _ = status(c, hostAddr(b))
	assert.Equal(t, models.PeerStatusLinked, s)
	s, _ = status(c, hostAddr(a))
	assert.Equal(t, models.PeerStatusUnlinked, s)

	for _, h := range []*Host{a, b, c} {
		assert.Zero(t, h.Directory().UndefinedCount())
	}
}

func TestIdentifyRepliesWithOtherPeers(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHost(t)
	defer h.Close()

	known := []models.Addr{
		models.NewAddr(netipLoopback, 9001),
		models.NewAddr(netipLoopback, 9002),
	}
	for _, a := range known {
		h.Directory().Add(a, models.PeerStatusUnlinked, models.NoToken)
	}
	self := models.NewAddr(netipLoopback, 9999)
	h.Directory().Add(self, models.PeerStatusUnlinked, models.NoToken)

	conn, err := net.DialTimeout("tcp", hostAddr(h).String(), testTimeout)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, p2p.WritePacket(conn, p2p.PeerIdentify{Port: 9999}))

	tickUntil(t, func() bool {
		s, _ := status(h, self)
		return s == models.PeerStatusLinked
	}, h)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testTimeout)))
	var received []models.Addr
	for range known {
		p, err := p2p.ReadPacket(conn)
		require.NoError(t, err)
		discover, ok := p.(p2p.PeerDiscover)
		require.True(t, ok, "unexpected packet %v", p)
		received = append(received, discover.Addr)
	}
	assert.Equal(t, known, received)

	// Nothing else was sent, in particular not the identified peer itself.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, err = p2p.ReadPacket(conn)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestRejectedPeerIsUnlinked(t *testing.T) {
	defer goleak.VerifyNone(t)
	full := newTestHost(t, p2p.WithCapacity(1))
	defer full.Close()
	first := newTestHost(t)
	defer first.Close()
	second := newTestHost(t)
	defer second.Close()

	first.AddPeer(hostAddr(full))
	tickUntil(t, func() bool {
		_, ok := status(full, hostAddr(first))
		return ok
	}, full, first)

	second.AddPeer(hostAddr(full))
	tickUntil(t, func() bool {
		s, _ := status(second, hostAddr(full))
		return s == models.PeerStatusUnlinked
	}, full, first, second)

	s, _ := status(first, hostAddr(full))
	assert.Equal(t, models.PeerStatusLinked, s)
	assert.Empty(t, second.Directory().Linked())
	_, ok := status(full, hostAddr(second))
	assert.False(t, ok)
}

func TestBrokenLinkDetachesPeer(t *testing.T) {
	defer goleak.VerifyNone(t)
	a := newTestHost(t)
	defer a.Close()
	b := newTestHost(t)
	defer b.Close()

	a.AddPeer(hostAddr(b))
	tickUntil(t, func() bool {
		s, _ := status(b, hostAddr(a))
		return s == models.PeerStatusLinked
	}, a, b)

	require.NoError(t, b.Close())
	tickUntil(t, func() bool {
		s, _ := status(a, hostAddr(b))
		return s == models.PeerStatusUnlinked
	}, a)
	assert.Empty(t, a.Directory().Linked())
}

func TestUnreachablePeerStaysUndefined(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHost(t, p2p.WithDialTimeout(100*time.Millisecond))
	defer h.Close()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(listener.Addr().(*net.TCPAddr).Port)
	require.NoError(t, listener.Close())

	dead := models.NewAddr(netipLoopback, port)
	h.AddPeer(dead)
	require.NoError(t, h.Tick(context.Background()))
	s, ok := status(h, dead)
	require.True(t, ok)
	assert.Equal(t, models.PeerStatusUndefined, s)
}

func TestRunStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHost(t)
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, h.Run(ctx))
}
