package p2p

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/WendelHime/peerfs/internal/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const testTimeout = 5 * time.Second

func newTestEndpoint(t *testing.T, opts ...EndpointOptionFunc) *Endpoint {
	t.Helper()
	opts = append([]EndpointOptionFunc{WithPollTimeout(10 * time.Millisecond)}, opts...)
	e, err := NewEndpoint("127.0.0.1:0", opts...)
	require.NoError(t, err)
	return e
}

// pollUntil polls until done reports true for the events collected so far.
func pollUntil(t *testing.T, e *Endpoint, done func([]Event) bool) []Event {
	t.Helper()
	var collected []Event
	var events Events
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		require.NoError(t, e.Poll(&events))
		collected = append(collected, events...)
		if done(collected) {
			return collected
		}
	}
	t.Fatalf("condition not met before timeout, got %d events: %v", len(collected), collected)
	return nil
}

func countOf[T Event](events []Event) int {
	n := 0
	for _, ev := range events {
		if _, ok := ev.(T); ok {
			n++
		}
	}
	return n
}

func firstOf[T Event](events []Event) T {
	for _, ev := range events {
		if v, ok := ev.(T); ok {
			return v
		}
	}
	var zero T
	return zero
}

func dial(t *testing.T, e *Endpoint) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", e.Addr().String(), testTimeout)
	require.NoError(t, err)
	return conn
}

func TestEndpointReceivesPackets(t *testing.T) {
	defer goleak.VerifyNone(t)
	e := newTestEndpoint(t)
	defer e.Close()

	conn := dial(t, e)
	defer conn.Close()
	local, err := models.AddrFromNet(conn.LocalAddr())
	require.NoError(t, err)

	require.NoError(t, WritePacket(conn, PeerIdentify{Port: 4000}))
	require.NoError(t, WritePacket(conn, PeerDiscover{Addr: mustAddr(t, "10.1.2.3:4")}))

	events := pollUntil(t, e, func(evs []Event) bool {
		return countOf[ReceivedPacket](evs) == 2
	})
	require.Equal(t, 1, countOf[NewLink](events))
	link := firstOf[NewLink](events).Link
	assert.Equal(t, models.Token(0), link.Token())
	assert.Equal(t, 1, e.Len())
	assert.Same(t, link, e.Link(0))

	var received []Packet
	for _, ev := range events {
		if rp, ok := ev.(ReceivedPacket); ok {
			assert.Same(t, link, rp.Link)
			assert.Equal(t, local, rp.Addr)
			received = append(received, rp.Packet)
		}
	}
	assert.Equal(t, []Packet{PeerIdentify{Port: 4000}, PeerDiscover{Addr: mustAddr(t, "10.1.2.3:4")}}, received)
}

func TestEndpointRejectsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)
	e := newTestEndpoint(t, WithCapacity(1))
	defer e.Close()

	first := dial(t, e)
	defer first.Close()
	pollUntil(t, e, func(evs []Event) bool { return countOf[NewLink](evs) == 1 })

	second := dial(t, e)
	defer second.Close()
	events := pollUntil(t, e, func(evs []Event) bool { return countOf[RejectedLink](evs) == 1 })
	rejected := firstOf[RejectedLink](events).Link
	assert.Equal(t, models.NoToken, rejected.Token())
	assert.Equal(t, 1, e.Len())

	require.NoError(t, rejected.Send(Rejected{}))
	require.NoError(t, rejected.Close())

	require.NoError(t, second.SetReadDeadline(time.Now().Add(testTimeout)))
	got, err := io.ReadAll(second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xF0}, got)
}

func TestEndpointAddLinkTo(t *testing.T) {
	defer goleak.VerifyNone(t)
	a := newTestEndpoint(t)
	defer a.Close()
	b := newTestEndpoint(t)
	defer b.Close()

	target, err := models.AddrFromNet(b.Addr())
	require.NoError(t, err)
	out, err := a.AddLinkTo(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Len())
	require.NoError(t, out.Send(PeerIdentify{Port: a.Port()}))

	events := pollUntil(t, b, func(evs []Event) bool { return countOf[ReceivedPacket](evs) == 1 })
	in := firstOf[NewLink](events).Link
	require.NotNil(t, in)
	assert.Equal(t, PeerIdentify{Port: a.Port()}, firstOf[ReceivedPacket](events).Packet)

	require.NoError(t, in.Send(PeerDiscover{Addr: target}))
	events = pollUntil(t, a, func(evs []Event) bool { return countOf[ReceivedPacket](evs) == 1 })
	reply := firstOf[ReceivedPacket](events)
	assert.Same(t, out, reply.Link)
	assert.Equal(t, target, reply.Addr)
	assert.Equal(t, PeerDiscover{Addr: target}, reply.Packet)
}

func TestEndpointAddLinkToWithoutFreeSlot(t *testing.T) {
	defer goleak.VerifyNone(t)
	a := newTestEndpoint(t, WithCapacity(1))
	defer a.Close()
	b := newTestEndpoint(t)
	defer b.Close()

	target, err := models.AddrFromNet(b.Addr())
	require.NoError(t, err)
	_, err = a.AddLinkTo(context.Background(), target)
	require.NoError(t, err)
	_, err = a.AddLinkTo(context.Background(), target)
	assert.ErrorIs(t, err, ErrNoFreeSlot)
	assert.Equal(t, 1, a.Len())
}

func TestEndpointBrokenLink(t *testing.T) {
	var tests = []struct {
		name   string
		given  func(t *testing.T, conn net.Conn)
		assert func(t *testing.T, err error)
	}{
		{
			name: "peer closes the connection",
			given: func(t *testing.T, conn net.Conn) {
				require.NoError(t, conn.Close())
			},
			assert: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, io.EOF)
			},
		},
		{
			name: "peer sends an unknown tag",
			given: func(t *testing.T, conn net.Conn) {
				_, err := conn.Write([]byte{0x7F})
				require.NoError(t, err)
			},
			assert: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrInvalidData)
			},
		},
		{
			name: "peer sends a reserved packet",
			given: func(t *testing.T, conn net.Conn) {
				_, err := conn.Write([]byte{byte(models.PacketIDChannelOpen)})
				require.NoError(t, err)
			},
			assert: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrNotImplemented)
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)
			e := newTestEndpoint(t)
			defer e.Close()

			conn := dial(t, e)
			defer conn.Close()
			tt.given(t, conn)

			events := pollUntil(t, e, func(evs []Event) bool { return countOf[BrokenLink](evs) == 1 })
			broken := firstOf[BrokenLink](events)
			tt.assert(t, broken.Err)

			// Reported once, the slot is kept until removed.
			var more Events
			require.NoError(t, e.Poll(&more))
			assert.Zero(t, countOf[BrokenLink](more))
			assert.Equal(t, 1, e.Len())

			require.NoError(t, e.RemoveLink(broken.Link))
			assert.Equal(t, 0, e.Len())
			assert.Nil(t, e.Link(broken.Link.Token()))
		})
	}
}

func TestEndpointDrainsFloodAcrossPolls(t *testing.T) {
	defer goleak.VerifyNone(t)
	e := newTestEndpoint(t)
	defer e.Close()

	conn := dial(t, e)
	defer conn.Close()

	const sent = linkQueueLen*3 + 5
	go func() {
		for i := 0; i < sent; i++ {
			if err := WritePacket(conn, PeerIdentify{Port: uint16(i)}); err != nil {
				return
			}
		}
	}()

	events := pollUntil(t, e, func(evs []Event) bool { return countOf[ReceivedPacket](evs) == sent })
	port := uint16(0)
	for _, ev := range events {
		if rp, ok := ev.(ReceivedPacket); ok {
			require.Equal(t, PeerIdentify{Port: port}, rp.Packet)
			port++
		}
	}
}

func TestEndpointClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	e := newTestEndpoint(t)

	conn := dial(t, e)
	defer conn.Close()
	pollUntil(t, e, func(evs []Event) bool { return countOf[NewLink](evs) == 1 })

	require.NoError(t, e.Close())
	assert.NoError(t, e.Close())
	assert.Equal(t, 0, e.Len())

	var events Events
	assert.ErrorIs(t, e.Poll(&events), ErrEndpointClosed)
	_, err := e.AddLinkTo(context.Background(), mustAddr(t, "127.0.0.1:1"))
	assert.ErrorIs(t, err, ErrEndpointClosed)
}

func TestNewEndpointInvalidCapacity(t *testing.T) {
	_, err := NewEndpoint("127.0.0.1:0", WithCapacity(0))
	assert.Error(t, err)
}
