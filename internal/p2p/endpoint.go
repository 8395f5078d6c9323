package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/WendelHime/peerfs/internal/shared/models"
)

const (
	// DefaultCapacity is the maximum number of links of an endpoint.
	DefaultCapacity    = 1024
	DefaultPollTimeout = 50 * time.Millisecond
	DefaultDialTimeout = 2 * time.Second
	DefaultSendTimeout = 5 * time.Second

	acceptQueueLen = 128
)

var (
	ErrNoFreeSlot     = errors.New("no free link slot")
	ErrEndpointClosed = errors.New("endpoint closed")
)

// Event is produced by Endpoint.Poll: NewLink, RejectedLink, ReceivedPacket or BrokenLink.
type Event interface {
	event()
}

// NewLink is an accepted connection that got a slot.
type NewLink struct {
	Link *Link
}

// RejectedLink is an accepted connection that got no slot. The link is not registered,
// the caller may send Rejected through it and must close it.
type RejectedLink struct {
	Link *Link
}

// ReceivedPacket is a packet received from a link, with the remote address of the link.
type ReceivedPacket struct {
	Link   *Link
	Addr   models.Addr
	Packet Packet
}

// BrokenLink reports once that a link stopped reading, because the peer closed the
// connection or sent undecodable data. The link stays registered until removed.
type BrokenLink struct {
	Link *Link
	Err  error
}

func (NewLink) event()        {}
func (RejectedLink) event()   {}
func (ReceivedPacket) event() {}
func (BrokenLink) event()     {}

// Events is the reusable output buffer of Poll.
type Events []Event

func (e *Events) Clear() {
	clear(*e)
	*e = (*e)[:0]
}

func (e *Events) push(ev Event) {
	*e = append(*e, ev)
}

type EndpointOptionFunc func(*Endpoint)

// WithCapacity sets the number of link slots.
func WithCapacity(capacity int) EndpointOptionFunc {
	return func(e *Endpoint) {
		e.capacity = capacity
	}
}

// WithPollTimeout sets how long Poll waits for the first event.
func WithPollTimeout(timeout time.Duration) EndpointOptionFunc {
	return func(e *Endpoint) {
		e.pollTimeout = timeout
	}
}

// WithDialTimeout bounds connection establishment in AddLinkTo.
func WithDialTimeout(timeout time.Duration) EndpointOptionFunc {
	return func(e *Endpoint) {
		e.dialer.Timeout = timeout
	}
}

// WithSendTimeout bounds a single Link.Send. Zero disables the deadline.
func WithSendTimeout(timeout time.Duration) EndpointOptionFunc {
	return func(e *Endpoint) {
		e.sendTimeout = timeout
	}
}

func WithLogger(logger *slog.Logger) EndpointOptionFunc {
	return func(e *Endpoint) {
		e.log = logger
	}
}

// Endpoint owns the listening socket and the link slot table. Poll, AddLinkTo and
// RemoveLink must be called from a single goroutine.
type Endpoint struct {
	listener    net.Listener
	links       *links
	capacity    int
	pollTimeout time.Duration
	sendTimeout time.Duration
	dialer      net.Dialer
	log         *slog.Logger

	accepted chan net.Conn
	ready    chan *Link
	// backlog holds links left with pending packets by the previous poll.
	backlog []*Link

	done      chan struct{}
	waitGroup sync.WaitGroup
	onceClose sync.Once
}

// NewEndpoint listens on addr, for example ":17127" or "127.0.0.1:0".
func NewEndpoint(addr string, opts ...EndpointOptionFunc) (*Endpoint, error) {
	e := &Endpoint{
		capacity:    DefaultCapacity,
		pollTimeout: DefaultPollTimeout,
		sendTimeout: DefaultSendTimeout,
		dialer:      net.Dialer{Timeout: DefaultDialTimeout},
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.capacity <= 0 {
		return nil, fmt.Errorf("invalid endpoint capacity %d", e.capacity)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	e.listener = listener
	e.links = newLinks(e.capacity)
	e.accepted = make(chan net.Conn, acceptQueueLen)
	e.ready = make(chan *Link, e.capacity)

	e.waitGroup.Add(1)
	go e.acceptLoop()

	return e, nil
}

// Addr returns the bound listening address.
func (e *Endpoint) Addr() *net.TCPAddr {
	return e.listener.Addr().(*net.TCPAddr)
}

// Port returns the bound listening port.
func (e *Endpoint) Port() uint16 {
	return uint16(e.Addr().Port)
}

// Len returns the number of registered links.
func (e *Endpoint) Len() int {
	return e.links.len()
}

func (e *Endpoint) Capacity() int {
	return e.links.capacity()
}

// Link returns the registered link owning a token, or nil.
func (e *Endpoint) Link(token models.Token) *Link {
	return e.links.get(token)
}

// AddLinkTo dials a peer and registers the connection in a free slot.
func (e *Endpoint) AddLinkTo(ctx context.Context, addr models.Addr) (*Link, error) {
	select {
	case <-e.done:
		return nil, ErrEndpointClosed
	default:
	}
	conn, err := e.dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, err
	}
	l, ok := e.links.link(conn, e.sendTimeout)
	if !ok {
		conn.Close()
		return nil, ErrNoFreeSlot
	}
	l.start(e.ready, &e.waitGroup)
	e.log.Debug("link dialed", slog.String("link", l.String()))
	return l, nil
}

// RemoveLink frees the slot of a link and closes its connection.
func (e *Endpoint) RemoveLink(l *Link) error {
	if e.links.unlink(l) {
		e.log.Debug("link removed", slog.String("link", l.String()))
	}
	return l.Close()
}

// Poll waits up to the poll timeout for readiness, then collects every event currently
// available into events. A link is drained of up to linkQueueLen packets before the next
// one is serviced; links with more pending are resumed by the next Poll without waiting.
func (e *Endpoint) Poll(events *Events) error {
	events.Clear()

	select {
	case <-e.done:
		return ErrEndpointClosed
	default:
	}

	if len(e.backlog) > 0 {
		backlog := e.backlog
		e.backlog = nil
		for _, l := range backlog {
			e.drain(l, events)
		}
	} else {
		timer := time.NewTimer(e.pollTimeout)
		defer timer.Stop()

		select {
		case conn := <-e.accepted:
			e.accept(conn, events)
		case l := <-e.ready:
			e.drain(l, events)
		case <-timer.C:
			return nil
		case <-e.done:
			return ErrEndpointClosed
		}
	}

	// Bounded so a constantly busy link cannot keep one poll running forever.
	for i := 0; i < cap(e.accepted)+cap(e.ready); i++ {
		select {
		case conn := <-e.accepted:
			e.accept(conn, events)
		case l := <-e.ready:
			e.drain(l, events)
		default:
			return nil
		}
	}
	return nil
}

func (e *Endpoint) accept(conn net.Conn, events *Events) {
	l, ok := e.links.link(conn, e.sendTimeout)
	if !ok {
		e.log.Debug("no free slot, rejecting", slog.String("remote", conn.RemoteAddr().String()))
		events.push(RejectedLink{Link: l})
		return
	}
	l.start(e.ready, &e.waitGroup)
	e.log.Debug("link accepted", slog.String("link", l.String()))
	events.push(NewLink{Link: l})
}

func (e *Endpoint) drain(l *Link, events *Events) {
	if e.links.get(l.token) != l {
		// Removed since it signaled.
		return
	}
	l.pending.Store(false)
	addr, ok := l.RemoteAddr()
	for n := 0; ; n++ {
		if n == linkQueueLen {
			e.backlog = append(e.backlog, l)
			return
		}
		p, err := l.Recv()
		if err == nil {
			if ok {
				events.push(ReceivedPacket{Link: l, Addr: addr, Packet: p})
			}
			continue
		}
		if !errors.Is(err, ErrNoData) && !l.broken {
			l.broken = true
			events.push(BrokenLink{Link: l, Err: err})
		}
		return
	}
}

func (e *Endpoint) acceptLoop() {
	defer e.waitGroup.Done()
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			e.log.Warn("accept failed", slog.Any("error", err))
			select {
			case <-e.done:
				return
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}
		select {
		case e.accepted <- conn:
		case <-e.done:
			conn.Close()
			return
		}
	}
}

// Close stops listening, closes every link and waits for the background goroutines.
func (e *Endpoint) Close() error {
	var err error
	e.onceClose.Do(func() {
		close(e.done)
		err = e.listener.Close()
		for _, l := range e.links.all() {
			e.links.unlink(l)
			l.Close()
		}
		e.waitGroup.Wait()
		for {
			select {
			case conn := <-e.accepted:
				conn.Close()
			default:
				return
			}
		}
	})
	return err
}
