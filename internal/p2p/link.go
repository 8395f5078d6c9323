package p2p

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/WendelHime/peerfs/internal/shared/models"
)

// ErrNoData is returned by Link.Recv when no packet is pending.
var ErrNoData = errors.New("no data yet")

// linkQueueLen bounds the packets decoded ahead of the control loop.
const linkQueueLen = 64

// Link is one TCP connection to a peer, identified by its slot token.
type Link struct {
	token       models.Token
	conn        net.Conn
	remote      models.Addr
	remoteOK    bool
	sendTimeout time.Duration
	sendMu      sync.Mutex

	// Set only for links registered on an endpoint.
	packets chan Packet
	ready   chan<- *Link
	err     error
	pending atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
	// broken is touched only by the polling goroutine.
	broken bool
}

func newLink(token models.Token, conn net.Conn, sendTimeout time.Duration) *Link {
	l := &Link{
		token:       token,
		conn:        conn,
		sendTimeout: sendTimeout,
		done:        make(chan struct{}),
	}
	if addr, err := models.AddrFromNet(conn.RemoteAddr()); err == nil {
		l.remote, l.remoteOK = addr, true
	}
	return l
}

func (l *Link) Token() models.Token {
	return l.token
}

// RemoteAddr returns the address and port the connection comes from.
func (l *Link) RemoteAddr() (models.Addr, bool) {
	return l.remote, l.remoteOK
}

func (l *Link) String() string {
	if l.remoteOK {
		return fmt.Sprintf("link#%d(%s)", l.token, l.remote)
	}
	return fmt.Sprintf("link#%d", l.token)
}

// Send encodes and writes one packet.
func (l *Link) Send(p Packet) error {
	buf, err := EncodePacket(p)
	if err != nil {
		return err
	}
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	if l.sendTimeout > 0 {
		if err := l.conn.SetWriteDeadline(time.Now().Add(l.sendTimeout)); err != nil {
			return err
		}
	}
	_, err = l.conn.Write(buf)
	return err
}

// Recv returns the next decoded packet without blocking. It returns ErrNoData when
// nothing is pending, and the read error once the connection is finished.
func (l *Link) Recv() (Packet, error) {
	if l.packets == nil {
		return nil, ErrNoData
	}
	select {
	case p, ok := <-l.packets:
		if !ok {
			return nil, l.err
		}
		return p, nil
	default:
		return nil, ErrNoData
	}
}

// Close closes the connection and stops the reader. It is safe to call more than once.
func (l *Link) Close() error {
	err := net.ErrClosed
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.conn.Close()
	})
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// start runs the reader goroutine, which decodes packets into the queue
// and signals ready whenever the queue goes from drained to pending.
func (l *Link) start(ready chan<- *Link, wg *sync.WaitGroup) {
	l.packets = make(chan Packet, linkQueueLen)
	l.ready = ready
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.readLoop()
	}()
}

func (l *Link) readLoop() {
	defer func() {
		// err is written before close so Recv observes it after the last packet.
		close(l.packets)
		l.signal()
	}()
	r := packetReader(l.conn)
	for {
		p, err := ReadPacket(r)
		if err != nil {
			select {
			case <-l.done:
				l.err = net.ErrClosed
			default:
				l.err = err
			}
			return
		}
		select {
		case l.packets <- p:
		case <-l.done:
			l.err = net.ErrClosed
			return
		}
		l.signal()
	}
}

func (l *Link) signal() {
	if !l.pending.CompareAndSwap(false, true) {
		return
	}
	select {
	case l.ready <- l:
	case <-l.done:
	}
}
