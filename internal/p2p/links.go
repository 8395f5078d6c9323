package p2p

import (
	"net"
	"time"

	"github.com/WendelHime/peerfs/internal/shared/models"
)

// links is the slot table of an endpoint: the only owner of registered links.
type links struct {
	slots []*Link
	free  []models.Token
	count int
}

func newLinks(capacity int) *links {
	free := make([]models.Token, capacity)
	// Popping from the end hands out the lowest tokens first.
	for i := range free {
		free[i] = models.Token(capacity - 1 - i)
	}
	return &links{
		slots: make([]*Link, capacity),
		free:  free,
	}
}

// link puts the connection in a free slot. On exhaustion it returns a link without a
// slot, usable only to reply to the peer before closing it.
func (ls *links) link(conn net.Conn, sendTimeout time.Duration) (*Link, bool) {
	if len(ls.free) == 0 {
		return newLink(models.NoToken, conn, sendTimeout), false
	}
	token := ls.free[len(ls.free)-1]
	ls.free = ls.free[:len(ls.free)-1]
	if ls.slots[token] != nil {
		panic("p2p: free token has a link")
	}
	l := newLink(token, conn, sendTimeout)
	ls.slots[token] = l
	ls.count++
	return l, true
}

// unlink frees the slot of l if l still owns it.
func (ls *links) unlink(l *Link) bool {
	if ls.get(l.token) != l {
		return false
	}
	ls.slots[l.token] = nil
	ls.free = append(ls.free, l.token)
	ls.count--
	return true
}

func (ls *links) get(token models.Token) *Link {
	if token < 0 || int(token) >= len(ls.slots) {
		return nil
	}
	return ls.slots[token]
}

func (ls *links) all() []*Link {
	ret := make([]*Link, 0, ls.count)
	for _, l := range ls.slots {
		if l != nil {
			ret = append(ret, l)
		}
	}
	return ret
}

func (ls *links) len() int {
	return ls.count
}

func (ls *links) capacity() int {
	return len(ls.slots)
}
