package logic

import (
	"slices"
	"sync"
	"time"

	"github.com/WendelHime/peerfs/internal/shared/models"
)

// Directory holds every peer known to a host, keyed by listening address.
// Statuses only move up, except Detach which unlinks a peer whose connection is gone.
type Directory struct {
	mutex     sync.Mutex
	peers     map[models.Addr]*models.Peer
	undefined int
	linked    map[models.Token]models.Addr
	now       func() time.Time
}

func NewDirectory() *Directory {
	return &Directory{
		peers:  make(map[models.Addr]*models.Peer),
		linked: make(map[models.Token]models.Addr),
		now:    time.Now,
	}
}

// Add inserts a peer or upgrades its status. It reports whether the directory changed.
// Linking a peer through a token still held by another peer detaches that peer first.
func (d *Directory) Add(addr models.Addr, status models.PeerStatus, token models.Token) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if status == models.PeerStatusLinked {
		if other, ok := d.linked[token]; ok && other != addr {
			d.detach(token)
		}
	}

	p, ok := d.peers[addr]
	if !ok {
		p = &models.Peer{Addr: addr, Status: status, Token: models.NoToken, LastActive: d.now()}
		if status == models.PeerStatusLinked {
			p.Token = token
			d.linked[token] = addr
		}
		if status == models.PeerStatusUndefined {
			d.undefined++
		}
		d.peers[addr] = p
		return true
	}

	before := *p
	if !p.Upgrade(status, token) {
		return false
	}
	if before.Status == models.PeerStatusUndefined && p.Status != models.PeerStatusUndefined {
		d.undefined--
	}
	if before.Status == models.PeerStatusLinked && before.Token != p.Token {
		delete(d.linked, before.Token)
	}
	if p.Status == models.PeerStatusLinked {
		d.linked[p.Token] = addr
	}
	return before != *p
}

func (d *Directory) Get(addr models.Addr) (models.Peer, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	p, ok := d.peers[addr]
	if !ok {
		return models.Peer{}, false
	}
	return *p, true
}

// ByToken returns the peer linked through token.
func (d *Directory) ByToken(token models.Token) (models.Peer, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	addr, ok := d.linked[token]
	if !ok {
		return models.Peer{}, false
	}
	return *d.peers[addr], true
}

// Peers returns a copy of every peer, sorted by address.
func (d *Directory) Peers() []models.Peer {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.collect(func(*models.Peer) bool { return true })
}

// Linked returns a copy of the linked peers, sorted by address.
func (d *Directory) Linked() []models.Peer {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.collect(func(p *models.Peer) bool { return p.Status == models.PeerStatusLinked })
}

// Undefined returns the addresses of peers never linked nor discovered, nil if there are none.
func (d *Directory) Undefined() []models.Addr {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.undefined == 0 {
		return nil
	}
	ret := make([]models.Addr, 0, d.undefined)
	for addr, p := range d.peers {
		if p.Status == models.PeerStatusUndefined {
			ret = append(ret, addr)
		}
	}
	slices.SortFunc(ret, models.Addr.Compare)
	return ret
}

func (d *Directory) UndefinedCount() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.undefined
}

func (d *Directory) Len() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.peers)
}

// Touch marks the peer linked through token as active now.
func (d *Directory) Touch(token models.Token) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	addr, ok := d.linked[token]
	if !ok {
		return false
	}
	d.peers[addr].LastActive = d.now()
	return true
}

// Detach moves the peer linked through token back to Unlinked.
func (d *Directory) Detach(token models.Token) (models.Addr, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.detach(token)
}

func (d *Directory) detach(token models.Token) (models.Addr, bool) {
	addr, ok := d.linked[token]
	if !ok {
		return models.Addr{}, false
	}
	delete(d.linked, token)
	p := d.peers[addr]
	p.Status = models.PeerStatusUnlinked
	p.Token = models.NoToken
	return addr, true
}

func (d *Directory) collect(keep func(*models.Peer) bool) []models.Peer {
	ret := make([]models.Peer, 0, len(d.peers))
	for _, p := range d.peers {
		if keep(p) {
			ret = append(ret, *p)
		}
	}
	slices.SortFunc(ret, func(a, b models.Peer) int {
		return a.Addr.Compare(b.Addr)
	})
	return ret
}
