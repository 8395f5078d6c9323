package models

import "time"

// Token is a slot index in an endpoint's link table.
type Token int

// NoToken marks a link that owns no slot.
const NoToken Token = -1

// PeerStatus values are ordered, a higher status is more advanced.
type PeerStatus uint8

const (
	// Manually added peers, reachability unconfirmed.
	PeerStatusUndefined PeerStatus = iota
	// Learned through discovery, never dialed.
	PeerStatusUnlinked
	// A live connection exists, dialed or accepted and identified.
	PeerStatusLinked
)

func (s PeerStatus) String() string {
	switch s {
	case PeerStatusUndefined:
		return "Undefined"
	case PeerStatusUnlinked:
		return "Unlinked"
	case PeerStatusLinked:
		return "Linked"
	}
	return "Unknown"
}

type Peer struct {
	Addr       Addr
	Status     PeerStatus
	Token      Token
	LastActive time.Time
}

// Upgrade changes the status only if the new one is not weaker.
// A Linked peer re-linked through another slot takes the new token.
func (p *Peer) Upgrade(status PeerStatus, token Token) bool {
	if status < p.Status {
		return false
	}
	p.Status = status
	if status == PeerStatusLinked {
		p.Token = token
	} else {
		p.Token = NoToken
	}
	return true
}
