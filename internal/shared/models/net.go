package models

import (
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// Addr is a peer's IP address and the port of its listening socket.
type Addr struct {
	IP   netip.Addr
	Port uint16
}

var ErrInvalidAddr = errors.New("invalid address")

// NewAddr normalizes IPv4-mapped IPv6 addresses so the same peer always maps to the same key.
func NewAddr(ip netip.Addr, port uint16) Addr {
	return Addr{IP: ip.Unmap(), Port: port}
}

// ParseAddr parses "host:port" where host is a literal IP address.
func ParseAddr(s string) (Addr, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Addr{}, fmt.Errorf("%w: %w", ErrInvalidAddr, err)
	}
	return NewAddr(ap.Addr(), ap.Port()), nil
}

// ResolveAddr accepts host names as well as literal addresses.
func ResolveAddr(s string) (Addr, error) {
	if a, err := ParseAddr(s); err == nil {
		return a, nil
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp", s)
	if err != nil {
		return Addr{}, fmt.Errorf("%w: %w", ErrInvalidAddr, err)
	}
	return AddrFromNet(tcpAddr)
}

// AddrFromNet converts a *net.TCPAddr, as returned by net.Conn.RemoteAddr.
func AddrFromNet(a net.Addr) (Addr, error) {
	tcpAddr, ok := a.(*net.TCPAddr)
	if !ok || tcpAddr == nil {
		return Addr{}, fmt.Errorf("%w: %v", ErrInvalidAddr, a)
	}
	ap := tcpAddr.AddrPort()
	return NewAddr(ap.Addr(), ap.Port()), nil
}

func (a Addr) IsValid() bool {
	return a.IP.IsValid()
}

func (a Addr) Is4() bool {
	return a.IP.Is4()
}

func (a Addr) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(a.IP, a.Port)
}

// Compare orders addresses by IP then port.
func (a Addr) Compare(b Addr) int {
	if c := a.IP.Compare(b.IP); c != 0 {
		return c
	}
	return cmp.Compare(a.Port, b.Port)
}

func (a Addr) String() string {
	return net.JoinHostPort(a.IP.String(), strconv.Itoa(int(a.Port)))
}

// Bytes returns the IP octets followed by the big-endian port.
func (a Addr) Bytes() []byte {
	buf := a.IP.AsSlice()
	return binary.BigEndian.AppendUint16(buf, a.Port)
}

// ReadFromBytes parses 6 bytes (IPv4) or 18 bytes (IPv6) as produced by Bytes.
func (a *Addr) ReadFromBytes(b []byte) error {
	if len(b) != 6 && len(b) != 18 {
		return ErrInvalidAddr
	}
	ip, ok := netip.AddrFromSlice(b[:len(b)-2])
	if !ok {
		return ErrInvalidAddr
	}
	a.IP = ip
	a.Port = binary.BigEndian.Uint16(b[len(b)-2:])
	return nil
}
