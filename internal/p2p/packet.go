package p2p

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/WendelHime/peerfs/internal/decoder"
	"github.com/WendelHime/peerfs/internal/shared/models"
)

var (
	ErrInvalidData    = errors.New("invalid packet data")
	ErrNotImplemented = errors.New("packet not implemented")
)

// Packet is one protocol message. Only Rejected, PeerIdentify and PeerDiscover have an encoding.
type Packet interface {
	ID() models.PacketID
}

// Rejected is sent by a peer that has no free slot for an incoming connection.
type Rejected struct{}

// PeerIdentify is sent by the dialing side right after connecting, with its listening port.
type PeerIdentify struct {
	Port uint16
}

// PeerDiscover announces another peer's listening address.
type PeerDiscover struct {
	Addr models.Addr
}

func (Rejected) ID() models.PacketID     { return models.PacketIDRejected }
func (PeerIdentify) ID() models.PacketID { return models.PacketIDPeerIdentify }

func (p PeerDiscover) ID() models.PacketID {
	if p.Addr.Is4() {
		return models.PacketIDPeerDiscoverIPv4
	}
	return models.PacketIDPeerDiscoverIPv6
}

// payloadLengths holds the fixed payload length following each implemented tag.
var payloadLengths = map[models.PacketID]int{
	models.PacketIDRejected:         0,
	models.PacketIDPeerIdentify:     2,
	models.PacketIDPeerDiscoverIPv4: 4 + 2,
	models.PacketIDPeerDiscoverIPv6: 16 + 2,
}

// EncodePacket returns the wire bytes of a packet.
func EncodePacket(p Packet) ([]byte, error) {
	switch p := p.(type) {
	case Rejected, *Rejected:
		return []byte{byte(models.PacketIDRejected)}, nil
	case PeerIdentify:
		return binary.BigEndian.AppendUint16([]byte{byte(p.ID())}, p.Port), nil
	case *PeerIdentify:
		return EncodePacket(*p)
	case PeerDiscover:
		if !p.Addr.IsValid() {
			return nil, fmt.Errorf("%w: discover without address", ErrInvalidData)
		}
		return append([]byte{byte(p.ID())}, p.Addr.Bytes()...), nil
	case *PeerDiscover:
		return EncodePacket(*p)
	case nil:
		return nil, fmt.Errorf("%w: nil packet", ErrInvalidData)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotImplemented, p.ID())
	}
}

// WritePacket encodes a packet and writes it with a single Write call.
func WritePacket(w io.Writer, p Packet) error {
	buf, err := EncodePacket(p)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadPacket decodes one packet. A stream ending before the tag yields io.EOF.
func ReadPacket(r io.Reader) (Packet, error) {
	tag, err := decoder.ReadBytes(r, 1)
	if err != nil {
		return nil, err
	}
	id := models.PacketID(tag[0])

	length, ok := payloadLengths[id]
	if !ok {
		if id.Reserved() {
			return nil, fmt.Errorf("%w: %s", ErrNotImplemented, id)
		}
		return nil, fmt.Errorf("%w: unknown tag 0x%02x", ErrInvalidData, tag[0])
	}

	payload, err := decoder.ReadBytes(r, length)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%w: truncated %s: %w", ErrInvalidData, id, err)
	}

	switch id {
	case models.PacketIDRejected:
		return Rejected{}, nil
	case models.PacketIDPeerIdentify:
		return PeerIdentify{Port: binary.BigEndian.Uint16(payload)}, nil
	default:
		var addr models.Addr
		if err := addr.ReadFromBytes(payload); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidData, err)
		}
		return PeerDiscover{Addr: addr}, nil
	}
}

// packetReader buffers a connection so a burst of small packets costs one syscall.
func packetReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, 4096)
}
