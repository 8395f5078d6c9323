package decoder

import (
	"errors"
	"fmt"
	"io"
	"net/netip"

	"github.com/WendelHime/peerfs/internal/shared/models"
	"github.com/jackpal/bencode-go"
)

var ErrInvalidSeed = errors.New("invalid seed entry")

// SeedDecoder reads and writes bencoded peer seed lists.
type SeedDecoder interface {
	Decode(io.Reader) ([]models.Addr, error)
	Encode(io.Writer, []models.Addr) error
}

type decoder struct{}

func NewDecoder() SeedDecoder {
	return decoder{}
}

// serialization struct of a seed file:
// d5:peersld4:addr9:127.0.0.14:porti17127eeee
type bencodeSeeds struct {
	Peers []bencodePeer `bencode:"peers"`
}

type bencodePeer struct {
	Addr string `bencode:"addr"`
	Port int    `bencode:"port"`
}

func (decoder) Decode(r io.Reader) ([]models.Addr, error) {
	var seeds bencodeSeeds
	if err := bencode.Unmarshal(r, &seeds); err != nil {
		return nil, fmt.Errorf("decode seeds: %w", err)
	}

	addrs := make([]models.Addr, 0, len(seeds.Peers))
	for i, p := range seeds.Peers {
		ip, err := netip.ParseAddr(p.Addr)
		if err != nil {
			return nil, fmt.Errorf("%w: peer %d: %w", ErrInvalidSeed, i, err)
		}
		if p.Port <= 0 || p.Port > 0xFFFF {
			return nil, fmt.Errorf("%w: peer %d: port %d out of range", ErrInvalidSeed, i, p.Port)
		}
		addrs = append(addrs, models.NewAddr(ip, uint16(p.Port)))
	}

	return addrs, nil
}

func (decoder) Encode(w io.Writer, addrs []models.Addr) error {
	seeds := bencodeSeeds{Peers: make([]bencodePeer, 0, len(addrs))}
	for _, a := range addrs {
		seeds.Peers = append(seeds.Peers, bencodePeer{Addr: a.IP.String(), Port: int(a.Port)})
	}
	return bencode.Marshal(w, seeds)
}
