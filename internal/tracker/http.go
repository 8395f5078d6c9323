package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/WendelHime/peerfs/internal/shared/models"
	"github.com/jackpal/bencode-go"
)

var ErrTrackerFailure = errors.New("tracker failure")

type HTTPGetter struct {
	client   *http.Client
	interval int
}

func NewHTTPGetter(client *http.Client) *HTTPGetter {
	return &HTTPGetter{client: client}
}

// Interval returns the refresh interval, in seconds, sent with the last response.
func (h *HTTPGetter) Interval() int {
	return h.interval
}

// GetPeers announces the listening port and returns the peers the tracker knows.
func (h *HTTPGetter) GetPeers(ctx context.Context, announce string, port uint16) ([]models.Addr, error) {
	tracker, err := url.Parse(announce)
	if err != nil {
		return nil, err
	}

	query := tracker.Query()
	query.Set("port", strconv.Itoa(int(port)))
	tracker.RawQuery = query.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, tracker.String(), nil)
	if err != nil {
		return nil, err
	}
	response, err := h.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http error: %s", response.Status)
	}

	resp, err := decodeHTTPResponse(response.Body)
	if err != nil {
		return nil, err
	}
	h.interval = resp.Interval
	return resp.Peers, nil
}

type peersWithAddresses struct {
	Peers    []models.Addr
	Interval int
}

func decodeHTTPResponse(response io.Reader) (peersWithAddresses, error) {
	resp := peersResponse{}
	err := bencode.Unmarshal(response, &resp)
	if err != nil {
		return peersWithAddresses{}, err
	}
	if resp.FailureReason != "" {
		return peersWithAddresses{}, fmt.Errorf("%w: %s", ErrTrackerFailure, resp.FailureReason)
	}

	peers, err := decodeCompact(nil, resp.Peers, 4)
	if err != nil {
		return peersWithAddresses{}, err
	}
	peers, err = decodeCompact(peers, resp.Peers6, 16)
	if err != nil {
		return peersWithAddresses{}, err
	}
	return peersWithAddresses{Peers: peers, Interval: resp.Interval}, nil
}

// decodeCompact appends the peers of a compact list: each entry is an IP of ipLen bytes
// followed by the big-endian port.
func decodeCompact(peers []models.Addr, compact string, ipLen int) ([]models.Addr, error) {
	entryLen := ipLen + 2
	if len(compact)%entryLen != 0 {
		return nil, fmt.Errorf("%w: compact peers length %d", ErrTrackerFailure, len(compact))
	}
	for i := 0; i < len(compact); i += entryLen {
		var addr models.Addr
		if err := addr.ReadFromBytes([]byte(compact[i : i+entryLen])); err != nil {
			return nil, err
		}
		peers = append(peers, models.NewAddr(addr.IP, addr.Port))
	}
	return peers, nil
}

// EncodeCompact is the inverse of the compact peer lists, for trackers and tests.
func EncodeCompact(peers []models.Addr) (v4, v6 string) {
	var b4, b6 []byte
	for _, p := range peers {
		if p.Is4() {
			b4 = append(b4, p.Bytes()...)
		} else {
			b6 = append(b6, p.Bytes()...)
		}
	}
	return string(b4), string(b6)
}
