package tracker

import (
	"log/slog"
	"net/http"
	"net/netip"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/WendelHime/peerfs/internal/shared/models"
	"github.com/jackpal/bencode-go"
)

// Server is a seed tracker: every announce registers the caller and returns the
// other peers announced within the last two intervals.
type Server struct {
	mu       sync.Mutex
	peers    map[models.Addr]time.Time
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger
}

func NewServer(interval time.Duration, logger *slog.Logger) *Server {
	return &Server{
		peers:    make(map[models.Addr]time.Time),
		interval: interval,
		now:      time.Now,
		log:      logger,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	port, err := strconv.ParseUint(r.URL.Query().Get("port"), 10, 16)
	if err != nil || port == 0 {
		s.fail(w, "invalid port")
		return
	}
	remote, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		s.fail(w, "invalid remote address")
		return
	}
	announced := models.NewAddr(remote.Addr(), uint16(port))

	peers := s.announce(announced)
	v4, v6 := EncodeCompact(peers)
	w.Header().Set("Content-Type", "text/plain")
	err = bencode.Marshal(w, peersResponse{
		Interval: int(s.interval / time.Second),
		Peers:    v4,
		Peers6:   v6,
	})
	if err != nil {
		s.log.Warn("failed to write announce response", slog.Any("error", err))
		return
	}
	s.log.Debug("peer announced", slog.String("peer", announced.String()), slog.Int("peers", len(peers)))
}

// announce registers addr and returns the other live peers, sorted by address.
func (s *Server) announce(addr models.Addr) []models.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	expired := now.Add(-2 * s.interval)
	peers := make([]models.Addr, 0, len(s.peers))
	for p, seen := range s.peers {
		if seen.Before(expired) {
			delete(s.peers, p)
			continue
		}
		if p != addr {
			peers = append(peers, p)
		}
	}
	s.peers[addr] = now
	slices.SortFunc(peers, models.Addr.Compare)
	return peers
}

// Len returns the number of registered peers.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// fail answers with a failure reason, which clients report as ErrTrackerFailure.
func (s *Server) fail(w http.ResponseWriter, reason string) {
	bencode.Marshal(w, peersResponse{FailureReason: reason})
}
