// Package tracker retrieves the peers a host starts from.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/WendelHime/peerfs/internal/decoder"
	"github.com/WendelHime/peerfs/internal/shared/models"
)

type Tracker interface {
	GetPeers(ctx context.Context, port uint16) ([]models.Addr, error)
	WithHTTPClient(client *http.Client) Tracker
}

type PeersGetter interface {
	GetPeers(ctx context.Context, source string, port uint16) ([]models.Addr, error)
}

type tracker struct {
	SourceURL  string
	HTTPClient PeersGetter
	FileClient PeersGetter
}

// NewTracker returns a tracker for an http(s) seed tracker URL, or for a seed file
// given as a path or a file:// URL.
func NewTracker(sourceURL string) Tracker {
	return &tracker{
		SourceURL:  sourceURL,
		HTTPClient: NewHTTPGetter(&http.Client{Timeout: 60 * time.Second}),
		FileClient: NewFileGetter(decoder.NewDecoder()),
	}
}

func (t *tracker) WithHTTPClient(client *http.Client) Tracker {
	t.HTTPClient = NewHTTPGetter(client)
	return t
}

type peersResponse struct {
	Interval      int    `bencode:"interval"`
	Peers         string `bencode:"peers"`
	Peers6        string `bencode:"peers6"`
	FailureReason string `bencode:"failure reason"`
}

func (t *tracker) GetPeers(ctx context.Context, port uint16) ([]models.Addr, error) {
	if t.SourceURL == "" {
		return nil, fmt.Errorf("tracker url is empty")
	}
	switch {
	case strings.HasPrefix(t.SourceURL, "http://"), strings.HasPrefix(t.SourceURL, "https://"):
		return t.HTTPClient.GetPeers(ctx, t.SourceURL, port)
	case strings.HasPrefix(t.SourceURL, "file://"):
		return t.FileClient.GetPeers(ctx, strings.TrimPrefix(t.SourceURL, "file://"), port)
	case !strings.Contains(t.SourceURL, "://"):
		return t.FileClient.GetPeers(ctx, t.SourceURL, port)
	default:
		slog.Error("unsupported protocol", slog.String("tracker-url", t.SourceURL))
		return nil, fmt.Errorf("unsupported protocol")
	}
}
