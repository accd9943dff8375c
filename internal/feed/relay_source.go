package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/davonroy/oddsmesh/internal/config"
	"github.com/davonroy/oddsmesh/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// relayFrame is one message from the listing relay. "snapshot" replaces the
// working set for the frame's venues; "listing" upserts a single entry.
type relayFrame struct {
	Type     string              `json:"type"`
	Listing  *domain.RawListing  `json:"listing,omitempty"`
	Listings []domain.RawListing `json:"listings,omitempty"`
}

// RelaySource consumes listing frames from a websocket relay and keeps the
// latest version of every (venue, listing id). Run pumps the connection and
// reconnects with backoff; Snapshot returns the current working set, so the
// epoch pipeline sees the same pull interface as the file source.
type RelaySource struct {
	url    string
	venues map[string]bool
	logger *slog.Logger

	mu      sync.RWMutex
	current map[string]domain.RawListing // keyed venue|listing id

	readyOnce sync.Once
	ready     chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// NewRelaySource creates a RelaySource for cfg.RelayURL.
func NewRelaySource(cfg config.FeedConfig, logger *slog.Logger) *RelaySource {
	return &RelaySource{
		url:     cfg.RelayURL,
		venues:  venueSet(cfg.Venues),
		logger:  logger.With(slog.String("component", "feed")),
		current: make(map[string]domain.RawListing),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Ready returns a channel that is closed once the first frame has been
// applied, so one-shot callers can wait for a populated working set.
func (s *RelaySource) Ready() <-chan struct{} {
	return s.ready
}

// Snapshot returns the latest listing per (venue, listing id), sorted for
// deterministic downstream processing.
func (s *RelaySource) Snapshot(ctx context.Context) ([]domain.RawListing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	listings := make([]domain.RawListing, 0, len(s.current))
	for _, l := range s.current {
		listings = append(listings, l)
	}
	s.mu.RUnlock()

	sort.Slice(listings, func(i, j int) bool {
		if listings[i].VenueID != listings[j].VenueID {
			return listings[i].VenueID < listings[j].VenueID
		}
		return listings[i].ListingID < listings[j].ListingID
	})
	return listings, nil
}

// Run connects to the relay and consumes frames until ctx is cancelled or
// Close is called. Disconnects trigger reconnection with exponential backoff.
func (s *RelaySource) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		err := s.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn("relay disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (s *RelaySource) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("feed: connect relay %s: %w", s.url, err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Close the connection when the context ends so ReadMessage unblocks.
	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-s.done:
			_ = conn.Close()
		case <-connDone:
		}
	}()

	go s.pingLoop(conn, connDone)

	s.logger.Info("relay connected", slog.String("url", s.url))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: read relay frame: %v: %w", err, domain.ErrWSDisconnect)
		}
		if err := s.handleFrame(data); err != nil {
			s.logger.Warn("bad relay frame", slog.String("error", err.Error()))
		}
	}
}

func (s *RelaySource) pingLoop(conn *websocket.Conn, connDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-connDone:
			return
		}
	}
}

func (s *RelaySource) handleFrame(data []byte) error {
	var frame relayFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}

	switch frame.Type {
	case "snapshot":
		listings := filterVenues(frame.Listings, s.venues)
		s.mu.Lock()
		s.current = make(map[string]domain.RawListing, len(listings))
		for _, l := range listings {
			s.current[l.VenueID+"|"+l.ListingID] = l
		}
		s.mu.Unlock()
		s.logger.Debug("relay snapshot applied", slog.Int("listings", len(listings)))
	case "listing":
		if frame.Listing == nil {
			return fmt.Errorf("listing frame without listing")
		}
		if s.venues != nil && !s.venues[frame.Listing.VenueID] {
			return nil
		}
		s.mu.Lock()
		s.current[frame.Listing.VenueID+"|"+frame.Listing.ListingID] = *frame.Listing
		s.mu.Unlock()
	default:
		return fmt.Errorf("unknown frame type %q", frame.Type)
	}
	s.readyOnce.Do(func() { close(s.ready) })
	return nil
}

// Close stops the source. Safe to call more than once.
func (s *RelaySource) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

var _ domain.ListingSource = (*RelaySource)(nil)
