// Package feed supplies raw listing snapshots to the epoch pipeline. Two
// sources exist: a file source reading venue snapshot JSON from disk, and a
// websocket source consuming listing frames from a relay. Both hand the
// engine the same venue-agnostic RawListing shape; venue quirks stay on the
// far side of this boundary.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/davonroy/oddsmesh/internal/config"
	"github.com/davonroy/oddsmesh/internal/domain"
)

// snapshotFile is the on-disk snapshot wrapper. The archiver writes this
// shape; bare top-level arrays from external fetchers are also accepted.
type snapshotFile struct {
	CapturedAt time.Time           `json:"capturedAt"`
	Listings   []domain.RawListing `json:"listings"`
}

// FileSource reads listing snapshots from a JSON file or a directory of
// them. Given a directory it picks the lexically last *.json entry, so
// timestamp-named snapshot drops resolve to the newest capture.
type FileSource struct {
	path   string
	venues map[string]bool
	logger *slog.Logger
}

// NewFileSource creates a FileSource for cfg.SnapshotPath. When cfg.Venues
// is non-empty, listings from other venues are dropped at read time.
func NewFileSource(cfg config.FeedConfig, logger *slog.Logger) *FileSource {
	return &FileSource{
		path:   cfg.SnapshotPath,
		venues: venueSet(cfg.Venues),
		logger: logger.With(slog.String("component", "feed")),
	}
}

// Snapshot reads and decodes the current snapshot file.
func (s *FileSource) Snapshot(ctx context.Context) ([]domain.RawListing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.resolvePath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("feed: read snapshot %s: %w", path, err)
	}

	listings, err := decodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("feed: decode snapshot %s: %w", path, err)
	}

	listings = filterVenues(listings, s.venues)
	s.logger.Debug("snapshot loaded",
		slog.String("path", path),
		slog.Int("listings", len(listings)))
	return listings, nil
}

func (s *FileSource) resolvePath() (string, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return "", fmt.Errorf("feed: stat snapshot path %s: %w", s.path, err)
	}
	if !info.IsDir() {
		return s.path, nil
	}

	entries, err := os.ReadDir(s.path)
	if err != nil {
		return "", fmt.Errorf("feed: read snapshot dir %s: %w", s.path, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		return "", fmt.Errorf("feed: no snapshot files in %s", s.path)
	}
	sort.Strings(names)
	return filepath.Join(s.path, names[len(names)-1]), nil
}

// decodeSnapshot accepts either the wrapped snapshot object or a bare array
// of listings.
func decodeSnapshot(data []byte) ([]domain.RawListing, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty snapshot")
	}

	if trimmed[0] == '[' {
		var listings []domain.RawListing
		if err := json.Unmarshal(trimmed, &listings); err != nil {
			return nil, err
		}
		return listings, nil
	}

	var wrapped snapshotFile
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Listings, nil
}

func venueSet(venues []string) map[string]bool {
	if len(venues) == 0 {
		return nil
	}
	set := make(map[string]bool, len(venues))
	for _, v := range venues {
		set[v] = true
	}
	return set
}

func filterVenues(listings []domain.RawListing, venues map[string]bool) []domain.RawListing {
	if venues == nil {
		return listings
	}
	kept := listings[:0]
	for _, l := range listings {
		if venues[l.VenueID] {
			kept = append(kept, l)
		}
	}
	return kept
}

var _ domain.ListingSource = (*FileSource)(nil)
