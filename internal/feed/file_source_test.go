package feed

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/davonroy/oddsmesh/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeSnapshot(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const wrappedSnapshot = `{
	"capturedAt": "2026-03-01T12:00:00Z",
	"listings": [
		{"venueId": "va", "listingId": "1", "title": "Alcaraz vs Sinner", "category": "tennis",
		 "outcomes": [{"label": "Alcaraz", "probability": 0.55, "liquidity": 1000}],
		 "timestamp": "2026-03-01T11:59:00Z"},
		{"venueId": "vb", "listingId": "9", "title": "Sinner v Alcaraz", "category": "tennis",
		 "outcomes": [{"label": "Sinner", "probability": "0.48", "liquidity": 500}],
		 "timestamp": "2026-03-01T11:59:30Z"}
	]
}`

func TestFileSource_WrappedObject(t *testing.T) {
	dir := t.TempDir()
	path := writeSnapshot(t, dir, "snap.json", wrappedSnapshot)

	cfg := config.FeedConfig{Source: "file", SnapshotPath: path}
	src := NewFileSource(cfg, testLogger())

	listings, err := src.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("got %d listings, want 2", len(listings))
	}
	if listings[0].VenueID != "va" || listings[0].Title != "Alcaraz vs Sinner" {
		t.Errorf("first listing = %+v", listings[0])
	}
	// String probabilities pass through untouched; the normalizer coerces.
	if got, ok := listings[1].Outcomes[0].Probability.(string); !ok || got != "0.48" {
		t.Errorf("probability = %v (%T), want string \"0.48\"", listings[1].Outcomes[0].Probability, listings[1].Outcomes[0].Probability)
	}
}

func TestFileSource_BareArray(t *testing.T) {
	dir := t.TempDir()
	path := writeSnapshot(t, dir, "snap.json",
		`[{"venueId": "va", "listingId": "1", "title": "T", "outcomes": [], "timestamp": "2026-03-01T11:59:00Z"}]`)

	src := NewFileSource(config.FeedConfig{SnapshotPath: path}, testLogger())
	listings, err := src.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(listings) != 1 || listings[0].ListingID != "1" {
		t.Fatalf("listings = %+v", listings)
	}
}

func TestFileSource_DirectoryPicksLatest(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "2026-03-01T11.json",
		`[{"venueId": "va", "listingId": "old", "title": "Old", "outcomes": [], "timestamp": "2026-03-01T10:59:00Z"}]`)
	writeSnapshot(t, dir, "2026-03-01T12.json",
		`[{"venueId": "va", "listingId": "new", "title": "New", "outcomes": [], "timestamp": "2026-03-01T11:59:00Z"}]`)
	writeSnapshot(t, dir, "notes.txt", "ignore me")

	src := NewFileSource(config.FeedConfig{SnapshotPath: dir}, testLogger())
	listings, err := src.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(listings) != 1 || listings[0].ListingID != "new" {
		t.Fatalf("picked wrong snapshot: %+v", listings)
	}
}

func TestFileSource_VenueFilter(t *testing.T) {
	dir := t.TempDir()
	path := writeSnapshot(t, dir, "snap.json", wrappedSnapshot)

	cfg := config.FeedConfig{SnapshotPath: path, Venues: []string{"vb"}}
	src := NewFileSource(cfg, testLogger())

	listings, err := src.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(listings) != 1 || listings[0].VenueID != "vb" {
		t.Fatalf("filter kept %+v, want only vb", listings)
	}
}

func TestFileSource_MissingPath(t *testing.T) {
	src := NewFileSource(config.FeedConfig{SnapshotPath: filepath.Join(t.TempDir(), "absent.json")}, testLogger())
	if _, err := src.Snapshot(context.Background()); err == nil {
		t.Fatal("Snapshot on missing path succeeded, want error")
	}
}

func TestFileSource_EmptyDir(t *testing.T) {
	src := NewFileSource(config.FeedConfig{SnapshotPath: t.TempDir()}, testLogger())
	if _, err := src.Snapshot(context.Background()); err == nil {
		t.Fatal("Snapshot on empty dir succeeded, want error")
	}
}

func TestFileSource_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	path := writeSnapshot(t, dir, "snap.json", wrappedSnapshot)
	src := NewFileSource(config.FeedConfig{SnapshotPath: path}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Snapshot(ctx); err == nil {
		t.Fatal("Snapshot with cancelled context succeeded, want error")
	}
}

func TestDecodeSnapshot_Empty(t *testing.T) {
	if _, err := decodeSnapshot([]byte("  \n")); err == nil {
		t.Fatal("decodeSnapshot of blank input succeeded, want error")
	}
}

func TestDecodeSnapshot_CapturedAtIgnoredForListings(t *testing.T) {
	listings, err := decodeSnapshot([]byte(`{"capturedAt": "2026-03-01T12:00:00Z", "listings": []}`))
	if err != nil {
		t.Fatalf("decodeSnapshot: %v", err)
	}
	if len(listings) != 0 {
		t.Fatalf("got %d listings, want 0", len(listings))
	}
}
