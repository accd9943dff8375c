package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/davonroy/oddsmesh/internal/domain"
)

// multipartThreshold is the payload size above which snapshot uploads switch
// to multipart. Large venue snapshots cross this during busy sports weekends.
const multipartThreshold = 8 * 1024 * 1024

// archivedSnapshot is the stored shape of an epoch's raw input. It matches
// the wrapped snapshot format the file feed source accepts, so an archived
// epoch can be replayed by pointing the feed at a downloaded copy.
type archivedSnapshot struct {
	EpochID    string              `json:"epochId"`
	CapturedAt time.Time           `json:"capturedAt"`
	Listings   []domain.RawListing `json:"listings"`
}

// archivedSignals is the stored shape of an epoch's emitted signals.
type archivedSignals struct {
	EpochID    string                   `json:"epochId"`
	ArchivedAt time.Time                `json:"archivedAt"`
	Signals    []domain.ArbitrageSignal `json:"signals"`
}

// Archiver copies epoch inputs and outputs to object storage. Every emitted
// signal stays re-derivable: the exact raw snapshot that produced it is
// retrievable under the epoch id.
type Archiver struct {
	writer domain.ObjectWriter
	reader domain.ObjectReader
	logger *slog.Logger
	now    func() time.Time
}

// NewArchiver creates an Archiver over the given object reader and writer.
func NewArchiver(writer domain.ObjectWriter, reader domain.ObjectReader, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		logger: logger.With(slog.String("component", "archiver")),
		now:    time.Now,
	}
}

func snapshotPath(epochID string) string {
	return "epochs/" + epochID + "/snapshot.json"
}

func signalsPath(epochID string) string {
	return "epochs/" + epochID + "/signals.json"
}

// ArchiveSnapshot uploads the epoch's raw listing snapshot and returns the
// blob path.
func (a *Archiver) ArchiveSnapshot(ctx context.Context, epochID string, raw []domain.RawListing) (string, error) {
	payload := archivedSnapshot{
		EpochID:    epochID,
		CapturedAt: a.now().UTC(),
		Listings:   raw,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal snapshot for %s: %w", epochID, err)
	}

	path := snapshotPath(epochID)
	if len(data) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(data), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(data), "application/json")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot for %s: %w", epochID, err)
	}

	a.logger.Debug("snapshot archived",
		slog.String("epoch_id", epochID),
		slog.String("path", path),
		slog.Int("bytes", len(data)))
	return path, nil
}

// ArchiveSignals uploads the epoch's emitted signals and returns the blob
// path. An epoch that emitted nothing still archives an empty set, so a
// missing object always means the epoch never flushed.
func (a *Archiver) ArchiveSignals(ctx context.Context, epochID string, signals []domain.ArbitrageSignal) (string, error) {
	payload := archivedSignals{
		EpochID:    epochID,
		ArchivedAt: a.now().UTC(),
		Signals:    signals,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal signals for %s: %w", epochID, err)
	}

	path := signalsPath(epochID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive signals for %s: %w", epochID, err)
	}

	a.logger.Debug("signals archived",
		slog.String("epoch_id", epochID),
		slog.String("path", path),
		slog.Int("count", len(signals)))
	return path, nil
}

// HasSnapshot reports whether the epoch's raw snapshot is still archived.
func (a *Archiver) HasSnapshot(ctx context.Context, epochID string) (bool, error) {
	return a.reader.Exists(ctx, snapshotPath(epochID))
}

// Prune deletes every archived object last modified before olderThan and
// returns how many went. A delete failure is logged and skipped; the object
// comes up again on the next prune.
func (a *Archiver) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	objects, err := a.reader.List(ctx, "epochs/")
	if err != nil {
		return 0, fmt.Errorf("s3blob: list archive: %w", err)
	}

	pruned := 0
	for _, obj := range objects {
		if !obj.LastModified.Before(olderThan) {
			continue
		}
		if err := a.writer.Delete(ctx, obj.Key); err != nil {
			a.logger.Warn("archive delete failed",
				slog.String("key", obj.Key),
				slog.String("error", err.Error()))
			continue
		}
		pruned++
	}
	return pruned, nil
}

// ReadSnapshot downloads and decodes the raw snapshot archived for an epoch.
// Returns domain.ErrNotFound when the epoch was never archived.
func (a *Archiver) ReadSnapshot(ctx context.Context, epochID string) ([]domain.RawListing, error) {
	body, err := a.reader.Get(ctx, snapshotPath(epochID))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read snapshot for %s: %w", epochID, err)
	}

	var payload archivedSnapshot
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("s3blob: decode snapshot for %s: %w", epochID, err)
	}
	return payload.Listings, nil
}

var _ domain.Archiver = (*Archiver)(nil)
