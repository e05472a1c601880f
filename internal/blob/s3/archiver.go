package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

// PositionSource lists closed positions eligible for archiving.
type PositionSource interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error)
}

// Archiver implements domain.Archiver. Records are grouped by the month
// they closed in and written to archive/{kind}/YYYY-MM.jsonl. A month whose
// object already exists is skipped so reruns never overwrite history.
// Archived rows stay in Postgres.
type Archiver struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	positions PositionSource
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, positions PositionSource, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		reader:    reader,
		positions: positions,
		audit:     audit,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// ArchivePositions uploads positions closed before the cutoff.
func (a *Archiver) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	positions, err := a.positions.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	byMonth := groupByMonth(positions, func(p domain.Position) time.Time {
		if p.ClosedAt != nil {
			return *p.ClosedAt
		}
		return p.OpenedAt
	})
	return a.upload(ctx, "positions", before, byMonth)
}

// ArchiveAudit uploads audit entries created before the cutoff.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	byMonth := groupByMonth(entries, func(e domain.AuditEntry) time.Time { return e.CreatedAt })
	return a.upload(ctx, "audit", before, byMonth)
}

func (a *Archiver) upload(ctx context.Context, kind string, before time.Time, byMonth map[string][]any) (int64, error) {
	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Strings(months)

	var total int64
	for _, month := range months {
		path := archivePath(kind, month)
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive %s: %w", kind, err)
		}
		if exists {
			a.logger.DebugContext(ctx, "archiver: month already archived", slog.String("path", path))
			continue
		}

		records := byMonth[month]
		buf, err := marshalJSONL(records)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
		}
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
		}
		total += int64(len(records))
		a.logger.InfoContext(ctx, "archiver: uploaded",
			slog.String("path", path),
			slog.Int("count", len(records)),
		)
	}

	if total > 0 {
		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"count":  total,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return total, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return total, nil
}

func groupByMonth[T any](records []T, at func(T) time.Time) map[string][]any {
	out := make(map[string][]any)
	for _, r := range records {
		month := at(r).UTC().Format("2006-01")
		out[month] = append(out[month], r)
	}
	return out
}

// archivePath gives e.g. archive/positions/2025-01.jsonl.
func archivePath(kind, month string) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month)
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
