package s3blob

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

type memBlob struct {
	objects map[string][]byte
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type closedSource []domain.Position

func (s closedSource) ListClosedBefore(_ context.Context, before time.Time) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range s {
		if p.ClosedAt != nil && p.ClosedAt.Before(before) {
			out = append(out, p)
		}
	}
	return out, nil
}

type memAudit struct {
	entries []domain.AuditEntry
	logged  []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.logged = append(m.logged, event)
	return nil
}

func (m *memAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, e := range m.entries {
		if opts.Until == nil || e.CreatedAt.Before(*opts.Until) {
			out = append(out, e)
		}
	}
	return out, nil
}

func closedAt(id string, t time.Time) domain.Position {
	return domain.Position{
		ID:          id,
		Status:      domain.PositionStatusClosed,
		ExitReason:  domain.ExitStopLoss,
		RealizedPnL: decimal.NewFromInt(-5),
		ClosedAt:    &t,
	}
}

func TestArchivePositionsGroupsByMonth(t *testing.T) {
	blob := &memBlob{objects: map[string][]byte{}}
	audit := &memAudit{}
	src := closedSource{
		closedAt("a", time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)),
		closedAt("b", time.Date(2025, 1, 28, 0, 0, 0, 0, time.UTC)),
		closedAt("c", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)),
		closedAt("d", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
	}
	a := NewArchiver(blob, blob, src, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := a.ArchivePositions(context.Background(), time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ArchivePositions: %v", err)
	}
	if n != 3 {
		t.Fatalf("archived %d, want 3", n)
	}

	jan := blob.objects["archive/positions/2025-01.jsonl"]
	lines := strings.Split(strings.TrimSpace(string(jan)), "\n")
	if len(lines) != 2 {
		t.Fatalf("january lines = %d, want 2", len(lines))
	}
	var p domain.Position
	if err := json.Unmarshal([]byte(lines[0]), &p); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if p.ID != "a" || !p.RealizedPnL.Equal(decimal.NewFromInt(-5)) {
		t.Fatalf("decoded %+v", p)
	}
	if _, ok := blob.objects["archive/positions/2025-02.jsonl"]; !ok {
		t.Fatal("february archive missing")
	}
	if len(audit.logged) != 1 || audit.logged[0] != "archive.positions" {
		t.Fatalf("audit events = %v", audit.logged)
	}
}

func TestArchiveSkipsExistingMonth(t *testing.T) {
	blob := &memBlob{objects: map[string][]byte{
		"archive/positions/2025-01.jsonl": []byte("kept\n"),
	}}
	audit := &memAudit{}
	src := closedSource{closedAt("a", time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC))}
	a := NewArchiver(blob, blob, src, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := a.ArchivePositions(context.Background(), time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ArchivePositions: %v", err)
	}
	if n != 0 {
		t.Fatalf("archived %d, want 0", n)
	}
	if string(blob.objects["archive/positions/2025-01.jsonl"]) != "kept\n" {
		t.Fatal("existing archive was overwritten")
	}
	if len(audit.logged) != 0 {
		t.Fatalf("unexpected audit events %v", audit.logged)
	}
}

func TestArchiveAudit(t *testing.T) {
	blob := &memBlob{objects: map[string][]byte{}}
	audit := &memAudit{entries: []domain.AuditEntry{
		{ID: 1, Event: "position.opened", CreatedAt: time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)},
		{ID: 2, Event: "position.closed", CreatedAt: time.Date(2025, 8, 2, 0, 0, 0, 0, time.UTC)},
	}}
	a := NewArchiver(blob, blob, closedSource{}, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := a.ArchiveAudit(context.Background(), time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ArchiveAudit: %v", err)
	}
	if n != 1 {
		t.Fatalf("archived %d, want 1", n)
	}
	if _, ok := blob.objects["archive/audit/2025-04.jsonl"]; !ok {
		t.Fatal("april audit archive missing")
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	cases := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"https://s3.example.com", false, "https://s3.example.com"},
		{"minio.local", false, "http://minio.local"},
		{"e2.example.com", true, "https://e2.example.com"},
	}
	for _, c := range cases {
		if got := normaliseEndpoint(c.in, c.useSSL); got != c.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", c.in, c.useSSL, got, c.want)
		}
	}
}
