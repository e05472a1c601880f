package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

func TestDSN(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", User: "bot", Password: "p@ss/w", Database: "dexsniper"})
	want := "postgres://bot:p%40ss%2Fw@db:5432/dexsniper?sslmode=disable"
	if got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}
	if got := DSN(ClientConfig{DSN: " postgres://x ", Host: "ignored"}); got != "postgres://x" {
		t.Fatalf("explicit DSN = %q", got)
	}
}

func TestListClause(t *testing.T) {
	since := time.Unix(100, 0)
	q, args := listClause("SELECT * FROM positions WHERE account = $1", []any{"alice"}, "opened_at", "id",
		domain.ListOpts{Since: &since, Limit: 10, Offset: 20}, "DESC")
	if !strings.HasSuffix(q, "AND opened_at >= $2 ORDER BY opened_at DESC, id DESC LIMIT $3 OFFSET $4") {
		t.Fatalf("query = %q", q)
	}
	if len(args) != 4 || args[2] != 10 || args[3] != 20 {
		t.Fatalf("args = %v", args)
	}
}

func TestListClauseKeyset(t *testing.T) {
	at := time.Unix(200, 0)
	q, args := listClause("SELECT * FROM positions WHERE 1=1", nil, "opened_at", "id",
		domain.ListOpts{After: &domain.Cursor{At: at, ID: "p7"}, Limit: 50}, "DESC")
	if !strings.HasSuffix(q, "AND (opened_at, id) < ($1, $2) ORDER BY opened_at DESC, id DESC LIMIT $3") {
		t.Fatalf("query = %q", q)
	}
	if len(args) != 3 || args[0] != at || args[1] != "p7" || args[2] != 50 {
		t.Fatalf("args = %v", args)
	}

	q, _ = listClause("SELECT * FROM positions WHERE 1=1", nil, "opened_at", "id",
		domain.ListOpts{After: &domain.Cursor{At: at, ID: "p7"}}, "ASC")
	if !strings.Contains(q, "(opened_at, id) > ($1, $2)") {
		t.Fatalf("query = %q", q)
	}
}
