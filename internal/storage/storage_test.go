package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-ingest-alerts/internal/snapshot"
)

func obs(date, tm string, price int64) snapshot.Observation {
	return snapshot.Observation{Date: date, Time: tm, Price: decimal.NewFromInt(price)}
}

func TestBuildProductRows(t *testing.T) {
	doc := &snapshot.Document{Regions: []snapshot.Entry{
		{Name: "Soybean", Region: "X", Data: []snapshot.Observation{
			obs("2024-02-03", "", 103),
			obs("2024-02-01", "", 101),
			obs("2024-02-03", "09:00", 99),
		}},
		{Name: "Maize", Region: "Y", Data: []snapshot.Observation{obs("2024-02-01", "", 50)}},
		{Name: "Empty", Region: "Z"},
	}}

	rows := BuildProductRows(doc)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	soy := rows[0]
	if !soy.CurrentPrice.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("current price should come from the latest time of day, got %s", soy.CurrentPrice)
	}
	if soy.PreviousPrice == nil || !soy.PreviousPrice.Equal(decimal.NewFromInt(103)) {
		t.Fatalf("unexpected previous price %v", soy.PreviousPrice)
	}
	if soy.LastObserved != "2024-02-03" || len(soy.History) != 3 {
		t.Fatalf("unexpected row %+v", soy)
	}
	if soy.History[0].Date != "2024-02-01" {
		t.Fatalf("history should be chronological: %+v", soy.History)
	}

	maize := rows[1]
	if maize.PreviousPrice != nil {
		t.Fatalf("single observation has no previous price: %v", maize.PreviousPrice)
	}
}

func TestBuildProductRowsMixedHourWidths(t *testing.T) {
	doc := &snapshot.Document{Regions: []snapshot.Entry{
		{Name: "Rice", Region: "X", Data: []snapshot.Observation{
			obs("2024-01-01", "10:00", 120),
			obs("2024-01-01", "9:00", 100),
		}},
	}}

	rows := BuildProductRows(doc)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if !rows[0].CurrentPrice.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("current price should be the 10:00 sample, got %s", rows[0].CurrentPrice)
	}
	if rows[0].PreviousPrice == nil || !rows[0].PreviousPrice.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("previous price should be the 9:00 sample, got %v", rows[0].PreviousPrice)
	}
}

func TestBuildProductRowsNil(t *testing.T) {
	if rows := BuildProductRows(nil); rows != nil {
		t.Fatalf("expected nil rows, got %v", rows)
	}
}

func TestMigrationFilesSorted(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002_b.sql", "001_a.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "003_dir.sql"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	files, err := migrationFiles(dir)
	if err != nil {
		t.Fatalf("migrationFiles: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "001_a.sql" || filepath.Base(files[1]) != "002_b.sql" {
		t.Fatalf("unexpected files %v", files)
	}
}

func TestRepoMigrationsPresent(t *testing.T) {
	files, err := migrationFiles(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("read repo migrations: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("expected at least one migration")
	}
}

func TestUnconfiguredStore(t *testing.T) {
	store := NewStore(nil, zerolog.Nop())
	ctx := context.Background()

	if err := store.SyncProducts(ctx, snapshot.NewDocument()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := store.CurrentPrice(ctx, snapshot.Identity{Name: "a", Region: "b"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := store.ListPending(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, _, err := store.TryAdvisoryLock(ctx, 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
