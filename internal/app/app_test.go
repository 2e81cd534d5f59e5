package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-ingest-alerts/internal/alerts"
	"price-ingest-alerts/internal/config"
	"price-ingest-alerts/internal/snapshot"
)

var soybeanX = snapshot.Identity{Name: "Soybean", Region: "X"}

func testApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Snapshot:  config.SnapshotConfig{Path: filepath.Join(dir, "master.json")},
		Collector: config.CollectorConfig{Timeout: time.Minute},
		Ingest:    config.IngestConfig{Interval: time.Minute},
		Alerts:    config.AlertsConfig{Interval: time.Minute},
		Dispatch:  config.DispatchConfig{Channel: config.ChannelLog},
		Export:    config.ExportConfig{MaxDataPoints: 1000},
	}
	return NewApp(cfg, zerolog.Nop())
}

func writeStaged(t *testing.T, days int) string {
	t.Helper()
	var data []string
	for i := 0; i < days; i++ {
		data = append(data, fmt.Sprintf(`{"date":"%02d/02/2024","priceValue":%d}`, i+1, 100+i))
	}
	body := fmt.Sprintf(`{"regions":[{"name":"Soybean","region":"X","data":[%s]}]}`, strings.Join(data, ","))
	path := filepath.Join(t.TempDir(), "staged.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write staged: %v", err)
	}
	return path
}

func TestMergeFileIsIdempotent(t *testing.T) {
	a := testApp(t)
	path := writeStaged(t, 4)

	summary, err := a.MergeFile(context.Background(), MergeOptions{Path: path})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if summary.Total() != 4 {
		t.Fatalf("expected 4 added, got %d", summary.Total())
	}

	summary, err = a.MergeFile(context.Background(), MergeOptions{Path: path})
	if err != nil || summary.Total() != 0 {
		t.Fatalf("second merge should add nothing: %d / %v", summary.Total(), err)
	}

	doc, _ := a.newMasterStore().Load(context.Background())
	if doc.ObservationCount() != 4 || doc.Version != 1 {
		t.Fatalf("unexpected store count=%d version=%d", doc.ObservationCount(), doc.Version)
	}
}

func TestMergeFileDryRun(t *testing.T) {
	a := testApp(t)
	summary, err := a.MergeFile(context.Background(), MergeOptions{Path: writeStaged(t, 2), DryRun: true})
	if err != nil || summary.Total() != 2 {
		t.Fatalf("dry run: %d / %v", summary.Total(), err)
	}
	if _, err := os.Stat(a.Config.Snapshot.Path); !os.IsNotExist(err) {
		t.Fatal("dry run must not write the store")
	}
}

func TestMergeFileSyncNeedsDatabase(t *testing.T) {
	a := testApp(t)
	if _, err := a.MergeFile(context.Background(), MergeOptions{Path: writeStaged(t, 1), Sync: true}); err == nil {
		t.Fatal("sync without a database should fail")
	}
}

func TestShowRendersTable(t *testing.T) {
	a := testApp(t)
	if _, err := a.MergeFile(context.Background(), MergeOptions{Path: writeStaged(t, 3)}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	var out bytes.Buffer
	if err := a.Show(context.Background(), &out, ShowOptions{Limit: 10}); err != nil {
		t.Fatalf("show: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "Soybean") || !strings.Contains(text, "2024-02-03") || !strings.Contains(text, "102.00") {
		t.Fatalf("unexpected table:\n%s", text)
	}
	if !strings.Contains(text, "1 products, 3 observations") {
		t.Fatalf("missing totals:\n%s", text)
	}
}

func TestShowEmptyStore(t *testing.T) {
	var out bytes.Buffer
	if err := testApp(t).Show(context.Background(), &out, ShowOptions{}); err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out.String(), "empty") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestExportCSVAndPNG(t *testing.T) {
	a := testApp(t)
	if _, err := a.MergeFile(context.Background(), MergeOptions{Path: writeStaged(t, 5)}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	dir := t.TempDir()
	opts := ExportOptions{
		Product: soybeanX,
		From:    "02/02/2024",
		To:      "2024-02-04",
		CSVPath: filepath.Join(dir, "out", "history.csv"),
		PNGPath: filepath.Join(dir, "out", "history.png"),
	}
	if err := a.Export(context.Background(), opts); err != nil {
		t.Fatalf("export: %v", err)
	}

	file, err := os.Open(opts.CSVPath)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 4 || records[1][0] != "2024-02-02" || records[3][2] != "103" {
		t.Fatalf("unexpected csv %v", records)
	}

	info, err := os.Stat(opts.PNGPath)
	if err != nil || info.Size() == 0 {
		t.Fatalf("png not written: %v", err)
	}
}

func TestExportUnknownProduct(t *testing.T) {
	a := testApp(t)
	err := a.Export(context.Background(), ExportOptions{Product: soybeanX, CSVPath: filepath.Join(t.TempDir(), "x.csv")})
	if err == nil {
		t.Fatal("unknown product should fail")
	}
}

func TestDownsampleKeepsEnds(t *testing.T) {
	history := make([]snapshot.Observation, 10)
	for i := range history {
		history[i] = snapshot.Observation{Date: fmt.Sprintf("2024-01-%02d", i+1), Price: decimal.NewFromInt(int64(i))}
	}
	got := downsample(history, 4)
	if len(got) != 4 || got[0].Date != "2024-01-01" || got[3].Date != "2024-01-10" {
		t.Fatalf("unexpected downsample %+v", got)
	}
	if len(downsample(history, 0)) != 10 {
		t.Fatal("non-positive max keeps everything")
	}
}

func TestSelectWindowRejectsInvertedRange(t *testing.T) {
	if _, err := selectWindow(nil, "2024-02-05", "2024-02-01"); err == nil {
		t.Fatal("inverted range should fail")
	}
	if _, err := selectWindow(nil, "yesterday", ""); err == nil {
		t.Fatal("bad date should fail")
	}
}

func TestSimulateAlert(t *testing.T) {
	a := testApp(t)
	alert := alerts.PendingAlert{Product: soybeanX, TargetPrice: decimal.NewFromInt(90), Condition: alerts.Above}

	stats, err := a.SimulateAlert(context.Background(), alert, decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if stats.Notified != 1 {
		t.Fatalf("expected one notification, got %+v", stats)
	}

	if _, err := a.SimulateAlert(context.Background(), alert, decimal.NewFromInt(80)); err == nil {
		t.Fatal("unsatisfied condition should be reported")
	}
}

func TestOneShotCommandsNeedConfiguration(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()
	if _, err := a.IngestOnce(ctx); err == nil {
		t.Fatal("ingest without collector.command should fail")
	}
	if _, err := a.EvaluateOnce(ctx); err == nil {
		t.Fatal("evaluate without a database should fail")
	}
	if _, err := a.Migrate(ctx); err == nil {
		t.Fatal("migrate without a database should fail")
	}
	if _, err := a.AddAlert(ctx, alerts.PendingAlert{Product: soybeanX, TargetPrice: decimal.NewFromInt(1), Condition: alerts.Below}); err == nil {
		t.Fatal("add alert without a database should fail")
	}
	if _, err := a.AddAlert(ctx, alerts.PendingAlert{Product: soybeanX}); err == nil {
		t.Fatal("zero target should be rejected")
	}
}

func TestIngestOnceWithCommandCollector(t *testing.T) {
	a := testApp(t)
	dir := t.TempDir()
	staging := filepath.Join(dir, "staged.json")
	body := `{"regions":[{"name":"Soybean","region":"X","data":[{"date":"2024-02-01","priceValue":"10.5"}]}]}`
	a.Config.Collector = config.CollectorConfig{
		Command:     "sh",
		Args:        []string{"-c", fmt.Sprintf("printf '%%s' '%s' > %s", body, staging)},
		StagingPath: staging,
		Timeout:     10 * time.Second,
	}

	res, err := a.IngestOnce(context.Background())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Added != 1 {
		t.Fatalf("expected one observation, got %+v", res)
	}
	if _, err := os.Stat(staging); !os.IsNotExist(err) {
		t.Fatal("staged output should be cleared")
	}
}
