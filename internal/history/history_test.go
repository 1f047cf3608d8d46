package history

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/hferrone/chargectl/internal/battery"
)

func intp(v int) *int           { return &v }
func boolp(v bool) *bool        { return &v }
func floatp(v float64) *float64 { return &v }

func readOnlyCSV(t *testing.T, dir string) [][]string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one history file, found %d", len(entries))
	}
	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("opening history: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parsing csv: %v", err)
	}
	return rows
}

func TestRecorderWritesRows(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, true)
	defer r.Close()

	r.Record(battery.Status{
		ChargePercent: intp(72),
		IsCharging:    boolp(true),
		IsPluggedIn:   boolp(true),
		TemperatureC:  floatp(30.5),
		CycleCount:    intp(143),
		HealthRatio:   floatp(0.915),
		ChargeLimit:   intp(80),
	})

	rows := readOnlyCSV(t, dir)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want header + 1", len(rows))
	}
	if rows[0][0] != "timestamp" || rows[0][1] != "charge_pct" {
		t.Errorf("header = %v", rows[0])
	}
	got := rows[1]
	want := []string{"72", "1", "1", "30.50", "143", "0.915", "80"}
	for i, w := range want {
		if got[i+1] != w {
			t.Errorf("column %d = %q, want %q", i+1, got[i+1], w)
		}
	}
}

func TestRecorderEmptyCellsForMissingFields(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, true)
	defer r.Close()

	r.Record(battery.Status{ChargeLimit: intp(80)})

	rows := readOnlyCSV(t, dir)
	got := rows[1]
	for i := 1; i <= 6; i++ {
		if got[i] != "" {
			t.Errorf("column %d = %q, want empty", i, got[i])
		}
	}
	if got[7] != "80" {
		t.Errorf("charge_limit = %q, want 80", got[7])
	}
}

func TestRecorderDisabled(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, false)
	defer r.Close()

	r.Record(battery.Status{ChargePercent: intp(50)})

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("disabled recorder created %d files", len(entries))
	}
}
