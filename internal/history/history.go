// Package history records timestamped battery snapshots to CSV files
// with automatic rotation, for charting and support bundles.
package history

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hferrone/chargectl/internal/battery"
)

// Recorder appends battery snapshots to a CSV file, rotating when the
// file grows past maxRowsPerFile.
type Recorder struct {
	mu      sync.Mutex
	dir     string
	enabled bool

	file   *os.File
	writer *csv.Writer
	rows   int
}

// Rotate after 100k rows (~5.7 days at the default 5s poll interval).
const maxRowsPerFile = 100_000

var csvHeader = []string{
	"timestamp", "charge_pct", "charging", "plugged_in",
	"temp_c", "cycle_count", "health_ratio", "charge_limit",
}

// New creates a Recorder writing under dir. A disabled recorder is
// valid and drops every record.
func New(dir string, enabled bool) *Recorder {
	return &Recorder{dir: dir, enabled: enabled}
}

// Record appends one snapshot. Unavailable fields become empty cells.
func (r *Recorder) Record(st battery.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return
	}

	if r.writer == nil || r.rows >= maxRowsPerFile {
		if err := r.rotate(time.Now()); err != nil {
			log.Printf("[history] rotate failed: %v", err)
			return
		}
	}

	if err := r.writer.Write(buildRow(time.Now(), st)); err != nil {
		log.Printf("[history] write failed: %v", err)
		return
	}
	r.writer.Flush()
	r.rows++
}

// Close flushes and closes the current file.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeFile()
}

func (r *Recorder) rotate(now time.Time) error {
	r.closeFile()

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", r.dir, err)
	}

	path := filepath.Join(r.dir, fmt.Sprintf("battery_%s.csv", now.Format("2006-01-02_150405")))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	r.file = f
	r.writer = csv.NewWriter(f)
	r.rows = 0

	if err := r.writer.Write(csvHeader); err != nil {
		return err
	}
	r.writer.Flush()

	log.Printf("[history] opened %s", path)
	return nil
}

func (r *Recorder) closeFile() {
	if r.writer != nil {
		r.writer.Flush()
		r.writer = nil
	}
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
}

func buildRow(ts time.Time, st battery.Status) []string {
	row := make([]string, len(csvHeader))
	row[0] = ts.Format(time.RFC3339)
	if st.ChargePercent != nil {
		row[1] = fmt.Sprintf("%d", *st.ChargePercent)
	}
	if st.IsCharging != nil {
		row[2] = boolStr(*st.IsCharging)
	}
	if st.IsPluggedIn != nil {
		row[3] = boolStr(*st.IsPluggedIn)
	}
	if st.TemperatureC != nil {
		row[4] = fmt.Sprintf("%.2f", *st.TemperatureC)
	}
	if st.CycleCount != nil {
		row[5] = fmt.Sprintf("%d", *st.CycleCount)
	}
	if st.HealthRatio != nil {
		row[6] = fmt.Sprintf("%.3f", *st.HealthRatio)
	}
	if st.ChargeLimit != nil {
		row[7] = fmt.Sprintf("%d", *st.ChargeLimit)
	}
	return row
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
