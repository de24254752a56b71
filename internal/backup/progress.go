package backup

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// Progress phases.
const (
	PhaseDatabase = "database"
	PhaseConfig   = "config"
	PhaseData     = "data"
	PhaseLogs     = "logs"
	PhaseImages   = "images"
	PhaseCompress = "compress"
	PhaseRestore  = "restore"
	PhaseDone     = "done"
	PhaseError    = "error"
)

// Progress reports how far a create or restore has got.
type Progress struct {
	Phase        string
	BackupID     string
	Item         string
	ItemsDone    int
	BytesWritten int64
	StartTime    time.Time
	Error        error
}

// ProgressFunc is called at every phase change and after each captured item.
type ProgressFunc func(Progress)

// countingWriter wraps an io.Writer to track bytes written.
type countingWriter struct {
	w       io.Writer
	written *atomic.Int64
}

func newCountingWriter(w io.Writer, counter *atomic.Int64) *countingWriter {
	return &countingWriter{w: w, written: counter}
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.written.Add(int64(n))
	return n, err
}

// FormatBytes formats bytes as human-readable string.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration formats duration as human-readable string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// WriterProgressFunc returns a ProgressFunc that prints one line per update to w.
func WriterProgressFunc(w io.Writer) ProgressFunc {
	return func(p Progress) {
		switch p.Phase {
		case PhaseDatabase, PhaseConfig, PhaseData, PhaseLogs, PhaseImages:
			if p.Item == "" {
				fmt.Fprintf(w, "[%s] capturing\n", p.Phase)
				return
			}
			fmt.Fprintf(w, "[%s] %s\n", p.Phase, p.Item)
		case PhaseCompress:
			fmt.Fprintf(w, "[compress] %s written\n", FormatBytes(p.BytesWritten))
		case PhaseRestore:
			fmt.Fprintf(w, "[restore] %s\n", p.Item)
		case PhaseDone:
			fmt.Fprintf(w, "[done] %s in %s\n", p.BackupID, FormatDuration(time.Since(p.StartTime)))
		case PhaseError:
			fmt.Fprintf(w, "[error] %v\n", p.Error)
		}
	}
}
