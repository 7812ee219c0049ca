package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/davidthor/vmprov/pkg/iac"
	"github.com/davidthor/vmprov/pkg/tracker"
)

// maxLogLines bounds the tool output shown for a failed stage.
const maxLogLines = 30

// ProgressPrinter displays the progress of one deployment.
// On a terminal each update rewrites the current line; otherwise every
// update is printed on its own line.
type ProgressPrinter struct {
	mu          sync.Mutex
	writer      io.Writer
	interactive bool
	last        tracker.Record
	printed     bool
	startTime   time.Time
}

// NewProgressPrinter creates a new progress printer.
func NewProgressPrinter(w io.Writer, interactive bool) *ProgressPrinter {
	return &ProgressPrinter{
		writer:      w,
		interactive: interactive,
		startTime:   time.Now(),
	}
}

// PrintUpdate prints rec unless nothing visible changed since the last one.
func (p *ProgressPrinter) PrintUpdate(rec tracker.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.printed && rec.Status == p.last.Status && rec.Progress == p.last.Progress && rec.Message == p.last.Message {
		return
	}

	line := fmt.Sprintf("%s [%3d%%] %s", statusIcon(rec.Status), rec.Progress, rec.Message)
	if p.interactive {
		fmt.Fprintf(p.writer, "\r\033[K%s", line)
		if rec.Status.Terminal() {
			fmt.Fprintln(p.writer)
		}
	} else {
		fmt.Fprintln(p.writer, line)
	}

	p.last = rec
	p.printed = true
}

// PrintFinalSummary prints the outcome of a finished deployment: its
// outputs on success, the failed stage and tool output on failure.
func (p *ProgressPrinter) PrintFinalSummary(rec tracker.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.startTime).Round(time.Millisecond)
	if rec.EndTime != nil {
		elapsed = rec.EndTime.Sub(rec.StartTime).Round(time.Millisecond)
	}

	fmt.Fprintln(p.writer)
	fmt.Fprintln(p.writer, strings.Repeat("─", 80))

	if rec.Status != tracker.StatusCompleted {
		fmt.Fprintf(p.writer, "Deployment %s failed after %s\n", rec.ID, elapsed)
		if rec.Error == nil {
			fmt.Fprintf(p.writer, "  ✗ %s\n", rec.Message)
			return
		}

		if rec.Error.Stage != "" {
			fmt.Fprintf(p.writer, "  ✗ stage %q: %s\n", rec.Error.Stage, rec.Error.Reason)
		} else {
			fmt.Fprintf(p.writer, "  ✗ %s\n", rec.Error.Reason)
		}

		if out := rec.Error.Outcome; out != nil {
			fmt.Fprintf(p.writer, "\n    Exit code: %d\n", out.ExitCode)
			p.printLogs(out.Stderr)
			if out.Stderr == "" {
				p.printLogs(out.Stdout)
			}
		}
		return
	}

	fmt.Fprintf(p.writer, "Deployment %s completed successfully in %s\n", rec.ID, elapsed)
	if len(rec.Outputs) == 0 {
		return
	}

	fmt.Fprintln(p.writer, "\nOutputs:")
	names := make([]string, 0, len(rec.Outputs))
	for name := range rec.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(p.writer, "  %s = %s\n", name, formatOutput(rec.Outputs[name]))
	}
}

func (p *ProgressPrinter) printLogs(logs string) {
	if strings.TrimSpace(logs) == "" {
		return
	}

	fmt.Fprintln(p.writer, "\n    Output:")
	lines := strings.Split(strings.TrimSpace(logs), "\n")
	// Limit to the last lines to avoid overwhelming output
	startIdx := 0
	if len(lines) > maxLogLines {
		startIdx = len(lines) - maxLogLines
		fmt.Fprintf(p.writer, "      ... (%d lines truncated)\n", startIdx)
	}
	for _, line := range lines[startIdx:] {
		fmt.Fprintf(p.writer, "      %s\n", line)
	}
}

func formatOutput(v iac.OutputValue) string {
	if v.Sensitive {
		return "(sensitive)"
	}
	if s, ok := v.Value.(string); ok {
		return s
	}
	data, err := json.Marshal(v.Value)
	if err != nil {
		return fmt.Sprint(v.Value)
	}
	return string(data)
}

func statusIcon(status tracker.Status) string {
	switch status {
	case tracker.StatusInitializing:
		return "○"
	case tracker.StatusGenerating:
		return "◔"
	case tracker.StatusDeploying:
		return "◐"
	case tracker.StatusCompleted:
		return "●"
	case tracker.StatusFailed:
		return "✗"
	default:
		return "?"
	}
}
