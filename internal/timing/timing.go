// Package timing records how long each provisioning phase takes. The
// recorder feeds three consumers: the report printed after a provision run,
// the one-line summary in the final log entry, and the total duration
// persisted in the run state file.
package timing

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// Phase is one timed span of a provisioning run.
type Phase struct {
	Name     string
	Duration time.Duration
}

// Recorder accumulates named phases. Each Mark closes the span opened by
// the previous Mark, or by New for the first one.
type Recorder struct {
	start  time.Time
	last   time.Time
	phases []Phase
}

// New creates a Recorder whose first phase starts now.
func New() *Recorder {
	now := time.Now()
	return &Recorder{start: now, last: now}
}

// Mark closes the current phase under the given name.
func (r *Recorder) Mark(name string) {
	now := time.Now()
	r.phases = append(r.phases, Phase{Name: name, Duration: now.Sub(r.last)})
	r.last = now
}

// Total returns the elapsed time since the recorder was created.
func (r *Recorder) Total() time.Duration {
	return time.Since(r.start)
}

// Phases returns a copy of the recorded phases, in order.
func (r *Recorder) Phases() []Phase {
	return append([]Phase(nil), r.phases...)
}

// Summary renders the phases as a single log-friendly line, e.g.
// "fetch image 42.0s, boot vm 8.1s, console setup 3m10s".
func (r *Recorder) Summary() string {
	var b strings.Builder
	for i, p := range r.phases {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name)
		b.WriteByte(' ')
		b.WriteString(formatDuration(p.Duration))
	}
	return b.String()
}

// Report prints a per-phase breakdown to w.
func (r *Recorder) Report(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw)
	for _, p := range r.phases {
		fmt.Fprintf(tw, "  %s\t%s\n", p.Name, formatDuration(p.Duration))
	}
	fmt.Fprintf(tw, "  total\t%s\n", formatDuration(r.Total()))
	tw.Flush()
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return d.Round(time.Second).String()
	}
}
