package manager

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"jobforge/internal/apperrors"
)

// Common job states. Backends map their native states to these.
const (
	StatusPending  = "pending"  // submitted, waiting to be processed
	StatusRunning  = "running"  // running
	StatusFinished = "finished" // completed successfully
	StatusRetry    = "retry"    // completed but failed, can be resubmitted
	StatusFailed   = "failed"   // completed but failed, should not be recovered
)

// StatusNames lists all common states in the fixed order used by count
// vectors and the status line.
var StatusNames = []string{StatusPending, StatusRunning, StatusFinished, StatusRetry, StatusFailed}

// StatusRecord describes the status of a single job as returned by a query.
// A zero JobID or nil ExitCode is the explicit "missing" marker.
type StatusRecord struct {
	JobID    string
	Status   string
	ExitCode *int
	Error    string
}

// NewStatusRecord builds a record, leaving absent fields at their explicit
// missing markers.
func NewStatusRecord(jobID, status string, exitCode *int, errMsg string) StatusRecord {
	return StatusRecord{JobID: jobID, Status: status, ExitCode: exitCode, Error: errMsg}
}

// CountStatuses folds query results into a count vector in StatusNames
// order. Results carrying an error are counted as failed.
func CountStatuses(results map[string]QueryResult) []int {
	idx := make(map[string]int, len(StatusNames))
	for i, name := range StatusNames {
		idx[name] = i
	}
	counts := make([]int, len(StatusNames))
	for _, res := range results {
		if res.Err != nil {
			counts[idx[StatusFailed]]++
			continue
		}
		if i, ok := idx[res.Record.Status]; ok {
			counts[i]++
		}
	}
	return counts
}

var (
	countStyle   = lipgloss.NewStyle().Bold(true)
	diffUpGood   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	diffUpBad    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	diffUpFatal  = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	diffDownGood = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	plainStyle   = lipgloss.NewStyle()
)

// diffStyles maps each status to its (decrease, stagnate, increase) styles.
// A shrinking retry count is a good sign; growing retry/failed counts are not.
var diffStyles = map[string][3]lipgloss.Style{
	StatusPending:  {plainStyle, plainStyle, diffUpGood},
	StatusRunning:  {plainStyle, plainStyle, diffUpGood},
	StatusFinished: {plainStyle, plainStyle, diffUpGood},
	StatusRetry:    {diffDownGood, plainStyle, diffUpBad},
	StatusFailed:   {plainStyle, plainStyle, diffUpFatal},
}

// statusLineOptions configures StatusLine.
type statusLineOptions struct {
	lastCounts []int
	sumCounts  *int
	timestamp  bool
	timeLayout string
	align      int
	color      bool
}

// StatusLineOption is a functional option for StatusLine.
type StatusLineOption func(*statusLineOptions)

// WithLastCounts supplies an explicit prior vector for the delta computation,
// instead of the manager's rolling baseline.
func WithLastCounts(counts []int) StatusLineOption {
	return func(o *statusLineOptions) { o.lastCounts = counts }
}

// WithSumCounts overrides the leading "all" value.
func WithSumCounts(sum int) StatusLineOption {
	return func(o *statusLineOptions) { o.sumCounts = &sum }
}

// WithTimestamp toggles the leading timestamp.
func WithTimestamp(enabled bool) StatusLineOption {
	return func(o *statusLineOptions) { o.timestamp = enabled }
}

// WithTimeLayout sets a custom timestamp layout and implies WithTimestamp(true).
func WithTimeLayout(layout string) StatusLineOption {
	return func(o *statusLineOptions) {
		o.timestamp = true
		o.timeLayout = layout
	}
}

// WithAlign pads counts and deltas to the given width. 0 disables alignment.
func WithAlign(width int) StatusLineOption {
	return func(o *statusLineOptions) { o.align = width }
}

// WithColor enables styled counts and sign-colored deltas.
func WithColor(enabled bool) StatusLineOption {
	return func(o *statusLineOptions) { o.color = enabled }
}

// StatusLine formats a job count vector into a single human-readable line,
// e.g.
//
//	12:45:18: all: 2, pending: 0 (-2), running: 2 (+2), finished: 0 (+0), retry: 0 (+0), failed: 0 (+0)
//
// Deltas are shown against the explicit prior vector if supplied, else
// against the manager's rolling baseline from the previous call (no deltas on
// the very first call). Every call overwrites the rolling baseline with the
// vector just reported, whether or not an explicit prior vector was used.
// A counts length that does not match StatusNames is a contract violation.
func (m *Manager) StatusLine(counts []int, opts ...StatusLineOption) (string, error) {
	o := statusLineOptions{timestamp: true, timeLayout: "15:04:05"}
	for _, opt := range opts {
		opt(&o)
	}

	if len(counts) != len(StatusNames) {
		return "", apperrors.Validation("counts",
			fmt.Sprintf("%d status counts expected, got %d", len(StatusNames), len(counts)))
	}

	if o.lastCounts != nil && len(o.lastCounts) != len(StatusNames) {
		return "", apperrors.Validation("lastCounts",
			fmt.Sprintf("%d last status counts expected, got %d", len(StatusNames), len(o.lastCounts)))
	}

	m.mu.Lock()
	last := o.lastCounts
	if last == nil {
		last = m.lastCounts
	}
	m.lastCounts = append([]int(nil), counts...)
	m.mu.Unlock()

	countFmt := "%d"
	diffFmt := "%+d"
	if o.align > 0 {
		countFmt = fmt.Sprintf("%%%dd", o.align)
		diffFmt = fmt.Sprintf("%%+%dd", o.align)
	}

	var b strings.Builder
	if o.timestamp {
		b.WriteString(time.Now().Format(o.timeLayout))
		b.WriteString(": ")
	}

	sum := 0
	for _, c := range counts {
		sum += c
	}
	if o.sumCounts != nil {
		sum = *o.sumCounts
	}
	b.WriteString("all: ")
	b.WriteString(fmt.Sprintf(countFmt, sum))

	for i, name := range StatusNames {
		count := fmt.Sprintf(countFmt, counts[i])
		if o.color {
			count = countStyle.Render(count)
		}
		b.WriteString(", ")
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(count)

		if last != nil {
			d := counts[i] - last[i]
			diff := fmt.Sprintf(diffFmt, d)
			if o.color {
				// 0 if decreasing, 1 if stagnating, 2 if increasing
				styleIdx := 1
				if d < 0 {
					styleIdx = 0
				} else if d > 0 {
					styleIdx = 2
				}
				diff = diffStyles[name][styleIdx].Render(diff)
			}
			b.WriteString(" (")
			b.WriteString(diff)
			b.WriteString(")")
		}
	}

	return b.String(), nil
}
