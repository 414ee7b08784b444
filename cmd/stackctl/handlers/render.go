package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/imamik/stackctl/internal/audit"
	"github.com/imamik/stackctl/internal/breaker"
	"github.com/imamik/stackctl/internal/ledger"
	"github.com/imamik/stackctl/internal/orchestration"
)

var (
	colorGreen  = lipgloss.Color("#22c55e")
	colorRed    = lipgloss.Color("#ef4444")
	colorYellow = lipgloss.Color("#eab308")
	colorBlue   = lipgloss.Color("#3b82f6")
	colorDim    = lipgloss.Color("#6b7280")
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	headStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorBlue)
	dimStyle   = lipgloss.NewStyle().Foreground(colorDim)
	okStyle    = lipgloss.NewStyle().Foreground(colorGreen)
	failStyle  = lipgloss.NewStyle().Foreground(colorRed)
	warnStyle  = lipgloss.NewStyle().Foreground(colorYellow)
)

// isTerminal is replaced in tests.
var isTerminal = func(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// printer renders styled text on terminals and plain text elsewhere.
type printer struct {
	w      io.Writer
	styled bool
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, styled: isTerminal(w)}
}

func (p *printer) render(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) stateStyle(state orchestration.StepState) lipgloss.Style {
	switch state {
	case orchestration.StepSucceeded:
		return okStyle
	case orchestration.StepFailed:
		return failStyle
	case orchestration.StepSkipped:
		return warnStyle
	default:
		return dimStyle
	}
}

// renderWorkflowResult prints one run with its steps and rollback outcome.
func (p *printer) renderWorkflowResult(name string, res *orchestration.WorkflowResult) {
	status := p.render(okStyle, string(res.Status))
	if !res.Succeeded() {
		status = p.render(failStyle, string(res.Status))
	}
	p.printf("\n%s %s\n", p.render(titleStyle, "Workflow "+name), status)
	p.printf("  %s %s\n", p.render(dimStyle, "correlation:"), res.CorrelationID)
	p.printf("  %s %s (%s)\n", p.render(dimStyle, "transaction:"), res.TransactionID, res.TransactionStatus)
	p.printf("  %s %s\n", p.render(dimStyle, "duration:   "), res.Duration.Round(time.Millisecond))

	p.printf("\n  %s\n", p.render(headStyle, "Steps"))
	for _, s := range res.Steps {
		line := fmt.Sprintf("    %-24s %-10s", s.Name, p.render(p.stateStyle(s.State), string(s.State)))
		if s.Resource != nil {
			line += " " + s.Resource.String()
		}
		if n := len(s.Attempts); n > 1 {
			line += p.render(dimStyle, fmt.Sprintf(" (%d attempts)", n))
		}
		p.printf("%s\n", line)
		if s.Error != "" {
			p.printf("      %s\n", p.render(dimStyle, s.Error))
		}
	}

	if rb := res.Rollback; rb != nil {
		p.printf("\n  %s %s\n", p.render(headStyle, "Rollback"), rb.Status)
		for _, e := range rb.Compensated {
			p.printf("    %s %s/%s\n", p.render(okStyle, "undone "), e.ResourceType, e.ResourceID)
		}
		for _, e := range rb.Skipped {
			p.printf("    %s %s/%s\n", p.render(dimStyle, "kept   "), e.ResourceType, e.ResourceID)
		}
	}
	if len(res.ManualCleanup) > 0 {
		p.printf("\n  %s\n", p.render(failStyle, "Manual cleanup required"))
		for _, c := range res.ManualCleanup {
			p.printf("    %s\n", c)
		}
		p.printf("  %s\n", p.render(dimStyle, "Run: stackctl cleanup --correlation-id "+res.CorrelationID))
	}
}

// renderBreakers prints the state of every circuit.
func (p *printer) renderBreakers(snaps []breaker.Snapshot) {
	if len(snaps) == 0 {
		return
	}
	p.printf("\n%s\n", p.render(titleStyle, "Circuit breakers"))
	for _, s := range snaps {
		style := okStyle
		switch s.State {
		case breaker.Open:
			style = failStyle
		case breaker.HalfOpen:
			style = warnStyle
		}
		p.printf("  %-20s %-10s %s\n", s.Key, p.render(style, s.State.String()),
			p.render(dimStyle, fmt.Sprintf("%d consecutive failures", s.ConsecutiveFailures)))
	}
}

// renderEvents prints audit events one per line.
func (p *printer) renderEvents(events []audit.Event) {
	for _, ev := range events {
		sev := p.render(dimStyle, string(ev.Severity))
		switch ev.Severity {
		case audit.SeverityWarning:
			sev = p.render(warnStyle, string(ev.Severity))
		case audit.SeverityError:
			sev = p.render(failStyle, string(ev.Severity))
		}
		p.printf("%6d %s %-7s %-22s %s%s\n", ev.Seq, ev.Time.Format(time.RFC3339), sev, ev.Type, ev.Message, formatFields(ev.Fields))
	}
}

func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

// renderTransaction prints a ledger transaction.
func (p *printer) renderTransaction(tx *ledger.Transaction) {
	p.printf("%s %s\n", p.render(titleStyle, "Transaction"), tx.ID)
	p.printf("  %s %s\n", p.render(dimStyle, "correlation:"), tx.CorrelationID)
	p.printf("  %s %s\n", p.render(dimStyle, "status:     "), tx.Status)
	p.printf("  %s %s\n", p.render(dimStyle, "started:    "), tx.StartedAt.Format(time.RFC3339))
	if !tx.FinishedAt.IsZero() {
		p.printf("  %s %s\n", p.render(dimStyle, "finished:   "), tx.FinishedAt.Format(time.RFC3339))
	}
	if len(tx.Entries) == 0 {
		return
	}
	p.printf("\n  %s\n", p.render(headStyle, "Entries"))
	for _, e := range tx.Entries {
		mark := ""
		if tx.Compensated[e.Seq] {
			mark = p.render(dimStyle, " (compensated)")
		}
		p.printf("    %3d %-24s %s/%s%s\n", e.Seq, e.Step, e.ResourceType, e.ResourceID, mark)
	}
}
