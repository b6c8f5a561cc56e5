// Package report renders graphs, histories, pass summaries and journal
// entries as plain text for the terminal.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/papapumpkin/kiln/internal/engine"
	"github.com/papapumpkin/kiln/internal/filereg"
	"github.com/papapumpkin/kiln/internal/history"
	"github.com/papapumpkin/kiln/internal/journal"
	"github.com/papapumpkin/kiln/internal/opgraph"
)

// Options controls rendering.
type Options struct {
	// Color styles status words. Leave off when writing to files or pipes.
	Color bool
}

var statusStyles = map[engine.Status]lipgloss.Style{
	engine.StatusSucceeded: lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
	engine.StatusSkipped:   lipgloss.NewStyle().Faint(true),
	engine.StatusFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	engine.StatusBlocked:   lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	engine.StatusPending:   lipgloss.NewStyle().Faint(true),
}

func (o Options) status(s engine.Status, text string) string {
	if !o.Color {
		return text
	}
	style, ok := statusStyles[s]
	if !ok {
		return text
	}
	return style.Render(text)
}

// printer remembers the first write error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

func joinPaths(reg *filereg.Registry, ids []filereg.FileID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = reg.MustPath(id)
	}
	return strings.Join(parts, ", ")
}

func joinOps(ids []opgraph.OperationID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("#%d", id)
	}
	return strings.Join(parts, ", ")
}

// WriteGraph lists the operations of g in execution order.
func WriteGraph(w io.Writer, g *opgraph.Graph, reg *filereg.Registry) error {
	p := &printer{w: w}
	order, err := g.TopologicalOrder()
	if err != nil {
		order = g.IDs()
	}
	p.printf("operations: %d  roots: %s\n", g.Len(), joinOps(g.RootOperationIDs()))

	for _, id := range order {
		op := g.Operation(id)
		p.printf("#%d %s\n", id, op.Title)
		field := func(label, value string) {
			if value != "" {
				p.printf("    %-9s %s\n", label+":", value)
			}
		}
		field("run", op.Command.String())
		field("dir", op.Command.WorkingDirectory)
		field("inputs", joinPaths(reg, op.DeclaredInputs))
		field("outputs", joinPaths(reg, op.DeclaredOutputs))
		field("reads", joinPaths(reg, op.ReadAccess))
		field("writes", joinPaths(reg, op.WriteAccess))
		field("children", joinOps(op.Children))
		if !op.EvaluateTime.IsZero() {
			result := "ok"
			if !op.WasSuccessfulRun {
				result = "failed"
			}
			field("last run", result+" at "+stamp(op.EvaluateTime))
		}
	}
	return p.err
}

// WriteHistory lists recorded results in id order. Titles come from g when
// the operation still exists.
func WriteHistory(w io.Writer, h *history.History, g *opgraph.Graph) error {
	p := &printer{w: w}
	ids := h.IDs()
	if len(ids) == 0 {
		p.printf("no recorded results\n")
		return p.err
	}

	titles := make([]string, len(ids))
	width := 0
	for i, id := range ids {
		titles[i] = "(removed)"
		if op := g.Operation(id); op != nil {
			titles[i] = op.Title
		}
		width = max(width, len(titles[i]))
	}

	for i, id := range ids {
		r, _ := h.Get(id)
		result := "ok"
		if !r.WasSuccessful {
			result = "failed"
		}
		p.printf("#%-3d %-*s  %-6s  %s  in:%d out:%d\n",
			id, width, titles[i], result, stamp(r.EvaluateTime),
			len(r.ObservedInputs), len(r.ObservedOutputs))
	}
	return p.err
}

// WriteSummary lists each outcome of a pass in id order followed by totals.
func WriteSummary(w io.Writer, r *engine.Report, opts Options) error {
	p := &printer{w: w}
	outcomes := r.Sorted()

	width := 0
	for _, o := range outcomes {
		width = max(width, len(o.Title))
	}
	for _, o := range outcomes {
		detail := ""
		switch o.Status {
		case engine.StatusSucceeded:
			detail = o.Duration.Round(time.Millisecond).String()
		case engine.StatusFailed:
			detail = fmt.Sprintf("exit %d", o.ExitCode)
		}
		if detail == "" {
			p.printf("#%-3d %-*s  %s\n", o.ID, width, o.Title, opts.status(o.Status, string(o.Status)))
			continue
		}
		p.printf("#%-3d %-*s  %s %s\n", o.ID, width, o.Title,
			opts.status(o.Status, fmt.Sprintf("%-9s", o.Status)), detail)
	}

	p.printf("%d operations: %d succeeded, %d skipped, %d failed, %d blocked",
		len(outcomes),
		r.Count(engine.StatusSucceeded), r.Count(engine.StatusSkipped),
		r.Count(engine.StatusFailed), r.Count(engine.StatusBlocked))
	if n := r.Count(engine.StatusPending); n > 0 {
		p.printf(", %d not run", n)
	}
	p.printf("\n")
	return p.err
}

// WritePasses lists journaled passes, one per line.
func WritePasses(w io.Writer, passes []journal.Pass) error {
	p := &printer{w: w}
	if len(passes) == 0 {
		p.printf("no passes recorded\n")
		return p.err
	}
	for _, ps := range passes {
		elapsed := "unfinished"
		if !ps.Finished.IsZero() {
			elapsed = ps.Finished.Sub(ps.Started).Round(time.Millisecond).String()
		}
		p.printf("%s  %s  %-10s  ops:%d succeeded:%d skipped:%d failed:%d blocked:%d\n",
			ps.ID, stamp(ps.Started), elapsed, ps.Operations,
			ps.Succeeded, ps.Skipped, ps.Failed, ps.Blocked)
	}
	return p.err
}

// WriteEntries lists the outcomes journaled for one pass.
func WriteEntries(w io.Writer, entries []journal.Entry, opts Options) error {
	p := &printer{w: w}
	width := 0
	for _, e := range entries {
		width = max(width, len(e.Title))
	}
	for _, e := range entries {
		line := fmt.Sprintf("#%-3d %-*s  %s", e.OperationID, width, e.Title, opts.status(e.Status, string(e.Status)))
		if e.Error != "" {
			line += "  " + e.Error
		}
		p.printf("%s\n", line)
	}
	return p.err
}
