package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/loykin/stackctl/internal/logs"
	"github.com/loykin/stackctl/internal/orchestrator"
)

// degradedTailLines is how much of a DEGRADED service's stderr is shown after up.
const degradedTailLines = 20

type printer struct {
	w    io.Writer
	logs *logs.Router
}

func (p printer) report(rep orchestrator.Report) {
	switch rep.Command {
	case "ui build":
		for _, out := range rep.Up {
			p.line("ui build: %s", outcomeDetail(out))
		}
		return
	case "version":
		printVersion(p.w, rep.Version)
		return
	}

	for _, out := range rep.Down {
		p.line("%-8s %s", out.Service, outcomeDetail(out))
	}
	if len(rep.Up) > 0 {
		if len(rep.Down) > 0 {
			p.line("")
		}
		p.summary(rep.Up)
	}
	if len(rep.Observations) > 0 {
		p.status(rep.Observations)
	}
	if rep.Command == "history" {
		p.history(rep)
	}
	if rep.Command == "clean" {
		if len(rep.Removed) == 0 {
			p.line("nothing to clean")
		}
		for _, r := range rep.Removed {
			p.line("removed %s", r)
		}
	}
}

// summary prints one endpoint line per service, then the stderr tail of
// every DEGRADED service.
func (p printer) summary(outs []orchestrator.Outcome) {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	for _, out := range outs {
		endpoint := out.Endpoint
		if out.State == orchestrator.Skipped || out.State == orchestrator.Failed {
			endpoint = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", out.Service, out.State, endpoint, outcomeDetail(out))
	}
	_ = tw.Flush()

	for _, out := range outs {
		if out.State != orchestrator.Degraded {
			continue
		}
		sink := p.logs.Sinks(out.Service).Stderr
		p.line("")
		p.line("%s did not become ready; last lines of %s:", out.Service, sink)
		b, err := logs.Tail(sink, degradedTailLines)
		switch {
		case errors.Is(err, fs.ErrNotExist), err == nil && len(b) == 0:
			p.line("  (no output yet)")
		case err != nil:
			p.line("  (%v)", err)
		default:
			_, _ = p.w.Write(b)
		}
	}
}

func (p printer) status(obs []orchestrator.Observation) {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SERVICE\tSTATE\tPID\tPORT\tUPTIME\tRSS\tDETAIL")
	for _, o := range obs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			o.Service, o.State, pidOrDash(o.PID), o.Port,
			durationOrDash(o.Uptime), bytesOrDash(o.RSS), o.Detail)
	}
	_ = tw.Flush()
}

func (p printer) history(rep orchestrator.Report) {
	if len(rep.Events) == 0 {
		p.line("no history recorded")
		return
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tSERVICE\tEVENT\tPID\tPORT\tDETAIL")
	for _, e := range rep.Events {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			e.OccurredAt.Local().Format(time.DateTime), e.Service, e.Type, pidOrDash(e.PID), e.Port, e.Detail)
	}
	_ = tw.Flush()
}

func (p printer) line(format string, args ...any) {
	_, _ = fmt.Fprintf(p.w, format+"\n", args...)
}

func outcomeDetail(out orchestrator.Outcome) string {
	var parts []string
	if out.PID > 0 && out.State != orchestrator.Stopped {
		parts = append(parts, "pid "+strconv.Itoa(out.PID))
	}
	if out.Attempts > 0 {
		parts = append(parts, fmt.Sprintf("%d probe(s) in %s", out.Attempts, out.Elapsed.Round(time.Millisecond)))
	}
	if out.Err != nil {
		parts = append(parts, out.Err.Error())
	} else if out.Detail != "" {
		parts = append(parts, out.Detail)
	}
	return strings.Join(parts, ", ")
}

func printVersion(w io.Writer, v string) {
	_, _ = fmt.Fprintf(w, "stackctl %s\n", v)
}

func pidOrDash(pid int) string {
	if pid <= 0 {
		return "-"
	}
	return strconv.Itoa(pid)
}

func durationOrDash(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

func bytesOrDash(n uint64) string {
	const unit = 1024
	if n == 0 {
		return "-"
	}
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
