package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kandev/mcphost/internal/agent/api"
	"github.com/kandev/mcphost/internal/agent/lifecycle"
)

type format string

const (
	formatText format = "text"
	formatJSON format = "json"
	formatYAML format = "yaml"
)

type printer struct {
	format format
}

func newPrinter(f string) (*printer, error) {
	switch format(f) {
	case formatText, formatJSON, formatYAML:
		return &printer{format: format(f)}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (want text, json or yaml)", f)
	}
}

// structured writes v as JSON or YAML. It reports false in text mode.
func (p *printer) structured(w io.Writer, v any) (bool, error) {
	switch p.format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case formatYAML:
		// Round-trip through JSON so field names match the API.
		raw, err := json.Marshal(v)
		if err != nil {
			return true, err
		}
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return true, err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return true, err
		}
		return true, enc.Close()
	}
	return false, nil
}

func (p *printer) command(w io.Writer, resp *api.CommandResponse) error {
	if done, err := p.structured(w, resp); done {
		return err
	}
	if resp.Message != "" {
		fmt.Fprintln(w, resp.Message)
	}
	if resp.Warning != "" {
		fmt.Fprintln(w, "Warning:", resp.Warning)
	}
	if resp.Prompt != "" {
		fmt.Fprintln(w, "Prompt:", resp.Prompt)
	}
	writeStatus(w, resp.Status)
	return nil
}

func writeStatus(w io.Writer, st lifecycle.Status) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "State:\t%s\n", st.State)
	if st.PID != 0 {
		fmt.Fprintf(tw, "PID:\t%d\n", st.PID)
	}
	if st.URL != "" {
		fmt.Fprintf(tw, "URL:\t%s\n", st.URL)
	}
	if st.StartedAt != nil {
		fmt.Fprintf(tw, "Started:\t%s\n", st.StartedAt.Local().Format(time.DateTime))
	}
	if st.Reason != "" {
		fmt.Fprintf(tw, "Reason:\t%s\n", st.Reason)
	}
	if st.LastExit != nil {
		fmt.Fprintf(tw, "Last exit:\t%s\n", st.LastExit)
	}
	_ = tw.Flush()
}

func (p *printer) output(w io.Writer, resp *api.OutputResponse) error {
	if done, err := p.structured(w, resp); done {
		return err
	}
	for _, line := range resp.Lines {
		fmt.Fprintf(w, "%s [%s] %s\n", line.Timestamp.Local().Format(time.TimeOnly), line.Stream, line.Content)
	}
	return nil
}

func (p *printer) history(w io.Writer, resp *api.HistoryResponse) error {
	if done, err := p.structured(w, resp); done {
		return err
	}
	if len(resp.Runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tTRIGGER\tSTATUS\tPID\tEXIT\tREASON")
	for _, run := range resp.Runs {
		exit := "-"
		if run.ExitCode != nil {
			exit = fmt.Sprint(*run.ExitCode)
			if run.Signal != "" {
				exit += " (" + run.Signal + ")"
			}
		}
		pid := "-"
		if run.PID != 0 {
			pid = fmt.Sprint(run.PID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			run.StartedAt.Local().Format(time.DateTime), run.Trigger, run.Status, pid, exit, run.Reason)
	}
	return tw.Flush()
}

func (p *printer) stream(w io.Writer, msg api.StreamMessage) error {
	if p.format == formatJSON {
		return json.NewEncoder(w).Encode(msg)
	}
	if p.format == formatYAML {
		fmt.Fprintln(w, "---")
		_, err := p.structured(w, msg)
		return err
	}
	switch {
	case msg.Status != nil:
		fmt.Fprintf(w, "current state: %s\n", msg.Status.State)
	case msg.Event != nil:
		ev := msg.Event
		line := fmt.Sprintf("%s %-16s state=%s", ev.At.Local().Format(time.TimeOnly), ev.Type, ev.State)
		if ev.PID != 0 {
			line += fmt.Sprintf(" pid=%d", ev.PID)
		}
		if ev.URL != "" {
			line += " url=" + ev.URL
		}
		if ev.Reason != "" {
			line += fmt.Sprintf(" reason=%q", ev.Reason)
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
