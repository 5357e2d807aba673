package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rbright/parlance/internal/cli"
	"github.com/rbright/parlance/internal/control"
	"github.com/rbright/parlance/internal/history"
	"github.com/rbright/parlance/internal/ipc"
)

// printResponse renders a forwarded response for humans, or its raw payload
// with --json.
func (r Runner) printResponse(parsed cli.Parsed, resp ipc.Response) error {
	if parsed.JSON {
		return r.printJSON(resp)
	}

	switch parsed.Command {
	case cli.CommandStatus:
		var status control.Status
		if len(resp.Data) > 0 {
			if err := resp.DecodeData(&status); err != nil {
				return err
			}
		}
		r.printStatus(resp, status)
	case cli.CommandEngines:
		var engines []control.EngineStatus
		if err := resp.DecodeData(&engines); err != nil {
			return err
		}
		r.printEngines(engines)
	case cli.CommandHistory:
		var records []history.Record
		if err := resp.DecodeData(&records); err != nil {
			return err
		}
		r.printHistory(records)
	case cli.CommandVocab:
		if len(parsed.Args) > 0 && parsed.Args[0] == "list" {
			var phrases []string
			if err := resp.DecodeData(&phrases); err != nil {
				return err
			}
			for _, phrase := range phrases {
				fmt.Fprintln(r.Stdout, phrase)
			}
			return nil
		}
		fallthrough
	default:
		if resp.Message != "" {
			fmt.Fprintln(r.Stdout, resp.Message)
		}
	}
	return nil
}

func (r Runner) printJSON(resp ipc.Response) error {
	payload := []byte(resp.Data)
	if len(payload) == 0 {
		raw, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
		payload = raw
	}
	var out bytes.Buffer
	if err := json.Indent(&out, payload, "", "  "); err != nil {
		return fmt.Errorf("format response: %w", err)
	}
	fmt.Fprintln(r.Stdout, out.String())
	return nil
}

func (r Runner) printStatus(resp ipc.Response, status control.Status) {
	state := string(status.State)
	if state == "" {
		state = resp.State
	}
	if state == "" {
		state = "idle"
	}
	fmt.Fprintln(r.Stdout, state)
	if status.Engine != "" {
		fmt.Fprintf(r.Stdout, "engine: %s\n", status.Engine)
	}
	if status.Session != "" {
		fmt.Fprintf(r.Stdout, "session: %s\n", status.Session)
	}
	fmt.Fprintf(r.Stdout, "vocabulary: %d phrases\n", status.VocabularySize)
}

func (r Runner) printEngines(engines []control.EngineStatus) {
	w := tabwriter.NewWriter(r.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ENGINE\tACTIVE\tHEALTHY\tSUCCESS\tFAILURE\tAVG CONF\tFALLBACK")
	for _, e := range engines {
		fallback := make([]string, 0, len(e.Fallback))
		for _, id := range e.Fallback {
			fallback = append(fallback, string(id))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.2f\t%s\n",
			e.ID,
			yesNo(e.Active),
			yesNo(e.Healthy),
			e.Metrics.SuccessCount,
			e.Metrics.FailureCount,
			e.Metrics.AverageConfidence,
			strings.Join(fallback, ","),
		)
	}
	_ = w.Flush()
}

func (r Runner) printHistory(records []history.Record) {
	if len(records) == 0 {
		fmt.Fprintln(r.Stdout, "no history")
		return
	}
	for _, rec := range records {
		outcome := "miss"
		if rec.WasSuccessful {
			outcome = "ok"
		}
		text := rec.Text
		if text == "" {
			text = "(engine error)"
		}
		line := fmt.Sprintf("%s  %-8s  %-4s  %.2f  %q",
			rec.Timestamp.Format(time.TimeOnly), rec.EngineID, outcome, rec.Confidence, text)
		if rec.CommandID != "" {
			line += " -> " + rec.CommandID
		}
		fmt.Fprintln(r.Stdout, line)
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
