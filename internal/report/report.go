// Package report collects per-device push results and renders the run
// summary for the operator.
package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// Status classifies the outcome of one device push.
type Status string

const (
	StatusOK          Status = "Success"
	StatusAuthFailed  Status = "SSH authentication failure"
	StatusUnreachable Status = "Unreachable"
	StatusRejected    Status = "Commands rejected"
	StatusSkipped     Status = "Canceled"
	StatusError       Status = "Error"
)

// DeviceResult is the outcome of pushing one change entry to one device.
type DeviceResult struct {
	Entry    string
	Device   string
	Status   Status
	Output   string // full session transcript
	Err      error
	Duration time.Duration
	Warnings []string // non-fatal issues, e.g. snapshot collection failures
}

// OK reports whether the push succeeded.
func (r DeviceResult) OK() bool { return r.Status == StatusOK }

// Outcome is the aggregate result of a run.
type Outcome int

const (
	FullSuccess Outcome = iota
	PartialSuccess
	FailedToStart
)

// Report holds the results of one job run, in the order the definition file
// lists entries and devices.
type Report struct {
	Job     string
	Results []DeviceResult
}

// Succeeded counts devices that accepted their configuration.
func (r *Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.OK() {
			n++
		}
	}
	return n
}

// Outcome classifies the run as a whole.
func (r *Report) Outcome() Outcome {
	if len(r.Results) == 0 {
		return FailedToStart
	}
	if r.Succeeded() == len(r.Results) {
		return FullSuccess
	}
	return PartialSuccess
}

// Summary is the one-line verdict shown after the result table.
func (r *Report) Summary() string {
	switch r.Outcome() {
	case FailedToStart:
		return "failed to start: no devices were contacted"
	case FullSuccess:
		return fmt.Sprintf("fully succeeded (%d/%d devices)", r.Succeeded(), len(r.Results))
	default:
		return fmt.Sprintf("partially succeeded (%d/%d devices)", r.Succeeded(), len(r.Results))
	}
}

// WriteTable renders the per-device results as an aligned table.
func (r *Report) WriteTable(w io.Writer) {
	if len(r.Results) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tENTRY\tSTATUS\tDURATION\tDETAIL")
	for _, res := range r.Results {
		detail := ""
		if res.Err != nil {
			detail = firstLine(res.Err.Error())
		}
		if len(res.Warnings) > 0 {
			if detail != "" {
				detail += "; "
			}
			detail += strings.Join(res.Warnings, "; ")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			res.Device, res.Entry, res.Status, res.Duration.Round(time.Millisecond), detail)
	}
	tw.Flush()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
