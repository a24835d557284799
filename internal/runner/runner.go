// Package runner orchestrates a job run: load the definition, render each
// change entry, push the rendered configuration to every listed device and
// aggregate the results.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/netfleet/confpush/internal/job"
	"github.com/netfleet/confpush/internal/report"
	"github.com/netfleet/confpush/internal/sshclient"
	"github.com/netfleet/confpush/internal/template"
	"github.com/netfleet/confpush/internal/util"
)

// snapshotCommand collects the running configuration for change validation.
const snapshotCommand = "show running-config"

// Executor is the device transport. *sshclient.Client satisfies it; tests
// substitute fakes.
type Executor interface {
	Push(ctx context.Context, host string, creds sshclient.Credentials, configText string) (string, error)
	Show(ctx context.Context, host string, creds sshclient.Credentials, command string) (string, error)
}

// Options configure a run.
type Options struct {
	JobsDir   string
	Workers   int           // device sessions per entry; 1 = sequential
	Timeout   time.Duration // per session attempt
	Snapshots bool          // collect pre/post running-config snapshots
}

type Runner struct {
	exec  Executor
	creds sshclient.Credentials
	opts  Options
}

func New(exec Executor, creds sshclient.Credentials, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Runner{exec: exec, creds: creds, opts: opts}
}

// Run executes the named job. A load or render failure aborts the run; an
// entry that cannot be rendered stops the job rather than being skipped.
// The report returned alongside a non-nil error holds whatever devices were
// already pushed.
func (r *Runner) Run(ctx context.Context, jobName string) (*report.Report, error) {
	jb, err := job.Load(r.opts.JobsDir, jobName)
	if err != nil {
		return nil, err
	}

	rep := &report.Report{Job: jobName}
	for _, entry := range jb.Entries {
		util.WithEntry(entry.Name).Infof("preparing %s", entry.Description)

		text, err := template.Render(jb.TemplatePath(entry.Template), entry.Variables)
		if err != nil {
			return rep, fmt.Errorf("entry %q: %w", entry.Name, err)
		}
		util.WithEntry(entry.Name).Debugf("rendered %d bytes from %s", len(text), entry.Template)

		rep.Results = append(rep.Results, r.pushEntry(ctx, jb, entry, text)...)

		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
	}
	return rep, nil
}

// pushEntry fans the rendered text out to the entry's devices on a bounded
// worker pool. Results are written into per-index slots so the report keeps
// the device_names order regardless of completion order.
func (r *Runner) pushEntry(ctx context.Context, jb *job.Job, entry job.ChangeEntry, text string) []report.DeviceResult {
	results := make([]report.DeviceResult, len(entry.DeviceNames))

	workers := r.opts.Workers
	if workers > len(entry.DeviceNames) {
		workers = len(entry.DeviceNames)
	}

	idxCh := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idxCh {
				results[i] = r.pushDevice(ctx, jb, entry, entry.DeviceNames[i], text)
			}
		}()
	}

	// An operator interrupt stops launching new sessions; devices never
	// dispatched are marked canceled.
	for i := range entry.DeviceNames {
		select {
		case idxCh <- i:
		case <-ctx.Done():
			results[i] = report.DeviceResult{
				Entry:  entry.Name,
				Device: entry.DeviceNames[i],
				Status: report.StatusSkipped,
				Err:    ctx.Err(),
			}
		}
	}
	close(idxCh)
	wg.Wait()

	return results
}

func (r *Runner) pushDevice(ctx context.Context, jb *job.Job, entry job.ChangeEntry, device, text string) report.DeviceResult {
	log := util.WithDevice(device)
	res := report.DeviceResult{Entry: entry.Name, Device: device}
	start := time.Now()

	if r.opts.Snapshots {
		if err := r.snapshot(ctx, jb, device, "pre"); err != nil {
			log.Warnf("pre-change snapshot failed: %v", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("pre-change snapshot failed: %v", err))
		}
	}

	pctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	out, err := r.exec.Push(pctx, device, r.creds, text)
	cancel()

	res.Output = out
	res.Duration = time.Since(start)

	if err != nil {
		res.Err = err
		res.Status = statusFor(err)
		log.Errorf("push failed: %v", err)
		return res
	}

	res.Status = report.StatusOK
	log.Infof("configuration applied")

	if r.opts.Snapshots {
		if err := r.snapshot(ctx, jb, device, "post"); err != nil {
			log.Warnf("post-change snapshot failed: %v", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("post-change snapshot failed: %v", err))
		}
	}

	return res
}

// snapshot captures the device's running configuration into the job's
// change_validation directory.
func (r *Runner) snapshot(ctx context.Context, jb *job.Job, device, phase string) error {
	sctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	out, err := r.exec.Show(sctx, device, r.creds, snapshotCommand)
	if err != nil {
		return err
	}

	dir := filepath.Join(jb.Dir, "change_validation")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s_change_show_run_%s.txt", phase, util.ShortHostname(device))
	return os.WriteFile(filepath.Join(dir, name), []byte(out), 0o644)
}

func statusFor(err error) report.Status {
	switch {
	case errors.Is(err, sshclient.ErrAuthentication):
		return report.StatusAuthFailed
	case errors.Is(err, sshclient.ErrCommandRejected):
		return report.StatusRejected
	case errors.Is(err, sshclient.ErrConnection):
		return report.StatusUnreachable
	default:
		return report.StatusError
	}
}
