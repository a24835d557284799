package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/netfleet/confpush/internal/job"
	"github.com/netfleet/confpush/internal/report"
	"github.com/netfleet/confpush/internal/sshclient"
	"github.com/netfleet/confpush/internal/template"
)

// fakeExecutor records pushes and fails the hosts it is told to fail.
type fakeExecutor struct {
	mu       sync.Mutex
	pushed   []string          // hosts in push order
	configs  map[string]string // host -> last pushed config
	failWith map[string]error  // host -> push error
	delay    map[string]time.Duration
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		configs:  map[string]string{},
		failWith: map[string]error{},
		delay:    map[string]time.Duration{},
	}
}

func (f *fakeExecutor) Push(ctx context.Context, host string, _ sshclient.Credentials, configText string) (string, error) {
	if d := f.delay[host]; d > 0 {
		time.Sleep(d)
	}
	f.mu.Lock()
	f.pushed = append(f.pushed, host)
	f.configs[host] = configText
	f.mu.Unlock()
	if err := f.failWith[host]; err != nil {
		return "transcript: failed", err
	}
	return "transcript: ok", nil
}

func (f *fakeExecutor) Show(ctx context.Context, host string, _ sshclient.Credentials, command string) (string, error) {
	if err := f.failWith[host]; err != nil {
		return "", err
	}
	return "running-config of " + host, nil
}

func (f *fakeExecutor) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushed)
}

func writeJobFixture(t *testing.T, root, name, definition string, templates map[string]string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".yml"), []byte(definition), 0o644); err != nil {
		t.Fatal(err)
	}
	for fname, text := range templates {
		if err := os.WriteFile(filepath.Join(dir, fname), []byte(text), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func newTestRunner(exec Executor, root string, workers int, snapshots bool) *Runner {
	return New(exec, sshclient.Credentials{Username: "admin", Password: "secret"}, Options{
		JobsDir:   root,
		Workers:   workers,
		Timeout:   5 * time.Second,
		Snapshots: snapshots,
	})
}

func TestRun_DeviceFailureIsolation(t *testing.T) {
	root := t.TempDir()
	writeJobFixture(t, root, "sample_job", `- name: shutdown sccp
  device_names: [host1, host2, host3]
  jinja2_template: sccp.j2
  variables:
    on_prem_ip_1: 10.10.10.10
`, map[string]string{
		"sccp.j2": "no sccp ccm {{ on_prem_ip_1 }} identifier 1 version 7.0",
	})

	exec := newFakeExecutor()
	exec.failWith["host2"] = fmt.Errorf("%w: host2: dial tcp: i/o timeout", sshclient.ErrConnection)

	rep, err := newTestRunner(exec, root, 1, false).Run(context.Background(), "sample_job")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	// all three devices attempted despite host2 being unreachable
	if exec.pushCount() != 3 {
		t.Fatalf("pushed %d devices, want 3", exec.pushCount())
	}

	if len(rep.Results) != 3 {
		t.Fatalf("len(Results) = %d, want 3", len(rep.Results))
	}
	for i, want := range []string{"host1", "host2", "host3"} {
		if rep.Results[i].Device != want {
			t.Errorf("Results[%d].Device = %q, want %q", i, rep.Results[i].Device, want)
		}
	}
	if rep.Results[1].Status != report.StatusUnreachable {
		t.Errorf("host2 status = %q, want %q", rep.Results[1].Status, report.StatusUnreachable)
	}
	if rep.Succeeded() != 2 {
		t.Errorf("Succeeded() = %d, want 2", rep.Succeeded())
	}
	if rep.Outcome() != report.PartialSuccess {
		t.Errorf("Outcome() = %v, want PartialSuccess", rep.Outcome())
	}

	want := "no sccp ccm 10.10.10.10 identifier 1 version 7.0"
	for _, host := range []string{"host1", "host3"} {
		if got := exec.configs[host]; got != want {
			t.Errorf("config pushed to %s = %q, want %q", host, got, want)
		}
	}
}

func TestRun_MalformedJobContactsNoDevices(t *testing.T) {
	root := t.TempDir()
	writeJobFixture(t, root, "bad_job", `- name: broken
  jinja2_template: x.j2
`, map[string]string{"x.j2": "text"})

	exec := newFakeExecutor()
	rep, err := newTestRunner(exec, root, 1, false).Run(context.Background(), "bad_job")

	if !errors.Is(err, job.ErrMalformedJob) {
		t.Fatalf("Run() error = %v, want ErrMalformedJob", err)
	}
	if rep != nil {
		t.Errorf("Run() report = %+v, want nil", rep)
	}
	if exec.pushCount() != 0 {
		t.Errorf("pushed %d devices, want 0", exec.pushCount())
	}
}

func TestRun_JobNotFound(t *testing.T) {
	exec := newFakeExecutor()
	_, err := newTestRunner(exec, t.TempDir(), 1, false).Run(context.Background(), "ghost")
	if !errors.Is(err, job.ErrJobNotFound) {
		t.Fatalf("Run() error = %v, want ErrJobNotFound", err)
	}
	if exec.pushCount() != 0 {
		t.Errorf("pushed %d devices, want 0", exec.pushCount())
	}
}

func TestRun_RenderFailureAbortsJob(t *testing.T) {
	root := t.TempDir()
	writeJobFixture(t, root, "two_entries", `- name: first
  device_names: [host1]
  jinja2_template: ok.j2
  variables:
    x: "1"
- name: second
  device_names: [host2, host3]
  jinja2_template: broken.j2
`, map[string]string{
		"ok.j2":     "set {{ x }}",
		"broken.j2": "needs {{ missing_var }}",
	})

	exec := newFakeExecutor()
	rep, err := newTestRunner(exec, root, 1, false).Run(context.Background(), "two_entries")

	if !errors.Is(err, template.ErrUndefinedVariable) {
		t.Fatalf("Run() error = %v, want ErrUndefinedVariable", err)
	}

	// first entry ran, second entry's devices were never touched
	if exec.pushCount() != 1 {
		t.Errorf("pushed %d devices, want 1", exec.pushCount())
	}
	if len(rep.Results) != 1 || rep.Results[0].Device != "host1" {
		t.Errorf("Results = %+v, want only host1", rep.Results)
	}
}

func TestRun_RenderFailureOnFirstEntryTouchesNothing(t *testing.T) {
	root := t.TempDir()
	writeJobFixture(t, root, "broken_first", `- name: only
  device_names: [host1]
  jinja2_template: nope.j2
`, nil)

	exec := newFakeExecutor()
	rep, err := newTestRunner(exec, root, 1, false).Run(context.Background(), "broken_first")

	if !errors.Is(err, template.ErrTemplateNotFound) {
		t.Fatalf("Run() error = %v, want ErrTemplateNotFound", err)
	}
	if exec.pushCount() != 0 {
		t.Errorf("pushed %d devices, want 0", exec.pushCount())
	}
	if len(rep.Results) != 0 {
		t.Errorf("Results = %+v, want empty", rep.Results)
	}
}

func TestRun_OrderPreservedWithWorkerPool(t *testing.T) {
	root := t.TempDir()
	devices := []string{"d1", "d2", "d3", "d4", "d5", "d6", "d7", "d8"}
	def := "- name: bulk\n  device_names: ["
	for i, d := range devices {
		if i > 0 {
			def += ", "
		}
		def += d
	}
	def += "]\n  jinja2_template: t.j2\n"
	writeJobFixture(t, root, "bulk_job", def, map[string]string{"t.j2": "line"})

	exec := newFakeExecutor()
	// stagger completion so finish order differs from dispatch order
	exec.delay["d1"] = 30 * time.Millisecond
	exec.delay["d3"] = 20 * time.Millisecond
	exec.delay["d5"] = 10 * time.Millisecond

	rep, err := newTestRunner(exec, root, 4, false).Run(context.Background(), "bulk_job")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(rep.Results) != len(devices) {
		t.Fatalf("len(Results) = %d, want %d", len(rep.Results), len(devices))
	}
	for i, d := range devices {
		if rep.Results[i].Device != d {
			t.Errorf("Results[%d].Device = %q, want %q", i, rep.Results[i].Device, d)
		}
		if rep.Results[i].Status != report.StatusOK {
			t.Errorf("Results[%d].Status = %q", i, rep.Results[i].Status)
		}
	}
}

func TestRun_StatusClassification(t *testing.T) {
	root := t.TempDir()
	writeJobFixture(t, root, "mixed_job", `- name: mixed
  device_names: [authfail, rejected, unreachable, fine]
  jinja2_template: t.j2
`, map[string]string{"t.j2": "line"})

	exec := newFakeExecutor()
	exec.failWith["authfail"] = fmt.Errorf("%w: authfail: handshake", sshclient.ErrAuthentication)
	exec.failWith["rejected"] = &sshclient.RejectError{Host: "rejected", Line: "% Invalid input"}
	exec.failWith["unreachable"] = fmt.Errorf("%w: unreachable: timeout", sshclient.ErrConnection)

	rep, err := newTestRunner(exec, root, 1, false).Run(context.Background(), "mixed_job")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := []report.Status{
		report.StatusAuthFailed,
		report.StatusRejected,
		report.StatusUnreachable,
		report.StatusOK,
	}
	for i, w := range want {
		if rep.Results[i].Status != w {
			t.Errorf("Results[%d].Status = %q, want %q", i, rep.Results[i].Status, w)
		}
	}
}

func TestRun_Snapshots(t *testing.T) {
	root := t.TempDir()
	writeJobFixture(t, root, "snap_job", `- name: snap
  device_names: [rtr1.example.com]
  jinja2_template: t.j2
`, map[string]string{"t.j2": "line"})

	exec := newFakeExecutor()
	rep, err := newTestRunner(exec, root, 1, true).Run(context.Background(), "snap_job")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if rep.Succeeded() != 1 {
		t.Fatalf("Succeeded() = %d, want 1", rep.Succeeded())
	}

	// snapshot filenames use the shortened hostname
	for _, phase := range []string{"pre", "post"} {
		path := filepath.Join(root, "snap_job", "change_validation",
			phase+"_change_show_run_rtr1.txt")
		b, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("%s snapshot: %v", phase, err)
		}
		if string(b) != "running-config of rtr1.example.com" {
			t.Errorf("%s snapshot content = %q", phase, b)
		}
	}
}

func TestRun_SnapshotFailureIsWarningOnly(t *testing.T) {
	root := t.TempDir()
	writeJobFixture(t, root, "snap_job", `- name: snap
  device_names: [flaky]
  jinja2_template: t.j2
`, map[string]string{"t.j2": "line"})

	exec := newFakeExecutor()
	// Show fails for flaky, Push succeeds: failWith is consulted by both,
	// so use a dedicated executor behavior instead.
	exec2 := &snapshotFailExecutor{inner: exec}

	rep, err := newTestRunner(exec2, root, 1, true).Run(context.Background(), "snap_job")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	res := rep.Results[0]
	if res.Status != report.StatusOK {
		t.Fatalf("Status = %q, want OK", res.Status)
	}
	if len(res.Warnings) != 2 {
		t.Errorf("Warnings = %v, want pre and post snapshot warnings", res.Warnings)
	}
}

type snapshotFailExecutor struct {
	inner *fakeExecutor
}

func (s *snapshotFailExecutor) Push(ctx context.Context, host string, creds sshclient.Credentials, configText string) (string, error) {
	return s.inner.Push(ctx, host, creds, configText)
}

func (s *snapshotFailExecutor) Show(ctx context.Context, host string, creds sshclient.Credentials, command string) (string, error) {
	return "", fmt.Errorf("%w: %s: refused", sshclient.ErrConnection, host)
}

func TestRun_CancellationStopsDispatch(t *testing.T) {
	root := t.TempDir()
	writeJobFixture(t, root, "cancel_job", `- name: bulk
  device_names: [d1, d2, d3, d4, d5]
  jinja2_template: t.j2
`, map[string]string{"t.j2": "line"})

	exec := newFakeExecutor()
	for _, d := range []string{"d1", "d2", "d3", "d4", "d5"} {
		exec.delay[d] = 20 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	rep, err := newTestRunner(exec, root, 1, false).Run(ctx, "cancel_job")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if exec.pushCount() >= 5 {
		t.Errorf("pushed %d devices, want fewer than 5 after cancellation", exec.pushCount())
	}
	// every device still has a slot in the report, in order
	if len(rep.Results) != 5 {
		t.Errorf("len(Results) = %d, want 5", len(rep.Results))
	}
}
