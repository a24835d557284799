// confpush pushes templated configuration to a fleet of network devices.
//
// A job is a directory under the jobs root holding one YAML definition file
// and the templates it references:
//
//	confpush -u admin --job shutdown_sccp
//
// The password is prompted for when -p is omitted, so it never lands in
// shell history. Exit codes: 0 all devices succeeded, 1 one or more devices
// failed, 2 fatal error before any device was contacted.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/netfleet/confpush/internal/report"
	"github.com/netfleet/confpush/internal/runner"
	"github.com/netfleet/confpush/internal/sshclient"
	"github.com/netfleet/confpush/internal/util"
)

var (
	username    string
	password    string
	jobName     string
	jobsDir     string
	workers     int
	timeout     time.Duration
	port        int
	noSnapshots bool
	verbose     bool

	exitCode int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "confpush:", err)
		os.Exit(2)
	}
	os.Exit(exitCode)
}

var rootCmd = &cobra.Command{
	Use:           "confpush",
	Short:         "Push templated configuration to network devices",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `confpush applies a declarative change job to a fleet of network devices.

Each job is a directory under the jobs root containing one YAML definition
file (an ordered list of change entries) and the templates it references.
For every entry the template is rendered with the entry's variables and the
result is pushed over SSH to each listed device. One unreachable device does
not stop the rest of the fleet.`,
	RunE: run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&username, "username", "u", "", "Username for all target devices")
	flags.StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	flags.StringVar(&jobName, "job", "", "Name of a job directory under the jobs root")
	flags.StringVar(&jobsDir, "jobs-dir", defaultJobsDir(), "Jobs root directory")
	flags.IntVar(&workers, "workers", 1, "Concurrent device sessions per change entry")
	flags.BoolVar(&noSnapshots, "no-snapshots", false, "Skip pre/post change config snapshots")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	cfg := sshclient.LoadConfig()
	flags.DurationVar(&timeout, "timeout", cfg.Timeout, "Per-device session timeout")
	flags.IntVar(&port, "port", cfg.Port, "SSH port on target devices")

	_ = rootCmd.MarkFlagRequired("username")
	_ = rootCmd.MarkFlagRequired("job")
}

func defaultJobsDir() string {
	if v := os.Getenv("CONFPUSH_JOBS_DIR"); v != "" {
		return v
	}
	return "jobs"
}

func run(cmd *cobra.Command, args []string) error {
	if verbose {
		_ = util.SetLogLevel("debug")
	}

	if password == "" {
		var err error
		password, err = promptPassword()
		if err != nil {
			return err
		}
	}
	creds := sshclient.Credentials{Username: username, Password: password}

	cli := sshclient.New(sshclient.Config{Timeout: timeout, Port: port})
	r := runner.New(cli, creds, runner.Options{
		JobsDir:   jobsDir,
		Workers:   workers,
		Timeout:   timeout,
		Snapshots: !noSnapshots,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	util.Infof("starting job %s", jobName)
	rep, err := r.Run(ctx, jobName)

	if rep == nil || len(rep.Results) == 0 {
		// Fatal before any device was touched.
		if err == nil {
			err = errors.New("job produced no device results")
		}
		return err
	}

	fmt.Println()
	rep.WriteTable(os.Stdout)
	fmt.Println()
	fmt.Println(rep.Summary())

	if err != nil {
		util.Errorf("job aborted: %v", err)
		exitCode = 1
		return nil
	}
	if rep.Outcome() != report.FullSuccess {
		exitCode = 1
	}
	return nil
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Please enter your Password: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if len(b) == 0 {
		return "", errors.New("empty password")
	}
	return string(b), nil
}
