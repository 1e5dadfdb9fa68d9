// Command snaprun runs a test suite in a loop until it fails, using ZFS
// snapshots and clones to start every run from a clean slate. The clone of
// each failing run is kept for post-mortem inspection.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/user/snaprun/internal/clone"
	"github.com/user/snaprun/internal/config"
	"github.com/user/snaprun/internal/executor"
	"github.com/user/snaprun/internal/logger"
	"github.com/user/snaprun/internal/runner"
	"github.com/user/snaprun/internal/tailbuf"
	"github.com/user/snaprun/internal/zfsutil"
)

var version = "dev" // injected via ldflags at build time

type CLI struct {
	Run     RunCmd     `cmd:"" help:"Run the test suite in cloned snapshots until it fails."`
	Clean   CleanCmd   `cmd:"" help:"Destroy leftover snaprun working areas under a dataset."`
	Version VersionCmd `cmd:"" help:"Print version and platform info."`
}

// ─── run ─────────────────────────────────────────────────────────────────────

type RunCmd struct {
	Snapshot    string `arg:"" help:"ZFS snapshot to clone for each run (dataset@snapshot)."`
	Concurrency int    `default:"2" help:"How many workers run the suite concurrently."`
	StopAfter   int    `name:"stop-after" help:"Stop after each worker does this many runs (0 = run until failure)."`
	KeepSuccess bool   `name:"keep-success" help:"Keep clones from successful runs too."`
	Config      string `type:"existingfile" help:"Path to a snaprun.yaml describing the test command."`
	PrivCmd     string `name:"priv-cmd" default:"pfexec" help:"Privilege command prefixed to mutating zfs calls (empty = none)."`
	Tail        int    `default:"20" help:"Lines of a failing run's output to print (0 = none)."`
}

func (c *RunCmd) Run() error {
	cfg := config.Default()
	if c.Config != "" {
		var err error
		if cfg, err = config.Load(c.Config); err != nil {
			return err
		}
	}

	mgr := clone.NewManager(&zfsutil.ZFS{PrivCmd: c.PrivCmd})
	exe := &executor.Executor{
		Command:    cfg.Command,
		Dir:        cfg.Dir,
		Env:        cfg.EnvList(),
		StdoutFile: cfg.StdoutFile,
		StderrFile: cfg.StderrFile,
	}

	c.printSummary(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := runner.New(runner.Options{
		Snapshot:    c.Snapshot,
		Concurrency: c.Concurrency,
		StopAfter:   c.StopAfter,
		KeepSuccess: c.KeepSuccess,
	}, mgr, exe)

	rep, err := r.Run(ctx)
	if err != nil {
		return fmt.Errorf("fatal: %w", err)
	}

	printReport(rep, c.Tail)

	switch rep.Condition {
	case runner.StoppedOnFailure:
		return errors.New("test failed")
	case runner.StoppedOnError:
		return errors.New("stopped by a worker-local provisioning error")
	}
	return nil
}

func (c *RunCmd) printSummary(cfg config.Run) {
	fmt.Printf("using snapshot:  %s\n", c.Snapshot)
	fmt.Printf("test command:    %s (in %s)\n", strings.Join(cfg.Command, " "), cfg.Dir)
	fmt.Printf("concurrency:     %d\n", c.Concurrency)
	if c.KeepSuccess {
		fmt.Printf("save results:    for all runs\n")
	} else {
		fmt.Printf("save results:    for failed runs only\n")
	}
	fmt.Printf("stop:            %s\n", stopPolicy(c.StopAfter))
	fmt.Println()
}

// stopPolicy renders the stop condition for the startup summary.
func stopPolicy(stopAfter int) string {
	if stopAfter <= 0 {
		return "after any run fails"
	}
	plural := "s"
	if stopAfter == 1 {
		plural = ""
	}
	return fmt.Sprintf("after all workers do %d run%s", stopAfter, plural)
}

func printReport(rep *runner.Report, tail int) {
	fmt.Println()
	for _, w := range rep.Workers {
		fmt.Printf("worker %d: %d runs, result = %s\n", w.Worker, w.Attempts, workerResult(w))
	}
	fmt.Printf("stopped:      %s\n", describeCondition(rep.Condition))
	fmt.Printf("working area: %s (left for inspection)\n", rep.WorkingArea)

	for _, rec := range rep.Retained() {
		fmt.Printf("\nretained clone %s (worker %d, run %d, %s)\n",
			rec.Clone, rec.Worker, rec.Attempt, exitSummary(rec))
		if tail > 0 {
			printTail(rec.StderrPath, tail)
		}
	}
}

func workerResult(w runner.WorkerReport) string {
	switch {
	case w.Failure != nil:
		return fmt.Sprintf("test failed (%s)", exitSummary(w.Failure))
	case w.Err != "":
		return w.Err
	default:
		return "ok"
	}
}

func exitSummary(rec *runner.AttemptRecord) string {
	if rec.Signal != "" {
		return "terminated by signal " + rec.Signal
	}
	return fmt.Sprintf("exited with code %d", rec.ExitCode)
}

func describeCondition(c runner.TerminalCondition) string {
	switch c {
	case runner.StoppedOnFailure:
		return "a test run failed"
	case runner.StoppedOnError:
		return "a worker hit a provisioning error"
	case runner.StoppedOnCancel:
		return "interrupted"
	case runner.StoppedOnLimit:
		return "run limit reached"
	}
	return string(c)
}

// printTail shows the last lines of a failing run's stderr capture.
func printTail(path string, n int) {
	lines, err := tailbuf.LastLines(path, n)
	if err != nil || len(lines) == 0 {
		return
	}
	fmt.Printf("last %d lines of %s:\n", len(lines), path)
	for _, line := range lines {
		fmt.Printf("  %s\n", line)
	}
}

// ─── clean ───────────────────────────────────────────────────────────────────

type CleanCmd struct {
	Dataset string `arg:"" help:"Parent dataset to scan for leftover snaprun working areas."`
	DryRun  bool   `name:"dry-run" help:"List working areas without destroying them."`
	PrivCmd string `name:"priv-cmd" default:"pfexec" help:"Privilege command prefixed to mutating zfs calls (empty = none)."`
}

func (c *CleanCmd) Run() error {
	z := &zfsutil.ZFS{PrivCmd: c.PrivCmd}
	children, err := z.ListChildren(c.Dataset)
	if err != nil {
		return err
	}

	prefix := c.Dataset + "/snaprun-"
	removed := 0
	for _, name := range children {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if c.DryRun {
			fmt.Printf("would destroy %s\n", name)
			continue
		}
		if err := z.DestroyRecursive(name); err != nil {
			return fmt.Errorf("destroying %s: %w", name, err)
		}
		fmt.Printf("destroyed %s\n", name)
		removed++
	}
	if removed == 0 && !c.DryRun {
		fmt.Println("nothing to clean")
	}
	return nil
}

// ─── version ─────────────────────────────────────────────────────────────────

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("snaprun %s (%s/%s, %s)\n", version, runtime.GOOS, runtime.GOARCH, runtime.Version())
	return nil
}

// ─── main ────────────────────────────────────────────────────────────────────

func main() {
	logger.Init()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("snaprun"),
		kong.Description("snaprun: hunt rare test failures by looping a test suite in fresh ZFS clones.\n\nEach worker clones the source snapshot, runs the suite, and destroys the clone on success. The first failure stops the run and its clone is preserved for inspection."),
		kong.UsageOnError(),
	)

	err := ctx.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "snaprun: %v\n", err)
		os.Exit(1)
	}
}
