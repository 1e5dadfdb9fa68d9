// Package runner drives the run loop: a fixed pool of workers that each
// clone the source snapshot, run the test suite, and retain or discard the
// clone, until a failure, the run limit, or cancellation stops the run.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/snaprun/internal/clone"
	"github.com/user/snaprun/internal/executor"
)

// Executor runs the test suite in a clone's mountpoint. Satisfied by
// *executor.Executor.
type Executor interface {
	Run(mountpoint string) (*executor.Result, error)
}

// Options is the read-only run configuration shared by all workers.
type Options struct {
	Snapshot    string // dataset@snapshot to clone for each run
	Concurrency int    // number of workers (>= 1)
	StopAfter   int    // per-worker run limit; <= 0 means run until failure
	KeepSuccess bool   // retain clones from passing runs too
}

// TerminalCondition says why the run ended. An operator uses it to tell a
// real finding from an infrastructure problem.
type TerminalCondition string

const (
	StoppedOnFailure TerminalCondition = "test-failure"
	StoppedOnError   TerminalCondition = "provisioning-error"
	StoppedOnCancel  TerminalCondition = "cancelled"
	StoppedOnLimit   TerminalCondition = "run-limit"
)

// AttemptRecord describes one completed attempt.
type AttemptRecord struct {
	Worker     int           `json:"worker"`
	Attempt    int           `json:"attempt"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	Passed     bool          `json:"passed"`
	Retained   bool          `json:"retained"`
	Clone      string        `json:"clone"`
	ExitCode   int           `json:"exit_code"`
	Signal     string        `json:"signal,omitempty"`
	StdoutPath string        `json:"stdout_path,omitempty"`
	StderrPath string        `json:"stderr_path,omitempty"`
}

// WorkerReport summarizes one worker's portion of the run.
type WorkerReport struct {
	Worker        int            `json:"worker"`
	Attempts      int            `json:"attempts"`
	Failure       *AttemptRecord `json:"failure,omitempty"`      // set when this worker hit a failing run
	Err           string         `json:"error,omitempty"`        // worker-local fatal error, if any
	DestroyErrors []string       `json:"destroy_errors,omitempty"`
}

// Report is the terminal summary of a whole run.
type Report struct {
	Snapshot    string            `json:"snapshot"`
	WorkingArea string            `json:"working_area"`
	Condition   TerminalCondition `json:"condition"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	Workers     []WorkerReport    `json:"workers"`
}

// Retained returns the failing attempts whose clones were retained, across
// workers. (Clones kept by the keep-success option are not listed; they are
// enumerable from the working area itself.)
func (r *Report) Retained() []*AttemptRecord {
	var out []*AttemptRecord
	for i := range r.Workers {
		if f := r.Workers[i].Failure; f != nil && f.Retained {
			out = append(out, f)
		}
	}
	return out
}

// Runner owns one run. The stop signal is constructed here and shared by all
// workers; it is the only mutable cross-worker state.
type Runner struct {
	opts Options
	mgr  *clone.Manager
	exec Executor

	// stopping flips false→true exactly once, when any worker classifies a
	// failing run. It never resets for the lifetime of the run.
	stopping atomic.Bool
}

func New(opts Options, mgr *clone.Manager, exec Executor) *Runner {
	return &Runner{opts: opts, mgr: mgr, exec: exec}
}

// Stopping reports whether the shared stop signal has been set.
func (r *Runner) Stopping() bool { return r.stopping.Load() }

// Run creates the working area, starts the workers, and blocks until every
// worker has stopped. A non-nil error means the working area could not be
// provisioned and no worker was started.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if r.opts.Concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be at least 1, got %d", r.opts.Concurrency)
	}

	area, err := r.mgr.CreateWorkingArea(r.opts.Snapshot)
	if err != nil {
		return nil, err
	}
	slog.Info("created working area",
		slog.String("dataset", area.Dataset),
		slog.String("mountpoint", area.Mountpoint))

	rep := &Report{
		Snapshot:    r.opts.Snapshot,
		WorkingArea: area.Dataset,
		StartedAt:   time.Now(),
		Workers:     make([]WorkerReport, r.opts.Concurrency),
	}

	var wg sync.WaitGroup
	for i := 0; i < r.opts.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rep.Workers[id] = r.worker(ctx, id, area)
		}(i)
	}
	wg.Wait()

	rep.FinishedAt = time.Now()
	rep.Condition = r.condition(ctx, rep.Workers)

	if err := writeReport(area.Mountpoint, rep); err != nil {
		slog.Warn("could not persist run report", slog.Any("error", err))
	}
	return rep, nil
}

// worker is the per-worker control loop: check stop conditions, clone,
// execute, classify, clean up, repeat. Attempts within a worker are strictly
// sequential; a failing attempt sets the shared stop signal and ends the
// loop with its clone retained.
func (r *Runner) worker(ctx context.Context, id int, area *clone.WorkingArea) WorkerReport {
	wr := WorkerReport{Worker: id}
	for {
		if r.stopping.Load() || ctx.Err() != nil {
			return wr
		}
		if r.opts.StopAfter > 0 && wr.Attempts >= r.opts.StopAfter {
			return wr
		}

		rec, err := r.runOne(&wr, area)
		if err != nil {
			// Local fatal: this worker stops, the others keep running.
			wr.Err = err.Error()
			slog.Error("worker stopped by provisioning error",
				slog.Int("worker", id), slog.Any("error", err))
			return wr
		}
		wr.Attempts++

		if !rec.Passed {
			r.stopping.Store(true)
			wr.Failure = rec
			slog.Warn("test run failed, clone retained",
				slog.Int("worker", id),
				slog.Int("attempt", rec.Attempt),
				slog.Int("exit_code", rec.ExitCode),
				slog.String("clone", rec.Clone))
			return wr
		}
	}
}

// runOne carries out a single attempt. A returned error means the attempt's
// infrastructure failed (clone or launch); a returned record means the suite
// ran to completion, pass or fail.
func (r *Runner) runOne(wr *WorkerReport, area *clone.WorkingArea) (*AttemptRecord, error) {
	attempt := wr.Attempts
	c, err := r.mgr.CloneAttempt(r.opts.Snapshot, area, wr.Worker, attempt)
	if err != nil {
		return nil, err
	}

	rec := &AttemptRecord{
		Worker:    wr.Worker,
		Attempt:   attempt,
		StartedAt: time.Now(),
		Clone:     c.Dataset,
	}
	slog.Info("attempt started",
		slog.Int("worker", wr.Worker),
		slog.Int("attempt", attempt),
		slog.String("clone", c.Dataset))

	res, err := r.exec.Run(c.Mountpoint)
	if err != nil {
		// The suite never ran; keep the clone around for inspection.
		return nil, fmt.Errorf("running test suite in %s: %w", c.Mountpoint, err)
	}

	rec.Passed = res.Passed
	rec.Duration = res.Duration
	rec.ExitCode = res.ExitCode
	rec.Signal = res.Signal
	rec.StdoutPath = res.StdoutPath
	rec.StderrPath = res.StderrPath

	if !res.Passed || r.opts.KeepSuccess {
		rec.Retained = true
		return rec, nil
	}

	if derr := r.mgr.Destroy(c); derr != nil {
		// Leaked clone: log it, record it, keep looping.
		slog.Warn("destroy failed, clone leaked",
			slog.Int("worker", wr.Worker),
			slog.String("clone", c.Dataset),
			slog.Any("error", derr))
		wr.DestroyErrors = append(wr.DestroyErrors, derr.Error())
	}
	slog.Info("attempt passed",
		slog.Int("worker", wr.Worker),
		slog.Int("attempt", attempt),
		slog.Duration("duration", res.Duration))
	return rec, nil
}

// condition ranks terminal causes: a genuine test failure beats a
// worker-local provisioning error, which beats cancellation, which beats the
// run limit.
func (r *Runner) condition(ctx context.Context, workers []WorkerReport) TerminalCondition {
	for i := range workers {
		if workers[i].Failure != nil {
			return StoppedOnFailure
		}
	}
	for i := range workers {
		if workers[i].Err != "" {
			return StoppedOnError
		}
	}
	if ctx.Err() != nil {
		return StoppedOnCancel
	}
	return StoppedOnLimit
}

// reportFile is the run summary persisted into the working area.
const reportFile = "report.json"

// writeReport writes the report atomically (temp file + rename) into the
// working area's mountpoint.
func writeReport(mountpoint string, rep *Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(mountpoint, reportFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
