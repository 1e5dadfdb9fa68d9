// Package executor runs the external test command inside a clone and
// classifies the outcome strictly by exit status.
package executor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// Executor describes how to run the test suite in a clone. The zero value is
// not usable; populate Command at minimum.
type Executor struct {
	Command    []string // argv; Command[0] is the program
	Dir        string   // subdirectory inside the clone to run in (may be empty)
	Env        []string // extra KEY=VALUE entries appended to the inherited environment
	StdoutFile string   // stdout capture file name, created inside the clone
	StderrFile string   // stderr capture file name, created inside the clone
}

// Result is the outcome of one test-suite run.
type Result struct {
	Passed     bool
	ExitCode   int    // -1 when terminated by a signal
	Signal     string // signal name when terminated abnormally, else ""
	StdoutPath string
	StderrPath string
	Duration   time.Duration
}

// Run launches the test command with its working directory inside the clone
// at mountpoint and waits for it to finish. It blocks for as long as the
// suite runs; there is no timeout. Exit code 0 means passed; any non-zero
// exit or signal termination means failed. A returned error means the suite
// could not be launched at all (an infrastructure problem, not a test
// failure).
func (e *Executor) Run(mountpoint string) (*Result, error) {
	if len(e.Command) == 0 {
		return nil, errors.New("executor: no command configured")
	}

	res := &Result{
		StdoutPath: filepath.Join(mountpoint, e.StdoutFile),
		StderrPath: filepath.Join(mountpoint, e.StderrFile),
	}

	// O_EXCL: each clone is fresh, so these files must not already exist.
	// A collision means the clone was reused, which the namer rules out.
	stdout, err := os.OpenFile(res.StdoutPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating stdout capture: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.OpenFile(res.StderrPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating stderr capture: %w", err)
	}
	defer stderr.Close()

	cmd := exec.Command(e.Command[0], e.Command[1:]...)
	cmd.Dir = filepath.Join(mountpoint, e.Dir)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if len(e.Env) > 0 {
		cmd.Env = append(os.Environ(), e.Env...)
	}

	start := time.Now()
	err = cmd.Run()
	res.Duration = time.Since(start)

	if err == nil {
		res.Passed = true
		return res, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		// The command never ran (not found, not executable, bad dir).
		return nil, fmt.Errorf("launching %s: %w", e.Command[0], err)
	}

	res.ExitCode = exitErr.ExitCode()
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		res.Signal = ws.Signal().String()
	}
	return res, nil
}
