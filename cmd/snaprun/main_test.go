package main

import (
	"testing"

	"github.com/user/snaprun/internal/runner"
)

func TestStopPolicy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		stopAfter int
		want      string
	}{
		{0, "after any run fails"},
		{-1, "after any run fails"},
		{1, "after all workers do 1 run"},
		{5, "after all workers do 5 runs"},
	}
	for _, tt := range tests {
		if got := stopPolicy(tt.stopAfter); got != tt.want {
			t.Errorf("stopPolicy(%d) = %q, want %q", tt.stopAfter, got, tt.want)
		}
	}
}

func TestWorkerResult(t *testing.T) {
	t.Parallel()
	if got := workerResult(runner.WorkerReport{}); got != "ok" {
		t.Errorf("clean worker = %q, want ok", got)
	}
	if got := workerResult(runner.WorkerReport{Err: "out of space"}); got != "out of space" {
		t.Errorf("errored worker = %q", got)
	}
	got := workerResult(runner.WorkerReport{
		Failure: &runner.AttemptRecord{ExitCode: 2},
	})
	if got != "test failed (exited with code 2)" {
		t.Errorf("failed worker = %q", got)
	}
}

func TestExitSummary(t *testing.T) {
	t.Parallel()
	if got := exitSummary(&runner.AttemptRecord{ExitCode: 3}); got != "exited with code 3" {
		t.Errorf("exitSummary = %q", got)
	}
	if got := exitSummary(&runner.AttemptRecord{ExitCode: -1, Signal: "terminated"}); got != "terminated by signal terminated" {
		t.Errorf("exitSummary = %q", got)
	}
}

func TestDescribeCondition(t *testing.T) {
	t.Parallel()
	tests := []struct {
		cond runner.TerminalCondition
		want string
	}{
		{runner.StoppedOnFailure, "a test run failed"},
		{runner.StoppedOnError, "a worker hit a provisioning error"},
		{runner.StoppedOnCancel, "interrupted"},
		{runner.StoppedOnLimit, "run limit reached"},
	}
	for _, tt := range tests {
		if got := describeCondition(tt.cond); got != tt.want {
			t.Errorf("describeCondition(%s) = %q, want %q", tt.cond, got, tt.want)
		}
	}
}
