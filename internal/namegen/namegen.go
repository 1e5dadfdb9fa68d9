// Package namegen produces the dataset names snaprun uses: one working-area
// name per process invocation and one deterministic clone name per
// (worker, attempt) pair. No function here touches the filesystem.
package namegen

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidName is returned (wrapped) when an input dataset path or snapshot
// reference is malformed.
var ErrInvalidName = errors.New("invalid name")

// nowMillis returns the current wall-clock time in Unix milliseconds.
// It is a variable so tests can override it.
var nowMillis = func() int64 {
	return time.Now().UnixMilli()
}

// WorkingAreaName returns the name for the per-invocation working dataset,
// a child of parentDataset suffixed with the current millisecond timestamp.
// Millisecond resolution makes collisions with leftovers of earlier runs
// practically impossible; an actual collision surfaces as a create error.
func WorkingAreaName(parentDataset string) (string, error) {
	if err := checkDataset(parentDataset); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/snaprun-%d", parentDataset, nowMillis()), nil
}

// AttemptName returns the clone dataset name for one attempt. It is pure and
// deterministic: distinct (worker, attempt) pairs always map to distinct
// names under the same working area, so concurrent workers never collide.
func AttemptName(workingArea string, worker, attempt int) (string, error) {
	if err := checkDataset(workingArea); err != nil {
		return "", err
	}
	if worker < 0 {
		return "", fmt.Errorf("%w: negative worker id %d", ErrInvalidName, worker)
	}
	if attempt < 0 {
		return "", fmt.Errorf("%w: negative attempt number %d", ErrInvalidName, attempt)
	}
	return fmt.Sprintf("%s/worker-%d-run-%d", workingArea, worker, attempt), nil
}

// SplitSnapshot splits a "dataset@snapshot" reference into its parts.
func SplitSnapshot(ref string) (dataset, snapshot string, err error) {
	dataset, snapshot, ok := strings.Cut(ref, "@")
	if !ok || snapshot == "" {
		return "", "", fmt.Errorf("%w: snapshot reference %q must have the form dataset@snapshot", ErrInvalidName, ref)
	}
	if err := checkDataset(dataset); err != nil {
		return "", "", err
	}
	if strings.ContainsAny(snapshot, " \t\n@/") {
		return "", "", fmt.Errorf("%w: snapshot component %q contains illegal characters", ErrInvalidName, snapshot)
	}
	return dataset, snapshot, nil
}

// checkDataset rejects dataset paths that zfs itself would reject or that
// would break name composition ('@' or whitespace inside a dataset path).
func checkDataset(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty dataset path", ErrInvalidName)
	}
	if strings.ContainsAny(name, " \t\n@") {
		return fmt.Errorf("%w: dataset path %q contains illegal characters", ErrInvalidName, name)
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return fmt.Errorf("%w: dataset path %q must not begin or end with '/'", ErrInvalidName, name)
	}
	return nil
}
