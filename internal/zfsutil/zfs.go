// Package zfsutil wraps the zfs command-line tool. It is the only place in
// snaprun that mutates real filesystem state; every call maps to exactly one
// zfs invocation with no retries.
package zfsutil

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// runCmd executes a command and returns trimmed stdout. Stderr is captured
// and folded into the error. It is a variable so tests can override it.
var runCmd = func(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s: %w\n%s", name, strings.Join(args, " "), err, errBuf.String())
	}
	return strings.TrimSpace(out.String()), nil
}

// ZFS invokes the system zfs tool.
type ZFS struct {
	// PrivCmd, when non-empty, prefixes mutating invocations
	// (create/clone/destroy) with a privilege escalation command such as
	// "pfexec" or "sudo". Read-only lookups always run unprefixed.
	PrivCmd string
}

// mutate runs a state-changing zfs subcommand, honoring PrivCmd.
func (z *ZFS) mutate(args ...string) error {
	var err error
	if z.PrivCmd != "" {
		_, err = runCmd(z.PrivCmd, append([]string{"zfs"}, args...)...)
	} else {
		_, err = runCmd("zfs", args...)
	}
	return err
}

// CreateDataset creates a new dataset.
func (z *ZFS) CreateDataset(name string) error {
	return z.mutate("create", name)
}

// CloneSnapshot creates a writable clone of snapshotRef at dest.
func (z *ZFS) CloneSnapshot(snapshotRef, dest string) error {
	return z.mutate("clone", snapshotRef, dest)
}

// DestroyDataset destroys a dataset. Destroying an already-destroyed dataset
// is an error; callers must not issue the call twice.
func (z *ZFS) DestroyDataset(name string) error {
	return z.mutate("destroy", name)
}

// DestroyRecursive destroys a dataset and all of its descendants. Used by
// "snaprun clean" on leftover working areas that still contain clones.
func (z *ZFS) DestroyRecursive(name string) error {
	return z.mutate("destroy", "-r", name)
}

// Mountpoint returns the mountpoint property of a dataset.
func (z *ZFS) Mountpoint(name string) (string, error) {
	return runCmd("zfs", "list", "-H", "-o", "mountpoint", name)
}

// ListChildren returns the names of all descendants of name, excluding name
// itself.
func (z *ZFS) ListChildren(name string) ([]string, error) {
	out, err := runCmd("zfs", "list", "-r", "-H", "-o", "name", name)
	if err != nil {
		return nil, err
	}
	var children []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == name {
			continue
		}
		children = append(children, line)
	}
	return children, nil
}
