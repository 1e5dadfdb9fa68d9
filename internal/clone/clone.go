// Package clone manages the lifecycle of the working area and the
// per-attempt clone datasets. It owns the error taxonomy that separates
// fatal, worker-local, and best-effort filesystem failures.
package clone

import (
	"fmt"
	"strings"

	"github.com/user/snaprun/internal/namegen"
)

// VolumeManager is the underlying snapshot/clone primitive set. Operations
// are assumed atomic and immediately visible; none of them is retried.
type VolumeManager interface {
	CreateDataset(name string) error
	CloneSnapshot(snapshotRef, dest string) error
	DestroyDataset(name string) error
	Mountpoint(name string) (string, error)
}

// ProvisioningError reports a failed attempt to create filesystem state
// (working area, clone, or mountpoint lookup). Whether it is fatal to the
// whole process or only to one worker depends on which operation failed;
// the runner makes that call.
type ProvisioningError struct {
	Op   string // "create", "clone", or "mountpoint"
	Name string // dataset involved
	Err  error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning %s: %s: %v", e.Name, e.Op, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// DestroyError reports a failed destroy of a non-retained clone. The clone is
// leaked, which is an operational nuisance, not a correctness violation.
type DestroyError struct {
	Name string
	Err  error
}

func (e *DestroyError) Error() string {
	return fmt.Sprintf("destroying %s: %v", e.Name, e.Err)
}

func (e *DestroyError) Unwrap() error { return e.Err }

// WorkingArea is the per-invocation dataset under which all attempt clones
// nest. It is created once at startup and never destroyed by snaprun itself.
type WorkingArea struct {
	Dataset    string
	Mountpoint string
}

// Clone is one attempt's writable dataset.
type Clone struct {
	Dataset    string
	Mountpoint string
}

// Manager issues create/clone/destroy calls against a VolumeManager. Each
// operation maps to exactly one primitive call; callers must call destroy at
// most once per clone.
type Manager struct {
	vm VolumeManager
}

func NewManager(vm VolumeManager) *Manager {
	return &Manager{vm: vm}
}

// CreateWorkingArea creates the working dataset next to the snapshot's
// dataset. A failure here means the environment is broken: the caller must
// abort before starting any worker.
func (m *Manager) CreateWorkingArea(snapshotRef string) (*WorkingArea, error) {
	dataset, _, err := namegen.SplitSnapshot(snapshotRef)
	if err != nil {
		return nil, err
	}
	name, err := namegen.WorkingAreaName(dataset)
	if err != nil {
		return nil, err
	}
	if err := m.vm.CreateDataset(name); err != nil {
		return nil, &ProvisioningError{Op: "create", Name: name, Err: err}
	}
	mp, err := m.mountpoint(name)
	if err != nil {
		return nil, err
	}
	return &WorkingArea{Dataset: name, Mountpoint: mp}, nil
}

// CloneAttempt clones snapshotRef into the deterministic dataset for
// (worker, attempt) under the working area. A failure here (exhaustion,
// collision) is fatal only to the issuing worker.
func (m *Manager) CloneAttempt(snapshotRef string, area *WorkingArea, worker, attempt int) (*Clone, error) {
	name, err := namegen.AttemptName(area.Dataset, worker, attempt)
	if err != nil {
		return nil, err
	}
	if err := m.vm.CloneSnapshot(snapshotRef, name); err != nil {
		return nil, &ProvisioningError{Op: "clone", Name: name, Err: err}
	}
	mp, err := m.mountpoint(name)
	if err != nil {
		return nil, err
	}
	return &Clone{Dataset: name, Mountpoint: mp}, nil
}

// Destroy destroys a clone's dataset. Best-effort: the caller logs the
// returned DestroyError and keeps going.
func (m *Manager) Destroy(c *Clone) error {
	if err := m.vm.DestroyDataset(c.Dataset); err != nil {
		return &DestroyError{Name: c.Dataset, Err: err}
	}
	return nil
}

// mountpoint resolves a dataset's mountpoint and rejects unmounted datasets
// ("none", "legacy", "-"): the test suite needs a real path to run in.
func (m *Manager) mountpoint(name string) (string, error) {
	mp, err := m.vm.Mountpoint(name)
	if err != nil {
		return "", &ProvisioningError{Op: "mountpoint", Name: name, Err: err}
	}
	if !strings.HasPrefix(mp, "/") {
		return "", &ProvisioningError{Op: "mountpoint", Name: name,
			Err: fmt.Errorf("dataset is not mounted (mountpoint %q)", mp)}
	}
	return mp, nil
}
