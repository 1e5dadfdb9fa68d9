// Package config loads the optional snaprun.yaml run configuration that
// describes how the test suite is launched inside a clone.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
)

// Run describes the test-suite invocation. Zero-valued fields fall back to
// the defaults in Default.
type Run struct {
	// Command is the test-suite argv; Command[0] is the program.
	Command []string `yaml:"command"`
	// Dir is the working directory for the command, relative to the
	// clone's mountpoint.
	Dir string `yaml:"dir"`
	// Env holds extra environment variables for the command.
	Env map[string]string `yaml:"env"`
	// StdoutFile and StderrFile name the capture files created inside the
	// clone. Plain file names, no path separators.
	StdoutFile string `yaml:"stdout_file"`
	StderrFile string `yaml:"stderr_file"`
}

// Default returns the built-in run configuration: the Go distribution's own
// test suite, the workload this tool was written for.
func Default() Run {
	return Run{
		Command:    []string{"bash", "./all.bash"},
		Dir:        "goroot/src",
		StdoutFile: "test_run_stdout",
		StderrFile: "test_run_stderr",
	}
}

// Load reads a YAML run configuration from path, layered over Default.
func Load(path string) (Run, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values that would misbehave at run
// time.
func (c Run) Validate() error {
	if len(c.Command) == 0 {
		return fmt.Errorf("command must not be empty")
	}
	if filepath.IsAbs(c.Dir) {
		return fmt.Errorf("dir must be relative to the clone, got %q", c.Dir)
	}
	if strings.HasPrefix(c.Dir, "..") {
		return fmt.Errorf("dir must stay inside the clone, got %q", c.Dir)
	}
	for _, name := range []string{c.StdoutFile, c.StderrFile} {
		if name == "" {
			return fmt.Errorf("capture file names must not be empty")
		}
		if strings.ContainsRune(name, os.PathSeparator) {
			return fmt.Errorf("capture file name %q must not contain path separators", name)
		}
	}
	if c.StdoutFile == c.StderrFile {
		return fmt.Errorf("stdout_file and stderr_file must differ")
	}
	return nil
}

// EnvList returns Env as sorted KEY=VALUE strings for exec.Cmd.
func (c Run) EnvList() []string {
	if len(c.Env) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.Env))
	for k, v := range c.Env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
