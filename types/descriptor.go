package types

import (
	"fmt"
	"time"
)

// PrimaryModeName is the implicit mode every test supports when its
// descriptor declares no modes of its own.
const PrimaryModeName = "primary"

// Mode is a named execution variant of a test. Params are made available
// to the test's lifecycle hooks (command argument substitution and the
// job environment).
type Mode struct {
	Name   string            `yaml:"name"`
	Params map[string]string `yaml:"params,omitempty"`
}

// Step is one external command run during a lifecycle stage.
type Step struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// GrepCheck is a declarative validation: the named log file must (or must
// not) contain a line matching the pattern.
type GrepCheck struct {
	File     string `yaml:"file"`
	Pattern  string `yaml:"pattern"`
	Absent   bool   `yaml:"absent,omitempty"`
	WaitFor  bool   `yaml:"wait_for,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"`
}

// LifecycleSteps are the declared command steps for descriptor-driven tests.
type LifecycleSteps struct {
	Setup    []Step      `yaml:"setup,omitempty"`
	Execute  []Step      `yaml:"execute,omitempty"`
	Validate []GrepCheck `yaml:"validate,omitempty"`
	Cleanup  []Step      `yaml:"cleanup,omitempty"`
}

// TestDescriptor is the static representation of a test case. Descriptors
// are created at discovery time and never mutated afterwards.
type TestDescriptor struct {
	ID                string         `yaml:"id"`
	Title             string         `yaml:"title,omitempty"`
	Modes             []Mode         `yaml:"modes,omitempty"`
	SkipReason        string         `yaml:"skip,omitempty"`
	Requires          []string       `yaml:"requires,omitempty"`
	Groups            []string       `yaml:"groups,omitempty"`
	Timeout           time.Duration  `yaml:"timeout,omitempty"`
	ExpectedExitCodes []int          `yaml:"expected_exit_codes,omitempty"`
	Order             int            `yaml:"order,omitempty"`
	Steps             LifecycleSteps `yaml:"steps,omitempty"`
}

// SupportedModes returns the declared modes, or the implicit primary mode
// when the descriptor declares none.
func (d *TestDescriptor) SupportedModes() []Mode {
	if len(d.Modes) == 0 {
		return []Mode{{Name: PrimaryModeName}}
	}
	return d.Modes
}

// ModeNamed looks up a mode by name.
func (d *TestDescriptor) ModeNamed(name string) (Mode, error) {
	for _, m := range d.SupportedModes() {
		if m.Name == name {
			return m, nil
		}
	}
	return Mode{}, fmt.Errorf("test %s has no mode %q", d.ID, name)
}

// Skipped reports whether the test is statically skipped.
func (d *TestDescriptor) Skipped() bool {
	return d.SkipReason != ""
}

// ExpectsExit reports whether the given exit code is declared as expected.
// Zero is always expected unless the descriptor says otherwise.
func (d *TestDescriptor) ExpectsExit(code int) bool {
	if len(d.ExpectedExitCodes) == 0 {
		return code == 0
	}
	for _, c := range d.ExpectedExitCodes {
		if c == code {
			return true
		}
	}
	return false
}

// HasRequirement reports whether the descriptor declares the named
// capability tag.
func (d *TestDescriptor) HasRequirement(tag string) bool {
	for _, r := range d.Requires {
		if r == tag {
			return true
		}
	}
	return false
}

// InGroup reports whether the descriptor belongs to the named group.
func (d *TestDescriptor) InGroup(group string) bool {
	for _, g := range d.Groups {
		if g == group {
			return true
		}
	}
	return false
}
