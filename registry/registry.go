package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-systest/types"
)

// DescriptorError reports malformed test metadata. It aborts the run; a
// registry that loaded is guaranteed internally consistent.
type DescriptorError struct {
	Path   string
	Reason string
}

func (e *DescriptorError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("descriptor error: %s", e.Reason)
	}
	return fmt.Sprintf("descriptor error in %s: %s", e.Path, e.Reason)
}

// Registry manages loaded test descriptors.
type Registry struct {
	config      Config
	descriptors []types.TestDescriptor
	mu          sync.RWMutex
}

// Config contains registry configuration.
type Config struct {
	Log            log.Logger
	DescriptorFile string
	DefaultTimeout time.Duration
}

// Selection is one (test, mode) pair chosen for execution.
type Selection struct {
	Descriptor *types.TestDescriptor
	Mode       types.Mode
}

// ModeAll requests every declared mode of every selected test.
const ModeAll = "ALL"

// NewRegistry creates a registry and loads the descriptor file.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.DescriptorFile == "" {
		return nil, fmt.Errorf("descriptor file is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	r := &Registry{config: cfg}
	if err := r.load(cfg.DescriptorFile); err != nil {
		return nil, err
	}

	cfg.Log.Debug("Registry loaded", "len(descriptors)", len(r.descriptors))
	return r, nil
}

// raw yaml shapes; durations are strings so operators can write "30s".
type rawFile struct {
	Tests []rawTest `yaml:"tests"`
}

type rawTest struct {
	ID                string            `yaml:"id"`
	Title             string            `yaml:"title"`
	Skip              string            `yaml:"skip"`
	Requires          []string          `yaml:"requires"`
	Groups            []string          `yaml:"groups"`
	Timeout           string            `yaml:"timeout"`
	Order             int               `yaml:"order"`
	ExpectedExitCodes []int             `yaml:"expected_exit_codes"`
	Modes             []rawMode         `yaml:"modes"`
	Setup             []types.Step      `yaml:"setup"`
	Execute           []types.Step      `yaml:"execute"`
	Validate          []rawCheck        `yaml:"validate"`
	Cleanup           []types.Step      `yaml:"cleanup"`
}

type rawMode struct {
	Name     string            `yaml:"name"`
	Inherits string            `yaml:"inherits"`
	Params   map[string]string `yaml:"params"`
}

type rawCheck struct {
	File     string `yaml:"file"`
	Pattern  string `yaml:"pattern"`
	Absent   bool   `yaml:"absent"`
	WaitFor  bool   `yaml:"wait_for"`
	Interval string `yaml:"interval"`
}

func (r *Registry) load(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading descriptor file: %w", err)
	}

	// Schema check first, so operators get field-level diagnostics before
	// any semantic validation runs.
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return &DescriptorError{Path: path, Reason: fmt.Sprintf("parsing yaml: %v", err)}
	}
	jsonDoc, err := normalizeForSchema(doc)
	if err != nil {
		return &DescriptorError{Path: path, Reason: err.Error()}
	}
	if err := validateSchema(jsonDoc); err != nil {
		return &DescriptorError{Path: path, Reason: err.Error()}
	}

	var file rawFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return &DescriptorError{Path: path, Reason: fmt.Sprintf("parsing yaml: %v", err)}
	}

	descriptors, err := r.buildDescriptors(path, file)
	if err != nil {
		return err
	}

	r.descriptors = descriptors
	return nil
}

// normalizeForSchema round-trips a yaml-decoded document through JSON so
// the schema validator sees plain JSON types.
func normalizeForSchema(doc any) (any, error) {
	buf, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("normalizing document: %v", err)
	}
	out, err := jsonschema.UnmarshalJSON(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("normalizing document: %v", err)
	}
	return out, nil
}

func (r *Registry) buildDescriptors(path string, file rawFile) ([]types.TestDescriptor, error) {
	seen := make(map[string]bool)
	descriptors := make([]types.TestDescriptor, 0, len(file.Tests))

	for _, raw := range file.Tests {
		if raw.ID == "" {
			return nil, &DescriptorError{Path: path, Reason: "test with missing id"}
		}
		if seen[raw.ID] {
			return nil, &DescriptorError{Path: path, Reason: fmt.Sprintf("duplicate test id %q", raw.ID)}
		}
		seen[raw.ID] = true

		modes, err := resolveModes(raw)
		if err != nil {
			return nil, &DescriptorError{Path: path, Reason: err.Error()}
		}

		timeout := r.config.DefaultTimeout
		if raw.Timeout != "" {
			timeout, err = time.ParseDuration(raw.Timeout)
			if err != nil {
				return nil, &DescriptorError{Path: path, Reason: fmt.Sprintf("test %s: invalid timeout %q", raw.ID, raw.Timeout)}
			}
		}

		checks, err := buildChecks(raw)
		if err != nil {
			return nil, &DescriptorError{Path: path, Reason: err.Error()}
		}

		descriptors = append(descriptors, types.TestDescriptor{
			ID:                raw.ID,
			Title:             raw.Title,
			Modes:             modes,
			SkipReason:        raw.Skip,
			Requires:          raw.Requires,
			Groups:            raw.Groups,
			Timeout:           timeout,
			ExpectedExitCodes: raw.ExpectedExitCodes,
			Order:             raw.Order,
			Steps: types.LifecycleSteps{
				Setup:    raw.Setup,
				Execute:  raw.Execute,
				Validate: checks,
				Cleanup:  raw.Cleanup,
			},
		})
	}

	return descriptors, nil
}

// resolveModes flattens mode inheritance: an inheriting mode starts from its
// parent's params and overlays its own. Cyclic or dangling references are
// descriptor errors.
func resolveModes(raw rawTest) ([]types.Mode, error) {
	if len(raw.Modes) == 0 {
		return nil, nil
	}

	byName := make(map[string]rawMode, len(raw.Modes))
	for _, m := range raw.Modes {
		if _, dup := byName[m.Name]; dup {
			return nil, fmt.Errorf("test %s: duplicate mode %q", raw.ID, m.Name)
		}
		byName[m.Name] = m
	}

	var resolve func(name string, visiting map[string]bool) (map[string]string, error)
	resolve = func(name string, visiting map[string]bool) (map[string]string, error) {
		if visiting[name] {
			return nil, fmt.Errorf("test %s: cyclic mode reference at %q", raw.ID, name)
		}
		m, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("test %s: mode inherits from non-existent mode %q", raw.ID, name)
		}

		params := make(map[string]string)
		if m.Inherits != "" {
			visiting[name] = true
			defer delete(visiting, name)
			inherited, err := resolve(m.Inherits, visiting)
			if err != nil {
				return nil, err
			}
			for k, v := range inherited {
				params[k] = v
			}
		}
		for k, v := range m.Params {
			params[k] = v
		}
		return params, nil
	}

	modes := make([]types.Mode, 0, len(raw.Modes))
	for _, m := range raw.Modes {
		params, err := resolve(m.Name, make(map[string]bool))
		if err != nil {
			return nil, err
		}
		if len(params) == 0 {
			params = nil
		}
		modes = append(modes, types.Mode{Name: m.Name, Params: params})
	}
	return modes, nil
}

func buildChecks(raw rawTest) ([]types.GrepCheck, error) {
	if len(raw.Validate) == 0 {
		return nil, nil
	}
	checks := make([]types.GrepCheck, 0, len(raw.Validate))
	for _, c := range raw.Validate {
		var interval time.Duration
		if c.Interval != "" {
			var err error
			interval, err = time.ParseDuration(c.Interval)
			if err != nil {
				return nil, fmt.Errorf("test %s: invalid check interval %q", raw.ID, c.Interval)
			}
		}
		checks = append(checks, types.GrepCheck{
			File:     c.File,
			Pattern:  c.Pattern,
			Absent:   c.Absent,
			WaitFor:  c.WaitFor,
			Interval: interval,
		})
	}
	return checks, nil
}

// Descriptors returns all loaded descriptors.
func (r *Registry) Descriptors() []types.TestDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.descriptors
}

// Select applies id and mode filters to the loaded descriptors and returns
// the resulting (test, mode) pairs. An unmatched filter yields an empty
// selection, not an error; callers decide whether that is fatal.
//
// Id filters: exact id, "~substring", "group:<name>", "requires:<tag>",
// each negatable with a leading "!". Mode filter: empty selects only the primary (first) mode,
// ModeAll selects every mode, anything else selects that mode by name.
func (r *Registry) Select(idFilters []string, modeFilter string) []Selection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var includes, excludes []string
	for _, f := range idFilters {
		if rest, ok := strings.CutPrefix(f, "!"); ok {
			excludes = append(excludes, rest)
		} else {
			includes = append(includes, f)
		}
	}

	var selection []Selection
	for i := range r.descriptors {
		d := &r.descriptors[i]
		if !matchAny(d, includes, true) || matchAny(d, excludes, false) {
			continue
		}

		modes := d.SupportedModes()
		switch modeFilter {
		case "":
			selection = append(selection, Selection{Descriptor: d, Mode: modes[0]})
		case ModeAll:
			for _, m := range modes {
				selection = append(selection, Selection{Descriptor: d, Mode: m})
			}
		default:
			for _, m := range modes {
				if m.Name == modeFilter {
					selection = append(selection, Selection{Descriptor: d, Mode: m})
				}
			}
		}
	}

	sort.SliceStable(selection, func(i, j int) bool {
		a, b := selection[i].Descriptor, selection[j].Descriptor
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.ID < b.ID
	})
	return selection
}

// matchAny reports whether any filter matches the descriptor. An empty
// filter list matches everything when emptyMatches is set (inclusion) and
// nothing otherwise (exclusion).
func matchAny(d *types.TestDescriptor, filters []string, emptyMatches bool) bool {
	if len(filters) == 0 {
		return emptyMatches
	}
	for _, f := range filters {
		if sub, ok := strings.CutPrefix(f, "~"); ok {
			if strings.Contains(d.ID, sub) {
				return true
			}
			continue
		}
		if group, ok := strings.CutPrefix(f, "group:"); ok {
			if d.InGroup(group) {
				return true
			}
			continue
		}
		if tag, ok := strings.CutPrefix(f, "requires:"); ok {
			if d.HasRequirement(tag) {
				return true
			}
			continue
		}
		if d.ID == f {
			return true
		}
	}
	return false
}
