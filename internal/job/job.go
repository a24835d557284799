// Package job loads change-job definitions from the jobs directory.
//
// A job is a subdirectory of the jobs root holding exactly one YAML
// definition file plus the templates it references. The definition is an
// ordered list of change entries; order is preserved through the run.
package job

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Sentinel errors for job loading failures.
var (
	ErrJobNotFound  = errors.New("job not found")
	ErrMalformedJob = errors.New("malformed job definition")
)

// EntryError reports a validation failure for one change entry.
type EntryError struct {
	Index  int    // position in the definition file, 0-based
	Name   string // entry name if present
	Reason string
}

func (e *EntryError) Error() string {
	label := e.Name
	if label == "" {
		label = fmt.Sprintf("#%d", e.Index+1)
	}
	return fmt.Sprintf("entry %s: %s", label, e.Reason)
}

func (e *EntryError) Unwrap() error { return ErrMalformedJob }

// ChangeEntry is one unit of work: a template, the devices it applies to,
// and the variables substituted into it.
type ChangeEntry struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	DeviceNames []string          `yaml:"device_names"`
	Template    string            `yaml:"jinja2_template"`
	Variables   map[string]string `yaml:"variables"`
}

// Job is an ordered sequence of change entries loaded from one definition
// file. It is constructed once per invocation and not mutated afterwards.
type Job struct {
	Name    string
	Dir     string
	Entries []ChangeEntry
}

// TemplatePath resolves a template reference against the job directory.
func (j *Job) TemplatePath(name string) string {
	return filepath.Join(j.Dir, name)
}

// Load reads and validates the definition for the named job under jobsDir.
func Load(jobsDir, name string) (*Job, error) {
	dir := filepath.Join(jobsDir, name)

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: no job directory %s", ErrJobNotFound, dir)
	}

	defPath, err := findDefinition(dir)
	if err != nil {
		return nil, err
	}

	b, err := os.ReadFile(defPath)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}

	var entries []ChangeEntry
	if err := yaml.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: definition file %s holds no change entries", ErrMalformedJob, filepath.Base(defPath))
	}

	// normalize defaults
	for i := range entries {
		if entries[i].Variables == nil {
			entries[i].Variables = map[string]string{}
		}
	}

	jb := &Job{Name: name, Dir: dir, Entries: entries}
	if err := jb.validate(); err != nil {
		return nil, err
	}
	return jb, nil
}

// findDefinition locates the single YAML definition file in the job
// directory. Zero files means the job is incomplete; more than one is
// ambiguous and refused.
func findDefinition(dir string) (string, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read job directory: %w", err)
	}

	var found []string
	for _, de := range dirents {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml") {
			found = append(found, name)
		}
	}

	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: no definition file (*.yml, *.yaml) in %s", ErrJobNotFound, dir)
	case 1:
		return filepath.Join(dir, found[0]), nil
	default:
		return "", fmt.Errorf("%w: multiple definition files in %s: %s",
			ErrMalformedJob, dir, strings.Join(found, ", "))
	}
}

func (j *Job) validate() error {
	for i, e := range j.Entries {
		if e.Name == "" {
			return &EntryError{Index: i, Reason: "missing required field 'name'"}
		}
		if len(e.DeviceNames) == 0 {
			return &EntryError{Index: i, Name: e.Name, Reason: "missing or empty 'device_names'"}
		}
		for _, d := range e.DeviceNames {
			if strings.TrimSpace(d) == "" {
				return &EntryError{Index: i, Name: e.Name, Reason: "blank device name in 'device_names'"}
			}
		}
		if e.Template == "" {
			return &EntryError{Index: i, Name: e.Name, Reason: "missing required field 'jinja2_template'"}
		}
	}
	return nil
}
