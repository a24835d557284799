// Package template renders device configuration text from Jinja2-style
// templates. Only simple `{{ variable_name }}` substitution is contractual;
// substitution is strict, an unresolved placeholder is an error rather than
// blank output.
package template

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	texttemplate "text/template"
)

// Sentinel errors for render failures.
var (
	ErrTemplateNotFound  = errors.New("template not found")
	ErrUndefinedVariable = errors.New("undefined template variable")
)

// UndefinedVariableError names the variables a template references that were
// not supplied.
type UndefinedVariableError struct {
	Template string
	Missing  []string
}

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("template %s references undefined variables: %s",
		e.Template, strings.Join(e.Missing, ", "))
}

func (e *UndefinedVariableError) Unwrap() error { return ErrUndefinedVariable }

// placeholderPattern matches `{{ name }}` with optional inner whitespace.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Render loads the template at path and substitutes each `{{ name }}`
// placeholder with vars[name]. Pure: identical inputs always produce
// identical output.
func Render(path string, vars map[string]string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, path)
		}
		return "", fmt.Errorf("read template %s: %w", path, err)
	}
	return render(path, string(b), vars)
}

func render(name, text string, vars map[string]string) (string, error) {
	if missing := missingVars(text, vars); len(missing) > 0 {
		return "", &UndefinedVariableError{Template: name, Missing: missing}
	}

	// Rewrite Jinja2 placeholders to Go template index expressions so that
	// variable names with characters invalid in Go field names still work.
	goText := placeholderPattern.ReplaceAllString(text, `{{index . "$1"}}`)

	tpl, err := texttemplate.New(name).Option("missingkey=error").Parse(goText)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}

	var sb strings.Builder
	if err := tpl.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return sb.String(), nil
}

// missingVars returns the sorted, deduplicated placeholder names in text
// that have no entry in vars.
func missingVars(text string, vars map[string]string) []string {
	seen := map[string]bool{}
	var missing []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// Variables returns the sorted, deduplicated placeholder names referenced by
// the template at path.
func Variables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, path)
		}
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}
	seen := map[string]bool{}
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(string(b), -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	sort.Strings(names)
	return names, nil
}
