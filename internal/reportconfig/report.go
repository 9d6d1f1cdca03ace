// Package reportconfig loads the per-report step lists that drive the UI
// automation. A report config is an ordered JSON object mapping step names to
// their reference images and action; key order is the execution order.
package reportconfig

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var (
	ErrConfigNotFound = errors.New("reportconfig: report config not found")
	ErrInvalidConfig  = errors.New("reportconfig: invalid report config")
	ErrUnknownAction  = errors.New("reportconfig: unknown action")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const metaKey = "_meta"

// Meta carries optional login confirmation hints.
type Meta struct {
	LoginSuccessImage    string `json:"login_success_image,omitempty"`
	PasswordExpiredImage string `json:"password_expired_image,omitempty"`
}

// merge fills empty fields of m from other.
func (m *Meta) merge(other *Meta) {
	if other == nil {
		return
	}
	if m.LoginSuccessImage == "" {
		m.LoginSuccessImage = other.LoginSuccessImage
	}
	if m.PasswordExpiredImage == "" {
		m.PasswordExpiredImage = other.PasswordExpiredImage
	}
}

// Step is one entry of a report config.
type Step struct {
	Name       string
	Kind       Kind
	Images     []string
	DateFormat string
}

// Image returns the i-th reference image or an error naming the step.
func (s Step) Image(i int) (string, error) {
	if i < 0 || i >= len(s.Images) || s.Images[i] == "" {
		return "", fmt.Errorf("%w: step %q has no image #%d", ErrInvalidConfig, s.Name, i)
	}
	return s.Images[i], nil
}

// Report is a parsed report config.
type Report struct {
	Name  string
	Path  string
	Steps []Step
	Meta  Meta
}

type rawStep struct {
	Images     []string `json:"images"`
	Action     string   `json:"action"`
	DateFormat string   `json:"date_format"`
	Meta       *Meta    `json:"_meta"`
}

// Parse decodes a report config, keeping the document's key order. A top-level
// "_meta" entry and any step-level "_meta" blocks feed Report.Meta; the
// top-level block wins on conflicts.
func Parse(name string, data []byte) (*Report, error) {
	report := &Report{Name: name}
	var stepMetas []*Meta
	var parseErr error

	iter := jsoniter.ParseBytes(json, data)
	if iter.WhatIsNext() != jsoniter.ObjectValue {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrInvalidConfig)
	}
	iter.ReadMapCB(func(it *jsoniter.Iterator, key string) bool {
		raw := it.SkipAndReturnBytes()
		if it.Error != nil {
			return false
		}
		if key == metaKey {
			var meta Meta
			if err := json.Unmarshal(raw, &meta); err != nil {
				parseErr = fmt.Errorf("%w: %s: %v", ErrInvalidConfig, metaKey, err)
				return false
			}
			report.Meta = meta
			return true
		}

		var rs rawStep
		if err := json.Unmarshal(raw, &rs); err != nil {
			parseErr = fmt.Errorf("%w: step %q: %v", ErrInvalidConfig, key, err)
			return false
		}
		kind, err := ParseKind(rs.Action)
		if err != nil {
			parseErr = fmt.Errorf("step %q: %w", key, err)
			return false
		}
		report.Steps = append(report.Steps, Step{
			Name:       key,
			Kind:       kind,
			Images:     rs.Images,
			DateFormat: rs.DateFormat,
		})
		stepMetas = append(stepMetas, rs.Meta)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	if iter.Error != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, iter.Error)
	}

	for _, m := range stepMetas {
		report.Meta.merge(m)
	}
	return report, nil
}

// LoginStep returns the first login step and its index.
func (r *Report) LoginStep() (Step, int, bool) {
	return r.find(KindLogin)
}

// ExpiryCheckStep returns the password expiry check step, if any.
func (r *Report) ExpiryCheckStep() (Step, bool) {
	s, _, ok := r.find(KindCheckPasswordExpired)
	return s, ok
}

// Step looks a step up by name.
func (r *Report) Step(name string) (Step, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

// NextStepImage returns the first image of the first regular step after the
// login step. Login-only steps are skipped: a password check dialog is not a
// sign that the login went through. Empty when there is no such image.
func (r *Report) NextStepImage() string {
	_, idx, ok := r.LoginStep()
	if !ok {
		return ""
	}
	for _, next := range r.Steps[idx+1:] {
		if next.Kind.LoginOnly() {
			continue
		}
		if len(next.Images) == 0 {
			return ""
		}
		return next.Images[0]
	}
	return ""
}

// WithoutLoginSteps returns a copy of the report without login-only steps.
func (r *Report) WithoutLoginSteps() *Report {
	out := &Report{Name: r.Name, Path: r.Path, Meta: r.Meta}
	for _, s := range r.Steps {
		if s.Kind.LoginOnly() {
			continue
		}
		out.Steps = append(out.Steps, s)
	}
	return out
}

func (r *Report) find(kind Kind) (Step, int, bool) {
	for i, s := range r.Steps {
		if s.Kind == kind {
			return s, i, true
		}
	}
	return Step{}, -1, false
}
