// Package schemadiff compares object schemas between two orgs.
package schemadiff

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gourab8389/migrata-new/internal/org"
)

// Comparison scopes.
const (
	ScopeAll    = "all"
	ScopeSchema = "schema"
)

// FieldDiff is one detected mismatch on a shared field.
type FieldDiff struct {
	Field  string `json:"field"`
	Detail string `json:"detail"`
}

// ObjectDiff is the comparison outcome for one object type.
type ObjectDiff struct {
	Object                      string      `json:"object"`
	ExtraFieldsInSource         []string    `json:"extraFieldsInSource,omitempty"`
	PicklistValueDiffs          []FieldDiff `json:"picklistValueDiffs,omitempty"`
	CustomFieldDiffs            []FieldDiff `json:"customFieldDiffs,omitempty"`
	NonPicklistCustomFieldDiffs []FieldDiff `json:"nonPicklistCustomFieldDiffs,omitempty"`
	Error                       string      `json:"error,omitempty"`
}

// Clean reports whether the object's schemas are compatible.
func (d ObjectDiff) Clean() bool {
	return d.Error == "" &&
		len(d.ExtraFieldsInSource) == 0 &&
		len(d.PicklistValueDiffs) == 0 &&
		len(d.CustomFieldDiffs) == 0 &&
		len(d.NonPicklistCustomFieldDiffs) == 0
}

// Result is a full schema comparison across the enrolled objects.
type Result struct {
	ScheduleID string       `json:"scheduleId"`
	Scope      string       `json:"scope"`
	Objects    []ObjectDiff `json:"objects"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
}

// Progress is emitted after each object comparison.
type Progress struct {
	Object    string `json:"object"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Clean     bool   `json:"clean"`
}

// Request describes one comparison job.
type Request struct {
	ScheduleID string
	Objects    []string
	// Scope selects full comparison (ScopeAll) or only the configured
	// field list per object (ScopeSchema).
	Scope string
	// FieldScope lists the configured fields per object; consulted only
	// when Scope is ScopeSchema. Objects without an entry compare fully.
	FieldScope map[string][]string
}

// Engine runs schema comparisons object by object.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// Compare describes each object in both orgs and diffs the field sets.
// A describe failure marks that object's diff and continues; onProgress,
// when non-nil, is called after every object.
func (e *Engine) Compare(ctx context.Context, source, target org.Connection, req Request, onProgress func(Progress)) (Result, error) {
	scope := req.Scope
	if scope == "" {
		scope = ScopeAll
	}
	res := Result{ScheduleID: req.ScheduleID, Scope: scope, StartedAt: time.Now().UTC()}
	for i, object := range req.Objects {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		diff := e.compareObject(ctx, source, target, object, scope, req.FieldScope[object])
		res.Objects = append(res.Objects, diff)
		if onProgress != nil {
			onProgress(Progress{Object: object, Completed: i + 1, Total: len(req.Objects), Clean: diff.Clean()})
		}
	}
	res.FinishedAt = time.Now().UTC()
	return res, nil
}

func (e *Engine) compareObject(ctx context.Context, source, target org.Connection, object, scope string, fieldScope []string) ObjectDiff {
	diff := ObjectDiff{Object: object}
	srcFields, err := source.Describe(ctx, object)
	if err != nil {
		diff.Error = fmt.Sprintf("describe source: %v", err)
		return diff
	}
	tgtFields, err := target.Describe(ctx, object)
	if err != nil {
		diff.Error = fmt.Sprintf("describe target: %v", err)
		return diff
	}
	if scope == ScopeSchema && len(fieldScope) > 0 {
		srcFields = restrict(srcFields, fieldScope)
		tgtFields = restrict(tgtFields, fieldScope)
	}
	fillDiff(&diff, srcFields, tgtFields)
	return diff
}

func restrict(fields []org.FieldDescriptor, allowed []string) []org.FieldDescriptor {
	keep := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		keep[name] = true
	}
	var out []org.FieldDescriptor
	for _, f := range fields {
		if keep[f.Name] {
			out = append(out, f)
		}
	}
	return out
}

// fillDiff compares source fields against the target field set. Fields
// only in the target are never reported. All comparisons are exact.
func fillDiff(diff *ObjectDiff, src, tgt []org.FieldDescriptor) {
	byName := make(map[string]org.FieldDescriptor, len(tgt))
	for _, f := range tgt {
		byName[f.Name] = f
	}
	for _, sf := range src {
		tf, ok := byName[sf.Name]
		if !ok {
			diff.ExtraFieldsInSource = append(diff.ExtraFieldsInSource, sf.Name)
			continue
		}
		if isPicklist(sf.Type) {
			if detail, equal := picklistsEqual(sf.PicklistValues, tf.PicklistValues); !equal {
				diff.PicklistValueDiffs = append(diff.PicklistValueDiffs,
					FieldDiff{Field: sf.Name, Detail: detail})
			}
		}
		if isModifiableCustom(sf.Name) {
			if detail, equal := attributesEqual(sf, tf); !equal {
				diff.CustomFieldDiffs = append(diff.CustomFieldDiffs,
					FieldDiff{Field: sf.Name, Detail: detail})
				if !isPicklist(sf.Type) {
					diff.NonPicklistCustomFieldDiffs = append(diff.NonPicklistCustomFieldDiffs,
						FieldDiff{Field: sf.Name, Detail: detail})
				}
			}
		}
	}
}

func isPicklist(fieldType string) bool {
	return fieldType == "picklist" || fieldType == "multipicklist"
}

// isModifiableCustom matches local-package custom fields: exactly two
// segments around the "__" delimiter.
func isModifiableCustom(name string) bool {
	return len(strings.Split(name, "__")) == 2
}

// attributesEqual compares the full attribute set of a shared field.
func attributesEqual(s, t org.FieldDescriptor) (string, bool) {
	switch {
	case s.Label != t.Label:
		return fmt.Sprintf("label: source %q, target %q", s.Label, t.Label), false
	case s.Type != t.Type:
		return fmt.Sprintf("type: source %s, target %s", s.Type, t.Type), false
	case s.Length != t.Length:
		return fmt.Sprintf("length: source %d, target %d", s.Length, t.Length), false
	case s.Unique != t.Unique:
		return "unique flag differs", false
	case s.Nillable != t.Nillable:
		return "nillable flag differs", false
	case s.Calculated != t.Calculated:
		return "calculated flag differs", false
	case s.Scale != t.Scale:
		return fmt.Sprintf("scale: source %d, target %d", s.Scale, t.Scale), false
	case s.Custom != t.Custom:
		return "custom flag differs", false
	}
	return "", true
}

// picklistsEqual compares picklists by value: same length and, for every
// source value, a target entry with the same label, active flag, default
// flag and validFor mask.
func picklistsEqual(src, tgt []org.PicklistValue) (string, bool) {
	if len(src) != len(tgt) {
		return fmt.Sprintf("source has %d values, target has %d", len(src), len(tgt)), false
	}
	byValue := make(map[string]org.PicklistValue, len(tgt))
	for _, v := range tgt {
		byValue[v.Value] = v
	}
	for _, s := range src {
		t, ok := byValue[s.Value]
		if !ok {
			return fmt.Sprintf("value %q absent from target", s.Value), false
		}
		switch {
		case s.Label != t.Label:
			return fmt.Sprintf("value %q label differs", s.Value), false
		case s.Active != t.Active:
			return fmt.Sprintf("value %q active flag differs", s.Value), false
		case s.Default != t.Default:
			return fmt.Sprintf("value %q default flag differs", s.Value), false
		case s.ValidFor != t.ValidFor:
			return fmt.Sprintf("value %q validFor differs", s.Value), false
		}
	}
	return "", true
}
