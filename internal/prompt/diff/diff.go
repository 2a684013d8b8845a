// Package diff is the pure change-detection layer of the store: it computes
// content fingerprints and field-level deltas between prompt snapshots. It
// has no knowledge of backends or versioning policy.
package diff

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Op describes what happened to a field between two snapshots.
type Op string

const (
	OpAdded    Op = "added"
	OpRemoved  Op = "removed"
	OpModified Op = "modified"
)

// FieldChange records one field transition. Old is unset for added fields,
// New is unset for removed ones.
type FieldChange struct {
	Op  Op  `json:"op" yaml:"op"`
	Old any `json:"old,omitempty" yaml:"old,omitempty"`
	New any `json:"new,omitempty" yaml:"new,omitempty"`
}

// Diff is a field-level delta keyed by field name. Applying it to the older
// snapshot reproduces the newer one exactly (see Apply).
type Diff map[string]FieldChange

// Fields returns the changed field names in sorted order.
func (d Diff) Fields() []string {
	fields := make([]string, 0, len(d))
	for k := range d {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// Compute produces the structural delta between two snapshots. It is pure
// and deterministic: diffing the same pair twice yields an identical result.
// A nil old snapshot (first version) yields a nil diff; the full content is
// the snapshot itself.
func Compute(oldSnap, newSnap any) (Diff, error) {
	if oldSnap == nil {
		return nil, nil
	}
	oldFields, err := normalize(oldSnap)
	if err != nil {
		return nil, fmt.Errorf("normalize old snapshot: %w", err)
	}
	newFields, err := normalize(newSnap)
	if err != nil {
		return nil, fmt.Errorf("normalize new snapshot: %w", err)
	}

	d := Diff{}
	for field, oldVal := range oldFields {
		newVal, ok := newFields[field]
		switch {
		case !ok:
			d[field] = FieldChange{Op: OpRemoved, Old: oldVal}
		case !reflect.DeepEqual(oldVal, newVal):
			d[field] = FieldChange{Op: OpModified, Old: oldVal, New: newVal}
		}
	}
	for field, newVal := range newFields {
		if _, ok := oldFields[field]; !ok {
			d[field] = FieldChange{Op: OpAdded, New: newVal}
		}
	}
	if len(d) == 0 {
		return Diff{}, nil
	}
	return d, nil
}

// Apply reconstructs the newer snapshot from the older one plus the delta.
// Invariant: Apply(old, Compute(old, new)) equals new field for field.
func Apply(oldSnap any, d Diff) (map[string]any, error) {
	result, err := normalize(oldSnap)
	if err != nil {
		return nil, fmt.Errorf("normalize snapshot: %w", err)
	}
	for field, change := range d {
		switch change.Op {
		case OpRemoved:
			delete(result, field)
		case OpAdded, OpModified:
			result[field] = change.New
		default:
			return nil, fmt.Errorf("unknown diff op %q for field %q", change.Op, field)
		}
	}
	return result, nil
}

// normalize flattens a snapshot to its JSON field map so comparisons are
// independent of the Go type carrying the content.
func normalize(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}
