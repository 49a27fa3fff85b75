// Package patch applies add/remove patch documents to aspect records. Arrays
// listed in a document's ArrayPrimaryKeys are addressed by the values of
// their key fields instead of by position, so a path such as
// /tags/urn:li:tag:pii names the tag element whose "tag" field matches.
package patch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"catalogcore/pkg/domain"
)

// Supported operations.
const (
	OpAdd    = "add"
	OpRemove = "remove"
)

// Apply applies doc to base and returns the patched record. base is not
// modified; an empty base is treated as an empty object. The result is
// encoded with sorted object keys.
func Apply(base domain.Record, doc domain.Patch) (domain.Record, error) {
	root, err := decode(base)
	if err != nil {
		return domain.Record{}, domain.PatchApplicationError{Reason: fmt.Sprintf("decode base record: %v", err)}
	}
	a := &applier{keyed: normalizeKeys(doc.ArrayPrimaryKeys)}
	for _, op := range doc.Operations {
		root, err = a.apply(root, op)
		if err != nil {
			return domain.Record{}, err
		}
	}
	out, err := json.Marshal(root)
	if err != nil {
		return domain.Record{}, domain.PatchApplicationError{Reason: fmt.Sprintf("encode result: %v", err)}
	}
	return domain.NewRecord(out), nil
}

func decode(rec domain.Record) (any, error) {
	if rec.IsEmpty() {
		return map[string]any{}, nil
	}
	return decodeJSON(rec.Raw())
}

func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

type applier struct {
	keyed map[string][]string
}

// operation is a parsed PatchOperation.
type operation struct {
	name  string
	path  string
	value any
}

func (o operation) fail(format string, args ...any) error {
	return domain.PatchApplicationError{Op: o.name, Path: o.path, Reason: fmt.Sprintf(format, args...)}
}

func (a *applier) apply(root any, raw domain.PatchOperation) (any, error) {
	op := operation{name: strings.ToLower(strings.TrimSpace(raw.Op)), path: raw.Path}
	switch op.name {
	case OpAdd:
		if len(bytes.TrimSpace(raw.Value)) == 0 {
			return nil, op.fail("add requires a value")
		}
		v, err := decodeJSON(raw.Value)
		if err != nil {
			return nil, op.fail("decode value: %v", err)
		}
		op.value = v
	case OpRemove:
	default:
		return nil, domain.PatchApplicationError{Op: raw.Op, Path: raw.Path, Reason: "unsupported operation"}
	}
	segs, err := parsePointer(op.name, op.path)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		if op.name == OpRemove {
			return nil, op.fail("cannot remove the document root")
		}
		return op.value, nil
	}
	return a.at(root, segs, "", op)
}

// at applies op at segs below node and returns the node to store in its
// parent. field is the object field path of node with array segments skipped.
func (a *applier) at(node any, segs []string, field string, op operation) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		return a.inObject(n, segs, field, op)
	case []any:
		if keys, ok := a.keyed[field]; ok {
			return a.inKeyedArray(n, keys, segs, field, op)
		}
		return a.inArray(n, segs, field, op)
	default:
		return nil, op.fail("cannot traverse %T at %q", node, segs[0])
	}
}

func (a *applier) inObject(obj map[string]any, segs []string, field string, op operation) (any, error) {
	name := segs[0]
	childField := joinField(field, name)
	if len(segs) == 1 {
		if op.name == OpAdd {
			obj[name] = op.value
			return obj, nil
		}
		if _, ok := obj[name]; !ok {
			return nil, op.fail("field %q does not exist", name)
		}
		delete(obj, name)
		return obj, nil
	}
	child, ok := obj[name]
	if !ok {
		if _, keyed := a.keyed[childField]; !keyed || op.name != OpAdd {
			return nil, op.fail("parent %q does not exist", name)
		}
		child = []any{}
	}
	updated, err := a.at(child, segs[1:], childField, op)
	if err != nil {
		return nil, err
	}
	obj[name] = updated
	return obj, nil
}

func (a *applier) inArray(arr []any, segs []string, field string, op operation) (any, error) {
	if len(segs) == 1 {
		if op.name == OpAdd {
			i, ok := arrayIndex(segs[0], len(arr), true)
			if !ok {
				return nil, op.fail("invalid array index %q", segs[0])
			}
			arr = append(arr, nil)
			copy(arr[i+1:], arr[i:])
			arr[i] = op.value
			return arr, nil
		}
		i, ok := arrayIndex(segs[0], len(arr), false)
		if !ok {
			return nil, op.fail("invalid array index %q", segs[0])
		}
		return append(arr[:i], arr[i+1:]...), nil
	}
	i, ok := arrayIndex(segs[0], len(arr), false)
	if !ok {
		return nil, op.fail("invalid array index %q", segs[0])
	}
	updated, err := a.at(arr[i], segs[1:], field, op)
	if err != nil {
		return nil, err
	}
	arr[i] = updated
	return arr, nil
}

func (a *applier) inKeyedArray(arr []any, keys []string, segs []string, field string, op operation) (any, error) {
	if len(segs) < len(keys) {
		return nil, op.fail("path must name all %d key fields of %q", len(keys), field)
	}
	values, rest := segs[:len(keys)], segs[len(keys):]
	idx := findKeyed(arr, keys, values)
	if len(rest) == 0 {
		if op.name == OpRemove {
			if idx < 0 {
				return nil, op.fail("no element of %q with key %v", field, values)
			}
			return append(arr[:idx], arr[idx+1:]...), nil
		}
		elem := op.value
		if obj, ok := elem.(map[string]any); ok {
			for i, k := range keys {
				if _, present := obj[k]; !present {
					obj[k] = values[i]
				}
			}
		}
		if idx >= 0 {
			arr[idx] = elem
			return arr, nil
		}
		return append(arr, elem), nil
	}
	if idx < 0 {
		return nil, op.fail("no element of %q with key %v", field, values)
	}
	updated, err := a.at(arr[idx], rest, field, op)
	if err != nil {
		return nil, err
	}
	arr[idx] = updated
	return arr, nil
}

func findKeyed(arr []any, keys, values []string) int {
	for i, elem := range arr {
		obj, ok := elem.(map[string]any)
		if !ok {
			continue
		}
		match := true
		for j, k := range keys {
			v, present := obj[k]
			if !present || keyString(v) != values[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func keyString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
