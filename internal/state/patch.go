package state

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/relaymesh/relay/internal/relayerr"
)

// Op is one structural patch operation. The op set is closed:
// add, remove, replace, test. Paths are JSON-Pointer style
// ("/facts/0/key"), with "-" as the explicit append marker for ordered
// sequences ("/facts/-").
type Op struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

const (
	OpAdd     = "add"
	OpRemove  = "remove"
	OpReplace = "replace"
	OpTest    = "test"
)

// segment is one parsed path element. Exactly one of key/index/append
// applies, decided by the container it is resolved against.
type segment struct {
	key    string
	index  int
	isIdx  bool
	append bool
}

// parsePath splits a JSON-Pointer path into segments, applying the
// ~1 -> "/" and ~0 -> "~" unescaping rules. The append marker "-" is
// distinguished from numeric indexes at parse time.
func parsePath(path string) ([]segment, error) {
	if path == "" || path[0] != '/' {
		return nil, relayerr.Validation("path %q must start with /", path)
	}
	parts := strings.Split(path[1:], "/")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		p = strings.ReplaceAll(p, "~0", "~")
		if p == "-" {
			segs = append(segs, segment{append: true})
			continue
		}
		if idx, err := strconv.Atoi(p); err == nil && idx >= 0 {
			segs = append(segs, segment{key: p, index: idx, isIdx: true})
			continue
		}
		segs = append(segs, segment{key: p})
	}
	return segs, nil
}

// Top-level fields the patch engine refuses to touch; they are managed
// by the store itself.
var reservedFields = map[string]bool{
	"$schema":    true,
	"thread_id":  true,
	"version":    true,
	"updated_at": true,
	"metrics":    true,
}

// documentFields is the closed set of top-level keys a document carries.
// Ops addressing anything else are rejected up front: a key outside the
// schema would survive the generic tree walk but be dropped by the
// re-typing unmarshal, and silently losing a write is worse than
// refusing it.
var documentFields = map[string]bool{
	"$schema":         true,
	"thread_id":       true,
	"version":         true,
	"updated_at":      true,
	"metrics":         true,
	"facts":           true,
	"constraints":     true,
	"open_questions":  true,
	"decisions":       true,
	"plan":            true,
	"artifacts":       true,
	"last_actions":    true,
	"session_summary": true,
}

// RefAt ties an artifact reference introduced by a patch to the op that
// introduced it, so referential-integrity failures can name the op.
type RefAt struct {
	OpIndex int
	Ref     string
}

// Apply applies the ordered op sequence to the document and returns the
// patched copy. All-or-nothing: the input document is never mutated,
// and the first failing op aborts with an error carrying its index.
// Artifact refs introduced by add/replace values are collected into
// newRefs for the caller to validate before commit.
func Apply(d *Document, ops []Op) (next *Document, newRefs []RefAt, err error) {
	// Work on the generic JSON form so the tree walk is uniform for
	// maps and sequences at any depth.
	data, err := json.Marshal(d)
	if err != nil {
		return nil, nil, relayerr.Validation("marshal state: %v", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, relayerr.Validation("unmarshal state: %v", err)
	}

	for i, op := range ops {
		segs, perr := parsePath(op.Path)
		if perr != nil {
			return nil, nil, relayerr.ValidationAt(i, "op %d (%s %s): %v", i, op.Op, op.Path, perr)
		}
		if op.Op != OpTest && len(segs) > 0 && !segs[0].append {
			if reservedFields[segs[0].key] {
				return nil, nil, relayerr.ValidationAt(i, "op %d: field %q is managed by the store", i, segs[0].key)
			}
			if !documentFields[segs[0].key] {
				return nil, nil, relayerr.ValidationAt(i, "op %d: unknown field %q", i, segs[0].key)
			}
		}
		if aerr := applyOp(&doc, op, segs); aerr != nil {
			return nil, nil, relayerr.ValidationAt(i, "op %d (%s %s): %v", i, op.Op, op.Path, aerr)
		}
		if op.Op == OpAdd || op.Op == OpReplace {
			for _, ref := range collectRefs(decode(op.Value)) {
				newRefs = append(newRefs, RefAt{OpIndex: i, Ref: ref})
			}
		}
	}

	// Re-type the patched tree. A value that does not fit the document
	// schema (e.g. a string where a fact list belongs) fails here.
	patched, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, relayerr.Validation("re-marshal state: %v", err)
	}
	var out Document
	if err := json.Unmarshal(patched, &out); err != nil {
		return nil, nil, relayerr.Validation("patched document is malformed: %v", err)
	}
	return &out, newRefs, nil
}

func applyOp(root *any, op Op, segs []segment) error {
	if len(segs) == 0 {
		return errf("empty path")
	}

	switch op.Op {
	case OpAdd, OpReplace:
		return setValue(root, segs, decode(op.Value), op.Op)
	case OpRemove:
		return removeValue(root, segs)
	case OpTest:
		cur, err := getValue(*root, segs)
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(cur, decode(op.Value)) {
			return errf("test failed: current value does not match")
		}
		return nil
	default:
		return errf("unknown op %q", op.Op)
	}
}

// navigate walks to the parent container of the final segment.
func navigate(root any, segs []segment) (parent any, last segment, err error) {
	cur := root
	for _, s := range segs[:len(segs)-1] {
		cur, err = child(cur, s)
		if err != nil {
			return nil, segment{}, err
		}
	}
	return cur, segs[len(segs)-1], nil
}

func child(container any, s segment) (any, error) {
	switch c := container.(type) {
	case map[string]any:
		if s.append {
			return nil, errf("append marker inside a path is only valid as the final segment")
		}
		v, ok := c[s.key]
		if !ok {
			return nil, errf("path not found: %q", s.key)
		}
		return v, nil
	case []any:
		if s.append {
			return nil, errf("append marker inside a path is only valid as the final segment")
		}
		if !s.isIdx {
			return nil, errf("sequence index expected, got %q", s.key)
		}
		if s.index >= len(c) {
			return nil, errf("index %d out of range (len %d)", s.index, len(c))
		}
		return c[s.index], nil
	default:
		return nil, errf("cannot descend into %T", container)
	}
}

func getValue(root any, segs []segment) (any, error) {
	parent, last, err := navigate(root, segs)
	if err != nil {
		return nil, err
	}
	return child(parent, last)
}

// setValue handles add and replace. For sequences, add inserts at the
// index (or appends with the "-" marker) while replace overwrites; for
// maps both set the key, except replace requires it to exist.
func setValue(root *any, segs []segment, value any, op string) error {
	if len(segs) == 1 {
		return setIn(root, segs[0], value, op)
	}
	parent, last, err := navigate(*root, segs)
	if err != nil {
		return err
	}
	// Sequence mutation reallocates the backing array, so the grand-
	// parent's slot has to be rewritten. Re-navigate to hold a pointer.
	if _, isSlice := parent.([]any); isSlice {
		return setInSliceAt(root, segs, value, op)
	}
	p := parent
	return setIn(&p, last, value, op)
}

func setIn(container *any, s segment, value any, op string) error {
	switch c := (*container).(type) {
	case map[string]any:
		if s.append {
			return errf("append marker is not valid for an object")
		}
		if op == OpReplace {
			if _, ok := c[s.key]; !ok {
				return errf("path not found: %q", s.key)
			}
		}
		c[s.key] = value
		return nil
	case []any:
		next, err := spliceSlice(c, s, value, op)
		if err != nil {
			return err
		}
		*container = next
		return nil
	default:
		return errf("cannot set into %T", *container)
	}
}

func spliceSlice(c []any, s segment, value any, op string) ([]any, error) {
	if s.append {
		if op == OpReplace {
			return nil, errf("replace cannot use the append marker")
		}
		return append(c, value), nil
	}
	if !s.isIdx {
		return nil, errf("sequence index expected, got %q", s.key)
	}
	switch op {
	case OpReplace:
		if s.index >= len(c) {
			return nil, errf("index %d out of range (len %d)", s.index, len(c))
		}
		c[s.index] = value
		return c, nil
	default: // add inserts before index, RFC 6902 semantics
		if s.index > len(c) {
			return nil, errf("index %d out of range (len %d)", s.index, len(c))
		}
		out := make([]any, 0, len(c)+1)
		out = append(out, c[:s.index]...)
		out = append(out, value)
		out = append(out, c[s.index:]...)
		return out, nil
	}
}

// setInSliceAt rewrites a sequence nested anywhere in the tree by
// re-walking from the root with write access at each level.
func setInSliceAt(root *any, segs []segment, value any, op string) error {
	return rewrite(root, segs, func(c []any, last segment) ([]any, error) {
		return spliceSlice(c, last, value, op)
	})
}

// removeValue deletes a map key or splices an element out of a
// sequence.
func removeValue(root *any, segs []segment) error {
	return rewriteAny(root, segs, func(parent any, last segment) (any, error) {
		switch c := parent.(type) {
		case map[string]any:
			if last.append {
				return nil, errf("append marker is not valid for remove")
			}
			if _, ok := c[last.key]; !ok {
				return nil, errf("path not found: %q", last.key)
			}
			delete(c, last.key)
			return c, nil
		case []any:
			if last.append {
				return nil, errf("append marker is not valid for remove")
			}
			if !last.isIdx {
				return nil, errf("sequence index expected, got %q", last.key)
			}
			if last.index >= len(c) {
				return nil, errf("index %d out of range (len %d)", last.index, len(c))
			}
			out := make([]any, 0, len(c)-1)
			out = append(out, c[:last.index]...)
			out = append(out, c[last.index+1:]...)
			return out, nil
		default:
			return nil, errf("cannot remove from %T", parent)
		}
	})
}

// rewrite re-walks the path from the root, applying fn to the final
// sequence and writing the (possibly reallocated) result back through
// every level of the tree.
func rewrite(root *any, segs []segment, fn func([]any, segment) ([]any, error)) error {
	return rewriteAny(root, segs, func(parent any, last segment) (any, error) {
		c, ok := parent.([]any)
		if !ok {
			return nil, errf("sequence expected at %q", last.key)
		}
		return fn(c, last)
	})
}

func rewriteAny(root *any, segs []segment, fn func(any, segment) (any, error)) error {
	var walk func(node any, segs []segment) (any, error)
	walk = func(node any, segs []segment) (any, error) {
		if len(segs) == 1 {
			return fn(node, segs[0])
		}
		s := segs[0]
		switch c := node.(type) {
		case map[string]any:
			v, ok := c[s.key]
			if !ok || s.append {
				return nil, errf("path not found: %q", s.key)
			}
			nv, err := walk(v, segs[1:])
			if err != nil {
				return nil, err
			}
			c[s.key] = nv
			return c, nil
		case []any:
			if s.append || !s.isIdx {
				return nil, errf("sequence index expected")
			}
			if s.index >= len(c) {
				return nil, errf("index %d out of range (len %d)", s.index, len(c))
			}
			nv, err := walk(c[s.index], segs[1:])
			if err != nil {
				return nil, err
			}
			c[s.index] = nv
			return c, nil
		default:
			return nil, errf("cannot descend into %T", node)
		}
	}
	out, err := walk(*root, segs)
	if err != nil {
		return err
	}
	*root = out
	return nil
}

// Field names whose string values are artifact references and must
// resolve in the artifact store at patch-commit time.
var refFields = map[string]bool{
	"ref":        true,
	"result_ref": true,
}

// collectRefs walks a decoded JSON value and gathers every artifact
// reference it carries, including evidence_refs lists.
func collectRefs(v any) []string {
	var refs []string
	var walk func(any)
	walk = func(node any) {
		switch t := node.(type) {
		case map[string]any:
			for k, v := range t {
				if s, ok := v.(string); ok && refFields[k] && s != "" {
					refs = append(refs, s)
					continue
				}
				if k == "evidence_refs" {
					if list, ok := v.([]any); ok {
						for _, e := range list {
							if s, ok := e.(string); ok && s != "" {
								refs = append(refs, s)
							}
						}
						continue
					}
				}
				walk(v)
			}
		case []any:
			for _, e := range t {
				walk(e)
			}
		}
	}
	walk(v)
	return refs
}

func decode(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func errf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
