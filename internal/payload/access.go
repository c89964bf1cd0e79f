package payload

import (
	"errors"
	"strconv"
	"strings"
)

// DisplayURLSuffix is appended to a field name to form the key that holds
// its resolved download URL.
const DisplayURLSuffix = "_url"

const separator = "."

var (
	ErrNotNavigable    = errors.New("path segment is not a mapping or sequence")
	ErrIndexOutOfRange = errors.New("sequence index out of range")
	ErrNoSiblingSlot   = errors.New("leaf has no mapping parent for a display url")
)

// walkMode controls how descend treats intermediate segments.
type walkMode struct {
	createMissing    bool // put an empty mapping where a segment is absent
	overwriteScalars bool // replace a non-container segment with an empty mapping
}

var (
	writeMode   = walkMode{createMissing: true, overwriteScalars: true}
	displayMode = walkMode{createMissing: true, overwriteScalars: false}
)

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, separator)
}

// Get returns the value at a dotted path. Numeric segments index into
// sequences. Missing or non-navigable segments yield (nil, false).
func Get(root any, path string) (any, bool) {
	current := root
	for _, seg := range splitPath(path) {
		next, ok := lookup(current, seg)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// Set assigns value at path, creating empty mappings for missing
// intermediates and replacing scalar intermediates with mappings.
func Set(root map[string]any, path string, value any) error {
	segs := splitPath(path)
	if len(segs) == 0 {
		return ErrNotNavigable
	}
	parent, err := descend(root, segs[:len(segs)-1], writeMode)
	if err != nil {
		return err
	}
	return assign(parent, segs[len(segs)-1], value)
}

// SetDisplayURL writes value under the sibling key "<last>_url" of the
// leaf named by path. Missing intermediates are created but existing
// scalar intermediates are left alone and reported as ErrNotNavigable.
func SetDisplayURL(root map[string]any, path string, value any) error {
	segs := splitPath(path)
	if len(segs) == 0 {
		return ErrNotNavigable
	}
	parent, err := descend(root, segs[:len(segs)-1], displayMode)
	if err != nil {
		return err
	}
	// Elements of a sequence of strings have no key to sit next to
	m, ok := parent.(map[string]any)
	if !ok {
		return ErrNoSiblingSlot
	}
	m[segs[len(segs)-1]+DisplayURLSuffix] = value
	return nil
}

// RemoveDisplayURL deletes the "<last>_url" sibling of the leaf at path
// and reports whether there was one.
func RemoveDisplayURL(root any, path string) bool {
	segs := splitPath(path)
	if len(segs) == 0 {
		return false
	}
	parent, ok := Get(root, strings.Join(segs[:len(segs)-1], separator))
	if !ok {
		return false
	}
	m, isMap := parent.(map[string]any)
	if !isMap {
		return false
	}
	key := segs[len(segs)-1] + DisplayURLSuffix
	if _, ok := m[key]; !ok {
		return false
	}
	delete(m, key)
	return true
}

// HasSiblingSlot reports whether the leaf at path sits inside a mapping,
// i.e. whether SetDisplayURL has somewhere to write.
func HasSiblingSlot(root any, path string) bool {
	segs := splitPath(path)
	if len(segs) == 0 {
		return false
	}
	parent, ok := Get(root, strings.Join(segs[:len(segs)-1], separator))
	if !ok {
		return false
	}
	_, isMap := parent.(map[string]any)
	return isMap
}

func descend(root map[string]any, segs []string, mode walkMode) (any, error) {
	var current any = root
	for _, seg := range segs {
		next, ok := lookup(current, seg)
		switch {
		case ok && isContainer(next): // Mapping or sequence, keep walking
			current = next
			continue
		case !ok && !mode.createMissing:
			return nil, ErrNotNavigable
		case ok && !mode.overwriteScalars:
			return nil, ErrNotNavigable
		}
		// Missing, or a scalar the mode allows replacing
		fresh := map[string]any{}
		if err := assign(current, seg, fresh); err != nil {
			return nil, err
		}
		current = fresh
	}
	return current, nil
}

func lookup(container any, seg string) (any, bool) {
	switch c := container.(type) {
	case map[string]any:
		v, ok := c[seg]
		return v, ok
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(c) {
			return nil, false
		}
		return c[i], true
	}
	return nil, false
}

func assign(container any, seg string, value any) error {
	switch c := container.(type) {
	case map[string]any:
		c[seg] = value
		return nil
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(c) {
			return ErrIndexOutOfRange
		}
		c[i] = value
		return nil
	}
	return ErrNotNavigable
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}
