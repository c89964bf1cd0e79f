package payload

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Wildcard marks the segment before it as a sequence to expand.
const Wildcard = "[]"

var (
	ErrEmptyFieldSpec = errors.New("empty field path")
	ErrNestedWildcard = errors.New("field path may contain at most one []")
)

// FieldSpec is a parsed field-path specification such as "cover" or
// "gallery[].image".
type FieldSpec struct {
	raw       string // As configured
	arrayPath string // Path to the sequence, before the marker
	subPath   string // Path inside each element, after the marker; may be empty
	expand    bool   // Whether the spec contains the marker
}

// Leaf is one concrete path resolved against a payload, with the value
// found there.
type Leaf struct {
	Path  string
	Value any
}

// ParseFieldSpec validates and splits a field-path specification.
func ParseFieldSpec(spec string) (FieldSpec, error) {
	if strings.TrimSpace(spec) == "" {
		return FieldSpec{}, ErrEmptyFieldSpec
	}
	switch strings.Count(spec, Wildcard) {
	case 0: // Plain path, a single candidate
		return FieldSpec{raw: spec}, nil
	case 1: // "gallery[].image" -> arrayPath "gallery", subPath "image"
		before, after, _ := strings.Cut(spec, Wildcard)
		return FieldSpec{
			raw:       spec,
			arrayPath: before,
			subPath:   strings.TrimPrefix(after, separator),
			expand:    true,
		}, nil
	default:
		// Sequences of sequences are not expanded; fail before any backend call
		return FieldSpec{}, fmt.Errorf("%q: %w", spec, ErrNestedWildcard)
	}
}

// ParseFieldSpecs parses every spec, failing on the first invalid one.
func ParseFieldSpecs(specs []string) ([]FieldSpec, error) {
	parsed := make([]FieldSpec, 0, len(specs))
	for _, s := range specs {
		fs, err := ParseFieldSpec(s)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, fs)
	}
	return parsed, nil
}

func (f FieldSpec) String() string { return f.raw }

// Expands reports whether the spec contains the sequence marker.
func (f FieldSpec) Expands() bool { return f.expand }

// Candidates lists the concrete leaf paths the spec denotes in root. A
// wildcard spec whose array path does not hold a sequence has none.
func (f FieldSpec) Candidates(root any) []string {
	if !f.expand {
		return []string{f.raw}
	}
	// Length is read from the payload on every call
	v, ok := Get(root, f.arrayPath)
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	paths := make([]string, len(items))
	for i := range items {
		p := f.arrayPath + separator + strconv.Itoa(i)
		if f.subPath != "" {
			p += separator + f.subPath
		}
		paths[i] = p
	}
	return paths
}

// Resolve returns the candidate leaves whose value satisfies accept.
func (f FieldSpec) Resolve(root any, accept func(any) bool) []Leaf {
	var leaves []Leaf
	for _, p := range f.Candidates(root) {
		v, _ := Get(root, p)
		if accept(v) {
			leaves = append(leaves, Leaf{Path: p, Value: v})
		}
	}
	return leaves
}

// NonEmptyString accepts string values other than "".
func NonEmptyString(v any) bool {
	s, ok := v.(string)
	return ok && s != ""
}

// AnyString accepts every string, including "".
func AnyString(v any) bool {
	_, ok := v.(string)
	return ok
}
