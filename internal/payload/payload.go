// Package payload locates and rewrites file-reference fields inside
// application records addressed by dotted field paths.
//
// Traversal always reads a plain view of a payload (nested map[string]any
// and []any). Writes made through Payload.Set land on the live object the
// caller will persist, which for Document is the wrapped struct rather than
// the view.
package payload

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Payload is a record whose file references can be traversed and rewritten.
type Payload interface {
	// View returns the canonical plain-data tree used for traversal.
	View() (map[string]any, error)
	// Set writes value at a concrete leaf path on the live object.
	Set(path string, value any) error
}

// Map is a payload that is already plain data. Its view is itself.
type Map map[string]any

func (m Map) View() (map[string]any, error) { return map[string]any(m), nil }

func (m Map) Set(path string, value any) error { return Set(map[string]any(m), path, value) }

// Document wraps a bson-encodable value (usually a pointer to a struct
// with bson tags). Its view is produced by a BSON round trip, so field
// paths use bson field names.
type Document[T any] struct {
	target *T
}

// NewDocument wraps target. A write through Set re-decodes only the
// top-level field that holds the written leaf. Other fields of *target are
// left untouched, including ones BSON does not carry (unexported fields,
// fields tagged bson:"-") and time values finer than a millisecond. Inside
// the rewritten field those same limits of a BSON round trip apply.
func NewDocument[T any](target *T) *Document[T] {
	return &Document[T]{target: target}
}

// Value returns the wrapped object.
func (d *Document[T]) Value() *T { return d.target }

func (d *Document[T]) View() (map[string]any, error) {
	return Plain(d.target)
}

// Set applies the write to a fresh view, then decodes the changed
// top-level field back onto the wrapped object.
func (d *Document[T]) Set(path string, value any) error {
	view, err := Plain(d.target)
	if err != nil {
		return err
	}
	if err := Set(view, path, value); err != nil {
		return err
	}

	// Only the branch holding the leaf goes back. The default bson decoders
	// do not zero structs or maps, so every other field keeps its value.
	top := splitPath(path)[0]
	raw, err := bson.Marshal(bson.D{{Key: top, Value: view[top]}})
	if err != nil {
		return fmt.Errorf("encode document field %s: %w", top, err)
	}
	if err := bson.Unmarshal(raw, d.target); err != nil {
		return fmt.Errorf("decode document field %s: %w", top, err)
	}
	return nil
}

// Plain converts any bson-encodable value into nested map[string]any and
// []any.
func Plain(v any) (map[string]any, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	// bson.M keeps the view independent of the source
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return normalize(doc).(map[string]any), nil
}

// normalize rewrites the driver's document and array types into the plain
// map[string]any and []any the accessors walk.
func normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		return normalizeMap(t)
	case map[string]any:
		return normalizeMap(t)
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case primitive.A:
		return normalizeSlice(t)
	case []any:
		return normalizeSlice(t)
	}
	return v
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, val := range m {
		out[k] = normalize(val)
	}
	return out
}

func normalizeSlice(s []any) []any {
	out := make([]any, len(s))
	for i, val := range s {
		out[i] = normalize(val)
	}
	return out
}
