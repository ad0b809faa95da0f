// Package params converts job arguments to JSON-safe data and back.
//
// JSON-primitive values (strings, numbers, booleans, null, lists,
// objects) pass through unchanged. Values that reference persisted
// entities are encoded as gid:// strings carrying only the entity's
// identity, and rehydrated through a fresh store lookup at decode
// time. Only top-level positional and named arguments are scanned for
// entity references; nested containers pass through as opaque JSON.
package params

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// GIDPrefix is the scheme marker for encoded entity references.
const GIDPrefix = "gid://"

// Arguments captures the exact positional and named arguments a job
// was constructed with. These, not the job's internal state, are what
// gets serialized for replay in an executor.
type Arguments struct {
	Args  []any          `json:"args"`
	Named map[string]any `json:"named,omitempty"`
}

// EntityRef references a persisted entity by identity.
type EntityRef struct {
	Package  string
	Model    string
	EntityID string
}

// GID renders the reference as a gid://<package>/<model>/<id> string.
func (r EntityRef) GID() string {
	return GIDPrefix + r.Package + "/" + r.Model + "/" + r.EntityID
}

// ParseGID parses a gid:// string into an EntityRef. The second return
// value is false when s is not a well-formed reference.
func ParseGID(s string) (EntityRef, bool) {
	if !strings.HasPrefix(s, GIDPrefix) {
		return EntityRef{}, false
	}
	parts := strings.SplitN(strings.TrimPrefix(s, GIDPrefix), "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return EntityRef{}, false
	}
	return EntityRef{Package: parts[0], Model: parts[1], EntityID: parts[2]}, true
}

// Referencer is implemented by values that should be encoded as
// entity references rather than by value.
type Referencer interface {
	EntityRef() EntityRef
}

// Codec encodes and decodes job arguments. A nil Resolver decodes
// gid:// strings into EntityRef values instead of live entities.
type Codec struct {
	Resolver *Resolver
}

// Encode converts arguments to their JSON wire form.
func (c *Codec) Encode(a Arguments) ([]byte, error) {
	wire := Arguments{
		Args: make([]any, len(a.Args)),
	}
	for i, v := range a.Args {
		wire.Args[i] = encodeValue(v)
	}
	if a.Named != nil {
		wire.Named = make(map[string]any, len(a.Named))
		for k, v := range a.Named {
			wire.Named[k] = encodeValue(v)
		}
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("conveyor: encode parameters: %w", err)
	}
	return data, nil
}

// Decode reverses Encode. Entity references are rehydrated through the
// resolver; a reference to a deleted entity fails the decode, which
// surfaces as a job execution error.
func (c *Codec) Decode(ctx context.Context, data []byte) (Arguments, error) {
	var wire Arguments
	if len(data) == 0 {
		return wire, nil
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return Arguments{}, fmt.Errorf("conveyor: decode parameters: %w", err)
	}
	for i, v := range wire.Args {
		dv, err := c.decodeValue(ctx, v)
		if err != nil {
			return Arguments{}, err
		}
		wire.Args[i] = dv
	}
	for k, v := range wire.Named {
		dv, err := c.decodeValue(ctx, v)
		if err != nil {
			return Arguments{}, err
		}
		wire.Named[k] = dv
	}
	return wire, nil
}

func encodeValue(v any) any {
	switch ref := v.(type) {
	case Referencer:
		return ref.EntityRef().GID()
	case EntityRef:
		return ref.GID()
	default:
		return v
	}
}

func (c *Codec) decodeValue(ctx context.Context, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	ref, ok := ParseGID(s)
	if !ok {
		return v, nil
	}
	if c.Resolver == nil {
		return ref, nil
	}
	return c.Resolver.Resolve(ctx, ref)
}
