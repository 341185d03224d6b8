package permission

import (
	"errors"
	"fmt"
	"strings"
)

// Type is a permission kind. Its numeric value is the bit index inside a FlagSet and is
// persisted, so values are append-only: never reorder or remove a constant.
type Type uint8

const (
	Read Type = iota
	Create
	Edit
	Delete
	Draft
	Comment
	Vote
	Share
	Publish
	Manage

	typeCount // keep last
)

// MaxBits is the number of addressable permission bits in a FlagSet.
const MaxBits = 128

// Fails to compile once the enumeration outgrows the two flag words.
var _ [MaxBits - int(typeCount)]struct{}

// ErrUnknownType is returned when an external permission name is not part of the enumeration.
var ErrUnknownType = errors.New("permission: unknown type")

var typeNames = [typeCount]string{
	Read:    "Read",
	Create:  "Create",
	Edit:    "Edit",
	Delete:  "Delete",
	Draft:   "Draft",
	Comment: "Comment",
	Vote:    "Vote",
	Share:   "Share",
	Publish: "Publish",
	Manage:  "Manage",
}

// All returns every defined permission type in bit order.
func All() []Type {
	out := make([]Type, typeCount)
	for i := range out {
		out[i] = Type(i)
	}
	return out
}

// Valid reports whether t is a defined permission type.
func (t Type) Valid() bool { return t < typeCount }

func (t Type) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
	return typeNames[t]
}

// Parse converts an external permission name into a Type. Matching ignores case and
// surrounding whitespace; anything outside the enumeration is rejected.
func Parse(name string) (Type, error) {
	name = strings.TrimSpace(name)
	for i, n := range typeNames {
		if strings.EqualFold(n, name) {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, name)
}

// ParseAll parses every name and fails on the first unknown one, so callers never act
// on a partially valid list.
func ParseAll(names []string) ([]Type, error) {
	out := make([]Type, 0, len(names))
	for _, n := range names {
		t, err := Parse(n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Names renders types as their canonical names.
func Names(types []Type) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, t.String())
	}
	return out
}

func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
	}
	return []byte(typeNames[t]), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
