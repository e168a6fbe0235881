// Package save defines the game-save aggregates, their merge rules, the
// repository ports and the error type shared by the cache services.
package save

import (
	"strings"
)

// Kind names one aggregate kind of a game save.
type Kind string

const (
	KindCharacteristics Kind = "characteristics"
	KindCurrency        Kind = "currency"
	KindStage           Kind = "stage"
	KindMetadata        Kind = "metadata"
)

// Kinds returns every aggregate kind in drain order.
func Kinds() []Kind {
	return []Kind{KindCharacteristics, KindCurrency, KindStage, KindMetadata}
}

// ParseKind parses a kind name case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", Errorf(CodeInvalidArgument, "unknown aggregate kind %q", s)
}

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// Aggregate is the capability set every aggregate kind provides to the
// generic query and command services. T is the implementing value type.
//
// One type covers full repository rows, partial cached values and partial
// update commands: a nil field means "not set".
type Aggregate[T any] interface {
	// Kind returns the aggregate kind.
	Kind() Kind

	// Merge returns a copy of the receiver with every non-nil field of over
	// applied on top.
	Merge(over T) T

	// IsEmpty reports whether no updatable field is set.
	IsEmpty() bool

	// IsComplete reports whether every field is set.
	IsComplete() bool

	// Complete returns a copy with every unset field coerced to its default.
	Complete() T

	// Validate checks field-level invariants of the set fields.
	Validate() error
}

// Int returns a pointer to v.
func Int(v int64) *int64 {
	return &v
}

// String returns a pointer to s.
func String(s string) *string {
	return &s
}

// Value dereferences p, returning zero for nil.
func Value[V any](p *V) V {
	var zero V
	if p == nil {
		return zero
	}
	return *p
}

// pick returns a fresh copy of over when set, else of base.
func pick[V any](base, over *V) *V {
	switch {
	case over != nil:
		v := *over
		return &v
	case base != nil:
		v := *base
		return &v
	default:
		return nil
	}
}

func orZero(p *int64) *int64 {
	if p == nil {
		return Int(0)
	}
	return Int(*p)
}

func allSet(ps ...*int64) bool {
	for _, p := range ps {
		if p == nil {
			return false
		}
	}
	return true
}

func noneSet(ps ...*int64) bool {
	for _, p := range ps {
		if p != nil {
			return false
		}
	}
	return true
}

func checkNonNegative(kind Kind, fields map[string]*int64) error {
	for name, p := range fields {
		if p != nil && *p < 0 {
			return Errorf(CodeInvalidArgument, "%s.%s must not be negative", kind, name)
		}
	}
	return nil
}
