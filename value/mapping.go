package value

import (
	"fmt"
	"math"

	"github.com/wippyai/js-bridge/errors"
)

// Kind is the declared source-side type of a parameter or result.
type Kind uint8

const (
	KindVoid Kind = iota
	KindBool
	KindInt8
	KindUint8
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
	KindBigInt
	KindString
	KindInstant
	KindObject
	KindFunction
	KindPending
	KindAny
)

var kindNames = [...]string{
	KindVoid:     "void",
	KindBool:     "bool",
	KindInt8:     "s8",
	KindUint8:    "u8",
	KindInt16:    "s16",
	KindUint16:   "u16",
	KindInt32:    "s32",
	KindUint32:   "u32",
	KindInt64:    "s64",
	KindUint64:   "u64",
	KindFloat32:  "f32",
	KindFloat64:  "f64",
	KindBigInt:   "bigint",
	KindString:   "string",
	KindInstant:  "instant",
	KindObject:   "object",
	KindFunction: "function",
	KindPending:  "promise",
	KindAny:      "any",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// KindByName resolves a declaration type name.
func KindByName(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), true
		}
	}
	return 0, false
}

// MaxSafeInteger is the largest integer the host number type represents exactly.
const MaxSafeInteger = 1<<53 - 1

// IntRange returns the inclusive range of a fixed-width integer kind.
// Uint64 reports MaxInt64 as its upper bound; larger values travel as BigInt.
func (k Kind) IntRange() (lo, hi int64, ok bool) {
	switch k {
	case KindInt8:
		return math.MinInt8, math.MaxInt8, true
	case KindUint8:
		return 0, math.MaxUint8, true
	case KindInt16:
		return math.MinInt16, math.MaxInt16, true
	case KindUint16:
		return 0, math.MaxUint16, true
	case KindInt32:
		return math.MinInt32, math.MaxInt32, true
	case KindUint32:
		return 0, math.MaxUint32, true
	case KindInt64:
		return math.MinInt64, math.MaxInt64, true
	case KindUint64:
		return 0, math.MaxInt64, true
	}
	return 0, 0, false
}

// IsWide reports whether the kind has more than one legal foreign representation.
func (k Kind) IsWide() bool {
	return k == KindInt64 || k == KindUint64
}

// Mapping is the declared conversion rule for one parameter or result.
// As selects the foreign representation; TagAbsent means "not declared",
// which is only legal for kinds with a single representation.
type Mapping struct {
	Elem *Mapping
	Kind Kind
	As   Tag
}

// M returns a mapping for a kind with its single legal representation.
func M(k Kind) Mapping { return Mapping{Kind: k} }

// As returns a mapping with an explicit foreign representation.
func As(k Kind, tag Tag) Mapping { return Mapping{Kind: k, As: tag} }

// PendingOf returns a pending mapping whose settled value follows elem.
func PendingOf(elem Mapping) Mapping {
	e := elem
	return Mapping{Kind: KindPending, Elem: &e}
}

// Common mappings.
var (
	Void    = M(KindVoid)
	Any     = M(KindAny)
	Boolean = M(KindBool)
	Text    = M(KindString)
	F64     = M(KindFloat64)
	S32     = M(KindInt32)
	Date    = M(KindInstant)
	Obj     = M(KindObject)
	Fn      = M(KindFunction)
)

func defaultTag(k Kind) (Tag, bool) {
	switch k {
	case KindVoid:
		return TagAbsent, true
	case KindBool:
		return TagBool, true
	case KindInt8, KindUint8, KindInt16, KindUint16, KindInt32, KindUint32:
		return TagInt, true
	case KindFloat32, KindFloat64:
		return TagFloat, true
	case KindBigInt:
		return TagBigInt, true
	case KindString:
		return TagString, true
	case KindInstant:
		return TagInstant, true
	case KindObject:
		return TagObject, true
	case KindFunction:
		return TagFunction, true
	case KindPending:
		return TagPending, true
	}
	return 0, false
}

// Validate is the declaration-time check. Wide integers must choose number or
// bigint explicitly; every other kind accepts only its single representation.
func (m Mapping) Validate() error {
	if m.Kind > KindAny {
		return errors.UnsupportedMapping(errors.PhaseDeclare, nil, m.Kind.String(), m.As.String())
	}

	switch {
	case m.Kind == KindAny:
		if m.As != TagAbsent {
			return errors.New(errors.PhaseDeclare, errors.KindUnsupportedMapping).
				HomeType("any").ForeignType(m.As.String()).
				Detail("any is classified at runtime and takes no representation").Build()
		}
	case m.Kind.IsWide():
		if m.As != TagInt && m.As != TagBigInt {
			return errors.New(errors.PhaseDeclare, errors.KindUnsupportedMapping).
				HomeType(m.Kind.String()).ForeignType(m.As.String()).
				Detail("ambiguous mapping: declare %s as number or as bigint", m.Kind).Build()
		}
	default:
		def, _ := defaultTag(m.Kind)
		if m.As != TagAbsent && m.As != def {
			return errors.UnsupportedMapping(errors.PhaseDeclare, nil, m.Kind.String(), m.As.String())
		}
	}

	if m.Kind == KindPending {
		if m.Elem == nil {
			return errors.InvalidInput(errors.PhaseDeclare, "promise mapping requires an element mapping")
		}
		if m.Elem.Kind == KindPending {
			return errors.UnsupportedMapping(errors.PhaseDeclare, nil, "promise<promise>", "pending")
		}
		return m.Elem.Validate()
	}
	if m.Elem != nil {
		return errors.InvalidInput(errors.PhaseDeclare, m.Kind.String()+" does not take an element mapping")
	}
	return nil
}

// Target returns the foreign representation this mapping produces.
// It must only be called on validated mappings.
func (m Mapping) Target() Tag {
	if m.As != TagAbsent {
		return m.As
	}
	t, _ := defaultTag(m.Kind)
	return t
}

// Nullable reports whether Absent is an acceptable value for this mapping.
func (m Mapping) Nullable() bool {
	switch m.Kind {
	case KindVoid, KindAny, KindObject, KindFunction:
		return true
	}
	return false
}

func (m Mapping) String() string {
	switch {
	case m.Kind == KindPending && m.Elem != nil:
		return "promise<" + m.Elem.String() + ">"
	case m.Kind.IsWide() && m.As != TagAbsent:
		return m.Kind.String() + " as " + m.As.String()
	}
	return m.Kind.String()
}
