package events

import (
	"encoding/json"
	"fmt"
)

// ValueKind tags which WASM Component Model case a SerializableValue
// holds. JSON alone can't carry this distinction — it has no way to
// tell an f32 from an f64, or a variant's active case from an ordinary
// string field — so every SerializableValue carries its case
// explicitly instead of leaving the recipient to guess from shape.
type ValueKind string

const (
	KindBool    ValueKind = "bool"
	KindS8      ValueKind = "s8"
	KindU8      ValueKind = "u8"
	KindS16     ValueKind = "s16"
	KindU16     ValueKind = "u16"
	KindS32     ValueKind = "s32"
	KindU32     ValueKind = "u32"
	KindS64     ValueKind = "s64"
	KindU64     ValueKind = "u64"
	KindF32     ValueKind = "f32"
	KindF64     ValueKind = "f64"
	KindChar    ValueKind = "char"
	KindString  ValueKind = "string"
	KindList    ValueKind = "list"
	KindRecord  ValueKind = "record"
	KindTuple   ValueKind = "tuple"
	KindVariant ValueKind = "variant"
	KindEnum    ValueKind = "enum"
	KindOption  ValueKind = "option"
	KindResult  ValueKind = "result"
	KindFlags   ValueKind = "flags"

	// KindOpaque is not a Component Model case. It carries a JSON value
	// that arrived at the interceptor boundary (C7) as plain
	// json.RawMessage from a capability handler that doesn't yet build
	// typed SerializableValues directly, so the chain record still
	// captures it faithfully instead of discarding it.
	KindOpaque ValueKind = "opaque"
)

// SerializableValue is theater's JSON encoding of one value from the
// WASM Component Model's value domain (spec.md §3): bool, signed and
// unsigned integers of every WIT width, f32/f64, char, string, list,
// record, tuple, variant, enum, option, result, and flags. Exactly one
// of the kind-specific fields is populated, selected by Kind — a tagged
// struct rather than an interface, so it survives json.Marshal/
// json.Unmarshal without a registered type registry.
//
// Grounded on the value domain spec.md §3 defines and the property-5
// round-trip requirement in spec.md §8; the field layout mirrors the
// record/variant/option/result taxonomy go.bytecodealliance.org/cm's
// generated bindings expose on the WASM side of the canonical ABI,
// which is where theater's host-call interceptor (C7) ultimately lifts
// and lowers these values.
type SerializableValue struct {
	Kind ValueKind `json:"kind"`

	Bool   bool    `json:"bool,omitempty"`
	Int    int64   `json:"int,omitempty"`   // s8/s16/s32/s64, sign-extended
	Uint   uint64  `json:"uint,omitempty"`  // u8/u16/u32/u64, zero-extended
	Float  float64 `json:"float,omitempty"` // f32 widened to f64, or f64 directly
	Char   int32   `json:"char,omitempty"`  // a single unicode scalar value
	String string  `json:"string,omitempty"`

	List  []SerializableValue `json:"list,omitempty"`
	Tuple []SerializableValue `json:"tuple,omitempty"`

	// Record fields are ordered: WIT record fields are named but
	// position-sensitive for ABI flattening, so a plain map would lose
	// that order on re-encoding even though JSON itself doesn't care.
	Record []RecordField `json:"record,omitempty"`

	// Case names the active arm for both Variant and Enum; Payload
	// holds Variant's associated value and is nil for a unit-like arm
	// or for Enum, which never carries one.
	Case    string             `json:"case,omitempty"`
	Payload *SerializableValue `json:"payload,omitempty"`

	// Some is nil for option::none; otherwise it holds option::some's
	// wrapped value.
	Some *SerializableValue `json:"some,omitempty"`

	// IsErr selects which of Ok/Err is populated for a result value.
	IsErr bool               `json:"is_err,omitempty"`
	Ok    *SerializableValue `json:"ok,omitempty"`
	Err   *SerializableValue `json:"err,omitempty"`

	Flags []string `json:"flags,omitempty"`

	// Opaque holds a verbatim JSON value for KindOpaque.
	Opaque json.RawMessage `json:"opaque,omitempty"`
}

// RecordField is one named field of a SerializableValue record.
type RecordField struct {
	Name  string            `json:"name"`
	Value SerializableValue `json:"value"`
}

func NewBool(b bool) SerializableValue        { return SerializableValue{Kind: KindBool, Bool: b} }
func NewS8(v int8) SerializableValue          { return SerializableValue{Kind: KindS8, Int: int64(v)} }
func NewS16(v int16) SerializableValue        { return SerializableValue{Kind: KindS16, Int: int64(v)} }
func NewS32(v int32) SerializableValue        { return SerializableValue{Kind: KindS32, Int: int64(v)} }
func NewS64(v int64) SerializableValue        { return SerializableValue{Kind: KindS64, Int: v} }
func NewU8(v uint8) SerializableValue         { return SerializableValue{Kind: KindU8, Uint: uint64(v)} }
func NewU16(v uint16) SerializableValue       { return SerializableValue{Kind: KindU16, Uint: uint64(v)} }
func NewU32(v uint32) SerializableValue       { return SerializableValue{Kind: KindU32, Uint: uint64(v)} }
func NewU64(v uint64) SerializableValue       { return SerializableValue{Kind: KindU64, Uint: v} }
func NewF32(v float32) SerializableValue      { return SerializableValue{Kind: KindF32, Float: float64(v)} }
func NewF64(v float64) SerializableValue      { return SerializableValue{Kind: KindF64, Float: v} }
func NewChar(r rune) SerializableValue        { return SerializableValue{Kind: KindChar, Char: r} }
func NewString(s string) SerializableValue    { return SerializableValue{Kind: KindString, String: s} }
func NewList(vs []SerializableValue) SerializableValue {
	return SerializableValue{Kind: KindList, List: vs}
}
func NewTuple(vs []SerializableValue) SerializableValue {
	return SerializableValue{Kind: KindTuple, Tuple: vs}
}
func NewRecord(fields []RecordField) SerializableValue {
	return SerializableValue{Kind: KindRecord, Record: fields}
}
func NewEnum(caseName string) SerializableValue {
	return SerializableValue{Kind: KindEnum, Case: caseName}
}
func NewFlags(names []string) SerializableValue {
	return SerializableValue{Kind: KindFlags, Flags: names}
}

// NewVariant builds a variant value. payload is nil for a unit-like case.
func NewVariant(caseName string, payload *SerializableValue) SerializableValue {
	return SerializableValue{Kind: KindVariant, Case: caseName, Payload: payload}
}

// NewOptionNone builds option::none.
func NewOptionNone() SerializableValue { return SerializableValue{Kind: KindOption} }

// NewOptionSome builds option::some(v).
func NewOptionSome(v SerializableValue) SerializableValue {
	return SerializableValue{Kind: KindOption, Some: &v}
}

// NewResultOk builds result::ok(v).
func NewResultOk(v SerializableValue) SerializableValue {
	return SerializableValue{Kind: KindResult, Ok: &v}
}

// NewResultErr builds result::err(v).
func NewResultErr(v SerializableValue) SerializableValue {
	return SerializableValue{Kind: KindResult, IsErr: true, Err: &v}
}

// FromJSON interprets an arbitrary JSON value as a SerializableValue.
// Since plain JSON carries no Component Model case tags, the mapping is
// necessarily structural: object -> record (field order as encountered),
// array -> list, string/bool -> string/bool, number -> f64, null ->
// option::none. A handler that needs a precise variant, enum, flags, or
// sized-integer encoding builds it directly with the NewXxx
// constructors instead of going through FromJSON.
func FromJSON(data json.RawMessage) (SerializableValue, error) {
	if len(data) == 0 {
		return NewOptionNone(), nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return SerializableValue{}, fmt.Errorf("events: decode JSON value: %w", err)
	}
	return fromAny(v), nil
}

func fromAny(v any) SerializableValue {
	switch t := v.(type) {
	case nil:
		return NewOptionNone()
	case bool:
		return NewBool(t)
	case float64:
		return NewF64(t)
	case string:
		return NewString(t)
	case []any:
		vs := make([]SerializableValue, len(t))
		for i, e := range t {
			vs[i] = fromAny(e)
		}
		return NewList(vs)
	case map[string]any:
		fields := make([]RecordField, 0, len(t))
		for name, val := range t {
			fields = append(fields, RecordField{Name: name, Value: fromAny(val)})
		}
		return NewRecord(fields)
	default:
		return NewOptionNone()
	}
}

// ToJSON renders a SerializableValue back to a plain JSON value, the
// inverse of FromJSON for the structural cases it produces. Cases
// FromJSON never emits (variant, enum, flags, sized integers, option
// some, result) still render to a reasonable JSON shape so a
// SerializableValue built directly by a handler can still be logged or
// inspected as JSON.
func (v SerializableValue) ToJSON() (json.RawMessage, error) {
	out, err := json.Marshal(v.toAny())
	if err != nil {
		return nil, fmt.Errorf("events: encode SerializableValue: %w", err)
	}
	return out, nil
}

func (v SerializableValue) toAny() any {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindS8, KindS16, KindS32, KindS64:
		return v.Int
	case KindU8, KindU16, KindU32, KindU64:
		return v.Uint
	case KindF32, KindF64:
		return v.Float
	case KindChar:
		return string(rune(v.Char))
	case KindString:
		return v.String
	case KindList, KindTuple:
		vs := v.List
		if v.Kind == KindTuple {
			vs = v.Tuple
		}
		out := make([]any, len(vs))
		for i, e := range vs {
			out[i] = e.toAny()
		}
		return out
	case KindRecord:
		out := make(map[string]any, len(v.Record))
		for _, f := range v.Record {
			out[f.Name] = f.Value.toAny()
		}
		return out
	case KindVariant:
		if v.Payload != nil {
			return map[string]any{"case": v.Case, "payload": v.Payload.toAny()}
		}
		return map[string]any{"case": v.Case}
	case KindEnum:
		return v.Case
	case KindOption:
		if v.Some != nil {
			return v.Some.toAny()
		}
		return nil
	case KindResult:
		if v.IsErr {
			if v.Err != nil {
				return map[string]any{"err": v.Err.toAny()}
			}
			return map[string]any{"err": nil}
		}
		if v.Ok != nil {
			return map[string]any{"ok": v.Ok.toAny()}
		}
		return map[string]any{"ok": nil}
	case KindFlags:
		return v.Flags
	case KindOpaque:
		var out any
		_ = json.Unmarshal(v.Opaque, &out)
		return out
	default:
		return nil
	}
}

// OpaqueJSON wraps a raw JSON blob as a SerializableValue without
// attempting to interpret it structurally, for callers that want the
// exact original bytes preserved verbatim through a round trip.
func OpaqueJSON(data json.RawMessage) SerializableValue {
	return SerializableValue{Kind: KindOpaque, Opaque: data}
}
