package events_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/theaterrun/theater/events"
)

// roundTrip asserts deserialize(serialize(v)) == v, property 5 of the
// testable properties: a SerializableValue survives a JSON round trip
// exactly, case tag and all.
func roundTrip(t *testing.T, v events.SerializableValue) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var got events.SerializableValue
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, v, got)
}

func TestRoundTripPrimitives(t *testing.T) {
	t.Parallel()

	roundTrip(t, events.NewBool(true))
	roundTrip(t, events.NewS8(-12))
	roundTrip(t, events.NewU8(250))
	roundTrip(t, events.NewS16(-1000))
	roundTrip(t, events.NewU16(60000))
	roundTrip(t, events.NewS32(-100000))
	roundTrip(t, events.NewU32(4000000000))
	roundTrip(t, events.NewS64(-9000000000000000000))
	roundTrip(t, events.NewU64(18000000000000000000))
	roundTrip(t, events.NewF32(3.5))
	roundTrip(t, events.NewF64(2.71828))
	roundTrip(t, events.NewChar('λ'))
	roundTrip(t, events.NewString("hello, component model"))
}

func TestRoundTripList(t *testing.T) {
	t.Parallel()

	roundTrip(t, events.NewList([]events.SerializableValue{
		events.NewU32(1), events.NewU32(2), events.NewU32(3),
	}))
}

func TestRoundTripTuple(t *testing.T) {
	t.Parallel()

	roundTrip(t, events.NewTuple([]events.SerializableValue{
		events.NewString("path"), events.NewBool(true),
	}))
}

func TestRoundTripRecord(t *testing.T) {
	t.Parallel()

	roundTrip(t, events.NewRecord([]events.RecordField{
		{Name: "host", Value: events.NewString("example.com")},
		{Name: "port", Value: events.NewU16(443)},
	}))
}

func TestRoundTripEnum(t *testing.T) {
	t.Parallel()

	roundTrip(t, events.NewEnum("read"))
}

func TestRoundTripFlags(t *testing.T) {
	t.Parallel()

	roundTrip(t, events.NewFlags([]string{"read", "write"}))
}

func TestRoundTripVariantUnitCase(t *testing.T) {
	t.Parallel()

	roundTrip(t, events.NewVariant("none-left", nil))
}

func TestRoundTripVariantWithPayload(t *testing.T) {
	t.Parallel()

	payload := events.NewU32(42)
	roundTrip(t, events.NewVariant("bytes-read", &payload))
}

func TestRoundTripOption(t *testing.T) {
	t.Parallel()

	roundTrip(t, events.NewOptionNone())
	roundTrip(t, events.NewOptionSome(events.NewString("present")))
}

func TestRoundTripResult(t *testing.T) {
	t.Parallel()

	roundTrip(t, events.NewResultOk(events.NewU32(200)))
	roundTrip(t, events.NewResultErr(events.NewString("permission denied")))
}

// TestRoundTripNestedShapes exercises property 5's explicit nested
// case: an option wrapping a result wrapping a variant wrapping a
// record, each layer preserved through the round trip.
func TestRoundTripNestedShapes(t *testing.T) {
	t.Parallel()

	record := events.NewRecord([]events.RecordField{
		{Name: "path", Value: events.NewString("/data/x")},
		{Name: "bytes_written", Value: events.NewU32(128)},
	})
	variant := events.NewVariant("write-complete", &record)
	result := events.NewResultOk(variant)
	option := events.NewOptionSome(result)

	roundTrip(t, option)

	// Same nesting down the error arm.
	errRecord := events.NewRecord([]events.RecordField{
		{Name: "message", Value: events.NewString("not in allowed paths")},
	})
	errVariant := events.NewVariant("permission-denied", &errRecord)
	errResult := events.NewResultErr(errVariant)
	roundTrip(t, events.NewOptionSome(errResult))
}

func TestFromJSONAndToJSONStructuralRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []json.RawMessage{
		json.RawMessage(`true`),
		json.RawMessage(`"hello"`),
		json.RawMessage(`16`),
		json.RawMessage(`[1,2,3]`),
		json.RawMessage(`null`),
	}
	for _, data := range cases {
		v, err := events.FromJSON(data)
		require.NoError(t, err)
		out, err := v.ToJSON()
		require.NoError(t, err)
		require.JSONEq(t, string(data), string(out))
	}
}

func TestOpaqueJSONRoundTrip(t *testing.T) {
	t.Parallel()

	original := json.RawMessage(`{"nested":{"a":1,"b":[true,false]}}`)
	v := events.OpaqueJSON(original)
	out, err := v.ToJSON()
	require.NoError(t, err)
	require.JSONEq(t, string(original), string(out))
}
