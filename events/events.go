// Package events defines theater's closed event payload taxonomy (C14):
// the sum type of everything that can be recorded to an actor's chain.
//
// Grounded on _examples/original_source/crates/theater/src/events/mod.rs
// (the `TheaterEvents<H>` enum and its serde "category" tag) and on the
// tagged Event/codec pattern in
// _examples/goadesign-goa-ai/runtime/agent/hooks/{events.go,codec.go},
// which encodes/decodes a sum type of structs keyed by a string Type().
package events

import "encoding/json"

// Category names the event_type prefix recorded on the chain for each
// payload kind.
type Category string

const (
	CategoryRuntime        Category = "runtime"
	CategoryWasm           Category = "wasm"
	CategoryTheaterRuntime Category = "theater-runtime"
	CategoryHostFunction   Category = "host-function"
	CategoryHandler        Category = "handler"
	CategoryReplaySummary  Category = "replay-summary"
)

// Payload is implemented by every event payload type. EventType returns
// the exact event_type tag written to the chain (e.g. "wasm",
// "http-client/send", "theater-runtime").
type Payload interface {
	Category() Category
	EventType() string
}

// Encode serializes a payload to the canonical JSON form stored as a
// chain event's data field.
func Encode(p Payload) ([]byte, error) { return json.Marshal(p) }

// --- Runtime (actor lifecycle) ---

type RuntimeEventKind string

const (
	RuntimeInit        RuntimeEventKind = "init"
	RuntimeShutdown    RuntimeEventKind = "shutdown"
	RuntimeLog         RuntimeEventKind = "log"
	RuntimeError       RuntimeEventKind = "error"
	RuntimeStateChange RuntimeEventKind = "state-change"
)

// RuntimeEvent records an actor lifecycle transition.
type RuntimeEvent struct {
	Kind    RuntimeEventKind `json:"kind"`
	Message string           `json:"message,omitempty"`
}

func (RuntimeEvent) Category() Category  { return CategoryRuntime }
func (e RuntimeEvent) EventType() string { return string(CategoryRuntime) }

// --- Wasm (export invocation) ---

type WasmCall struct {
	Function    string `json:"function"`
	ParamsBytes []byte `json:"params_bytes"`
}

func (WasmCall) Category() Category  { return CategoryWasm }
func (WasmCall) EventType() string   { return string(CategoryWasm) }

type WasmResult struct {
	Function    string `json:"function"`
	ResultBytes []byte `json:"result_bytes"`
}

func (WasmResult) Category() Category { return CategoryWasm }
func (WasmResult) EventType() string  { return string(CategoryWasm) }

type WasmError struct {
	Function string `json:"function"`
	Message  string `json:"message"`
}

func (WasmError) Category() Category { return CategoryWasm }
func (WasmError) EventType() string  { return string(CategoryWasm) }

// --- TheaterRuntime (process-level actor lifecycle) ---

type TheaterRuntimeEventKind string

const (
	ActorLoad            TheaterRuntimeEventKind = "actor-load"
	ActorUpdateStart     TheaterRuntimeEventKind = "actor-update-start"
	ActorUpdateComplete  TheaterRuntimeEventKind = "actor-update-complete"
	ActorUpdateError     TheaterRuntimeEventKind = "actor-update-error"
	ActorShuttingDown    TheaterRuntimeEventKind = "shutting-down"
)

type TheaterRuntimeEvent struct {
	Kind  TheaterRuntimeEventKind `json:"kind"`
	Actor string                  `json:"actor,omitempty"`
	Error string                  `json:"error,omitempty"`
}

func (TheaterRuntimeEvent) Category() Category  { return CategoryTheaterRuntime }
func (e TheaterRuntimeEvent) EventType() string { return string(CategoryTheaterRuntime) }

// --- HostFunction (intercepted host call) ---

// HostFunctionCall is the standardized record for any intercepted host
// call: the interface and function identify the capability; Input and
// Output are the canonical-ABI SerializableValue encodings of the call's
// parameters and result (see serializable.go).
type HostFunctionCall struct {
	Interface string            `json:"interface"`
	Function  string            `json:"function"`
	Input     SerializableValue `json:"input"`
	Output    SerializableValue `json:"output"`
}

func (HostFunctionCall) Category() Category { return CategoryHostFunction }
func (c HostFunctionCall) EventType() string {
	return c.Interface + "/" + c.Function
}

// --- ReplaySummary ---

type ReplayStatus string

const (
	ReplayMatched    ReplayStatus = "matched"
	ReplayDiverged   ReplayStatus = "diverged"
	ReplayIncomplete ReplayStatus = "incomplete"
)

type ReplaySummary struct {
	Total   int          `json:"total"`
	Matched int          `json:"matched"`
	Status  ReplayStatus `json:"status"`
}

func (ReplaySummary) Category() Category { return CategoryReplaySummary }
func (ReplaySummary) EventType() string  { return string(CategoryReplaySummary) }

// Handler wraps an application-defined handler event. H carries whatever
// the owning handler wants to record (e.g. an HTTP request summary); the
// Kind field lets multiple handler event shapes share the Handler
// category while remaining individually decodable.
type Handler struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func (Handler) Category() Category { return CategoryHandler }
func (h Handler) EventType() string { return string(CategoryHandler) + "/" + h.Kind }

// NewHandlerEvent marshals an application-defined payload into a Handler
// envelope under the given kind tag.
func NewHandlerEvent(kind string, data any) (Handler, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return Handler{}, err
	}
	return Handler{Kind: kind, Data: b}, nil
}
