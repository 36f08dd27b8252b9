// Package workerrpc defines the abstract worker RPC surface: Setup, Call,
// and the standard gRPC health check. The wire encoding of arguments and
// results is intentionally opaque to the rest of the orchestrator — it is
// carried as computation-specific JSON, mirroring the "Argument"/"Variant"
// shape of the system this orchestrator was modeled on.
package workerrpc

import "fmt"

// Status is the application-level outcome of a Setup or Call RPC, carried
// in the response body in addition to (and independent of) the gRPC
// transport status code. A transport-level failure (deadline exceeded,
// unavailable, ...) never reaches this type; see internal/fanout/classify.go.
type Status string

const (
	StatusOK               Status = "OK"
	StatusFailed           Status = "FAILED"
	StatusBadImplementation Status = "BAD_IMPLEMENTATION"
)

// Argument is a positional call argument; Value carries a
// computation-specific JSON encoding of the actual payload.
type Argument struct {
	Pos   int             `json:"pos"`
	Value string          `json:"value"`
}

// KwArgument is a named call argument.
type KwArgument struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Variant is a typed result value returned by a successful Call.
type Variant struct {
	Type  string `json:"type"` // e.g. "STRING", "JSON", "BYTES"
	Value string `json:"value"`
}

func (v Variant) String() string {
	return fmt.Sprintf("%s(%s)", v.Type, v.Value)
}

// SetupRequest configures a worker-side instance prior to accepting Call
// invocations. ClassName/Args/Kwargs are only populated by the
// DynamicSubclass handle variant; the Basic variant sends an empty request.
type SetupRequest struct {
	ClassName string       `json:"class_name,omitempty"`
	Args      []Argument   `json:"args,omitempty"`
	Kwargs    []KwArgument `json:"kwargs,omitempty"`
}

// SetupResponse reports whether a worker accepted the setup.
type SetupResponse struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// CallRequest invokes a named remote method with positional/keyword args.
type CallRequest struct {
	MethodName string       `json:"method_name"`
	Args       []Argument   `json:"args,omitempty"`
	Kwargs     []KwArgument `json:"kwargs,omitempty"`
}

// CallResponse carries the outcome of a Call invocation.
type CallResponse struct {
	Status Status  `json:"status"`
	Result Variant `json:"result,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

const (
	fullMethodSetup = "/modelrunner.v1.WorkerService/Setup"
	fullMethodCall  = "/modelrunner.v1.WorkerService/Call"
)
