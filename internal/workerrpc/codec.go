package workerrpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is registered as a gRPC call content-subtype so that Setup and
// Call invocations can be made without generated protobuf stubs: the wire
// format of the remote RPC payload is treated as opaque by the rest of the
// orchestrator (per the specification's scope boundary), so a JSON codec
// over a plain gRPC connection stands in for whatever the worker actually
// speaks.
const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }
