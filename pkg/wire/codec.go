package wire

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is negotiated over the wire via the grpc-encoding header,
// exactly like grpc-go's built-in "proto" codec name.
const codecName = "steelpipe-json"

// jsonCodec implements encoding.Codec over plain JSON, standing in for
// a protobuf codec we have no generated types to back (see types.go's
// package doc). Registered once in init(), analogous to grpc-go's own
// documented custom-codec extension point.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// CodecName is the name callers must set via grpc.CallContentSubtype /
// grpc.ForceCodec when dialing, so every RPC on this connection
// negotiates the JSON codec instead of the default proto codec.
const CodecName = codecName
