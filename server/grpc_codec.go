package server

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec implements grpc's encoding.Codec over the plain Go structs
// in grpc_messages.go. There is no protoc-generated wire format backing
// this service (see DESIGN.md), so messages ride as JSON rather than a
// compiled protobuf descriptor; registering under the name "proto"
// replaces grpc-go's built-in protobuf codec for every RPC this process
// serves or dials, without the caller needing a content-subtype option.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "proto"
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
