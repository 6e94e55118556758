package rpc

import "encoding/json"

// JSONCodec lets connect carry plain Go structs as application/json. It is
// registered under the name "json" so it replaces connect's protobuf JSON
// codec for both handlers and clients.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
