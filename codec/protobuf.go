package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Protobuf serializes proto.Message values. The stored bytes carry no type
// information, so Decode needs a constructor for the concrete message
// (e.g. func() proto.Message { return &mypb.Page{} }).
//
// Encode rejects values that do not implement proto.Message; mixing message
// and non-message values in one bin is a configuration error.
type Protobuf struct {
	new func() proto.Message
}

func NewProtobuf(ctor func() proto.Message) Protobuf {
	return Protobuf{new: ctor}
}

func (c Protobuf) Encode(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("codec: protobuf: %T does not implement proto.Message", v)
	}
	return proto.Marshal(m)
}

func (c Protobuf) Decode(b []byte) (any, error) {
	m := c.new()
	err := proto.Unmarshal(b, m)
	return m, err
}
