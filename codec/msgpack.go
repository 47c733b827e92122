package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack is a Codec that serializes values using vmihailenco/msgpack/v5.
// The zero value is ready to use and is the default codec.
//
// Values decode into the generic msgpack shapes (maps, slices, strings,
// numbers), not back into the original Go struct types. Callers that need
// typed round trips should store concrete types the decoder can produce, or
// re-map on read.
type Msgpack struct{}

func (Msgpack) Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (Msgpack) Decode(b []byte) (any, error) {
	var v any
	err := msgpack.Unmarshal(b, &v)
	return v, err
}
