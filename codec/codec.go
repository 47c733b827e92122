// Package codec provides value serialization for tagcache entries.
package codec

// Codec encodes/decodes values to []byte for storage. []byte values bypass
// the codec entirely (stored raw), so implementations only ever see
// non-byte-slice values.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(b []byte) (any, error)
}
