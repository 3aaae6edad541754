// Package codec turns typed Go values into the opaque byte payloads the
// stores keep, and back.
//
// The encoding is MessagePack. Structs use their `msgpack` tags, falling back
// to field names.
package codec

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/alaamer12/true-storage/internal/storage"
)

// Marshal encodes v.
//
// Errors satisfy errors.Is(err, storage.ErrStorage).
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer

	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)

	enc.Reset(&buf)
	enc.UseCompactInts(true)
	enc.UseCompactFloats(true)
	if err := enc.Encode(v); err != nil {
		return nil, storage.Mark(storage.ErrStorage, err, "encoding %T", v)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into v, which must be a non-nil pointer.
//
// Errors satisfy errors.Is(err, storage.ErrStorage).
func Unmarshal(data []byte, v any) error {
	dec := msgpack.GetDecoder()
	defer msgpack.PutDecoder(dec)

	dec.Reset(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return storage.Mark(storage.ErrStorage, err, "decoding into %T", v)
	}
	return nil
}
