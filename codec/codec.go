// Package codec serializes item payloads. Types can take over their own
// encoding by implementing Marshaler and Unmarshaler; everything else is
// encoded with MsgPack.
package codec

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

type Marshaler interface {
	MarshalItem() ([]byte, error)
}

type Unmarshaler interface {
	UnmarshalItem(data []byte) error
}

// Marshal encodes v. Map keys are sorted so that equal values always produce
// equal bytes.
func Marshal(v any) ([]byte, error) {
	if m, ok := v.(Marshaler); ok {
		return m.MarshalItem()
	}

	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T using MsgPack: %w", v, err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into v, which must be a pointer.
func Unmarshal(data []byte, v any) error {
	if u, ok := v.(Unmarshaler); ok {
		return u.UnmarshalItem(data)
	}

	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	err := dec.Decode(v)
	msgpack.PutDecoder(dec)
	if err != nil {
		return &DataError{Data: data, Err: err, Msg: fmt.Sprintf("failed to decode msgpack into %T", v)}
	}
	return nil
}

// DataError reports a payload that could not be decoded.
type DataError struct {
	Data []byte
	Err  error
	Msg  string
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
	}
	p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
	return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
}
