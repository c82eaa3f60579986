package jsonx

import (
	"errors"
	"io"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
)

var jsonx = jsoniter.ConfigCompatibleWithStandardLibrary

// canonical sorts map keys and leaves <, > and & alone so the same value always
// encodes to the same bytes.
var canonical = jsoniter.Config{
	SortMapKeys:            true,
	EscapeHTML:             false,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

// ErrInvalidUTF8 is returned when a canonical encoding would carry bytes that
// are not valid UTF-8. The std-compatible encoder rewrites such bytes, so the
// same value would hash differently once it went through the wire or storage.
var ErrInvalidUTF8 = errors.New("canonical json is not valid utf-8")

func Marshal(v interface{}) ([]byte, error) {
	return jsonx.Marshal(v)
}

func Unmarshal(data []byte, v interface{}) error {
	return jsonx.Unmarshal(data, v)
}

func NewDecoder(r io.Reader) *jsoniter.Decoder {
	return jsonx.NewDecoder(r)
}

func NewEncoder(w io.Writer) *jsoniter.Encoder {
	return jsonx.NewEncoder(w)
}

// MarshalCanonical encodes v with deterministic key order. Structs are first
// flattened to generic maps, so field declaration order never leaks into the
// output.
func MarshalCanonical(v interface{}) ([]byte, error) {
	raw, err := canonical.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := canonical.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return marshalValid(generic)
}

// CanonicalizeRaw re-encodes an already serialized JSON document canonically.
func CanonicalizeRaw(data []byte) ([]byte, error) {
	var generic interface{}
	if err := canonical.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return marshalValid(generic)
}

func marshalValid(v interface{}) ([]byte, error) {
	raw, err := canonical.Marshal(v)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(raw) {
		return nil, ErrInvalidUTF8
	}
	return raw, nil
}

// DecodeCanonical decodes data into generic values, keeping numbers as
// json.Number so integers survive a decode/encode round trip unchanged.
func DecodeCanonical(data []byte) (interface{}, error) {
	var generic interface{}
	if err := canonical.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}
