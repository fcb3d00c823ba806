package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeRecord parses a raw stream payload. Numbers are kept as json.Number
// and payloads published as a JSON string wrapping an object are unwrapped.
// A JSON null is reported as ErrNotFound.
func DecodeRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode record: %w: %v", ErrMalformedRecord, err)
	}
	switch x := v.(type) {
	case map[string]any:
		return Record(x), nil
	case string:
		return DecodeRecord([]byte(x))
	case nil:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("decode record: %w: unexpected %T", ErrMalformedRecord, v)
	}
}
