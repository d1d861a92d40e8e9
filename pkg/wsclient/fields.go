package wsclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	errNotObject    = errors.New("message is not a JSON object")
	errTrailingData = errors.New("trailing data after JSON object")
)

// objectFields splits a JSON object into its members keyed by their exact
// names. encoding/json folds key case and keeps the last of duplicated
// keys; the wire does neither, so a duplicated key is an error here.
func objectFields(data []byte) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errNotObject
	}

	fields := make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errNotObject
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		if _, dup := fields[key]; dup {
			return nil, fmt.Errorf("duplicate field %q", key)
		}
		fields[key] = value
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}
	return fields, nil
}

func isNull(raw json.RawMessage) bool {
	return raw == nil || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// requiredString decodes fields[name] as a string. Absent and null are
// both missing.
func requiredString(fields map[string]json.RawMessage, method, name string) (string, error) {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return "", missingField(method, name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%s: field %q: %w", method, name, err)
	}
	return s, nil
}

// optionalUint64 decodes fields[name] as an unsigned integer. Absent and
// null both yield nil.
func optionalUint64(fields map[string]json.RawMessage, method, name string) (*uint64, error) {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return nil, nil
	}
	var v uint64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%s: field %q: %w", method, name, err)
	}
	return &v, nil
}
