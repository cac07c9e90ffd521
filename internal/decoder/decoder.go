// Package decoder selects which half of a consumed record becomes output
// bytes.
package decoder

import (
	"fmt"
	"strings"

	"ktail/source/kafka"
)

// Kind names a decoder. The set is closed.
type Kind string

const (
	RawKey   Kind = "RawKey"
	RawValue Kind = "RawValue"
)

// Func extracts output bytes from a record. A missing key or value yields an
// empty slice.
type Func func(kafka.Record) []byte

var table = map[Kind]Func{
	RawKey:   func(r kafka.Record) []byte { return nonNil(r.Key) },
	RawValue: func(r kafka.Record) []byte { return nonNil(r.Value) },
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// Select returns the extraction function for k.
func Select(k Kind) (Func, error) {
	f, ok := table[k]
	if !ok {
		return nil, fmt.Errorf("decoder: unknown kind %q", string(k))
	}
	return f, nil
}

// ParseKind accepts the canonical names case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rawkey":
		return RawKey, nil
	case "rawvalue":
		return RawValue, nil
	default:
		return "", fmt.Errorf("decoder: invalid kind %q (want RawKey or RawValue)", s)
	}
}

func (k *Kind) UnmarshalText(text []byte) error {
	v, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k), nil
}

func (k Kind) String() string {
	return string(k)
}
