package config

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// TypeSecret is a master secret. It can be given as a hex string with hex:
// prefix, as a base64 string with base64: prefix or as is.
type TypeSecret struct {
	value []byte
}

func (t *TypeSecret) Set(value string) error {
	var (
		decoded []byte
		err     error
	)

	switch {
	case strings.HasPrefix(value, "hex:"):
		decoded, err = hex.DecodeString(strings.TrimPrefix(value, "hex:"))
	case strings.HasPrefix(value, "base64:"):
		decoded, err = base64.StdEncoding.DecodeString(strings.TrimPrefix(value, "base64:"))
	default:
		decoded = []byte(value)
	}

	if err != nil {
		return fmt.Errorf("incorrect secret: %w", err)
	}

	t.value = decoded

	return nil
}

func (t TypeSecret) Get() []byte {
	return t.value
}

func (t *TypeSecret) UnmarshalText(data []byte) error {
	return t.Set(string(data))
}

func (t TypeSecret) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// String never shows a secret.
func (t TypeSecret) String() string {
	if len(t.value) == 0 {
		return ""
	}

	return "***"
}
