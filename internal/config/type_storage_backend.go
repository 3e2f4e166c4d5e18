package config

import (
	"fmt"
	"strings"
)

// StorageBackend is a place where rate windows and anti-forgery tokens
// live.
type StorageBackend string

const (
	// StorageBackendMemory keeps state in process. It is good for a single
	// instance only.
	StorageBackendMemory StorageBackend = "memory"

	// StorageBackendRedis shares state between instances.
	StorageBackendRedis StorageBackend = "redis"
)

type TypeStorageBackend struct {
	Value StorageBackend
}

func (t *TypeStorageBackend) Set(value string) error {
	switch StorageBackend(strings.ToLower(strings.TrimSpace(value))) {
	case StorageBackendMemory, "":
		t.Value = StorageBackendMemory
	case StorageBackendRedis:
		t.Value = StorageBackendRedis
	default:
		return fmt.Errorf("unknown storage backend %q, expected 'memory' or 'redis'", value)
	}

	return nil
}

func (t TypeStorageBackend) Get(defaultValue StorageBackend) StorageBackend {
	if t.Value == "" {
		return defaultValue
	}

	return t.Value
}

func (t *TypeStorageBackend) UnmarshalText(data []byte) error {
	return t.Set(string(data))
}

func (t TypeStorageBackend) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t TypeStorageBackend) String() string {
	return string(t.Get(StorageBackendMemory))
}
