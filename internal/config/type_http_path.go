package config

import (
	"fmt"
	"net/url"
	"strings"
)

type TypeHTTPPath struct {
	Value string
}

func (t *TypeHTTPPath) Set(value string) error {
	if !strings.HasPrefix(value, "/") {
		return fmt.Errorf("path has to start with / (%s)", value)
	}

	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("incorrect path (%s): %w", value, err)
	}

	if parsed.RawQuery != "" || parsed.Fragment != "" || parsed.Host != "" {
		return fmt.Errorf("path has to be a path only (%s)", value)
	}

	t.Value = parsed.Path

	return nil
}

func (t TypeHTTPPath) Get(defaultValue string) string {
	if t.Value == "" {
		return defaultValue
	}

	return t.Value
}

func (t *TypeHTTPPath) UnmarshalText(data []byte) error {
	return t.Set(string(data))
}

func (t TypeHTTPPath) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t TypeHTTPPath) String() string {
	return t.Value
}
