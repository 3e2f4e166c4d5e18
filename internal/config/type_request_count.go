package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// TypeRequestCount is a number of requests. Unlike other numeric types an
// explicit 0 is a valid value, so unset values are tracked separately.
type TypeRequestCount struct {
	Value int64
	set   bool
}

func (t *TypeRequestCount) Set(value string) error {
	value = strings.Trim(strings.TrimSpace(value), `"`)

	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("request count is not an integer (%s): %w", value, err)
	}

	if count < 0 || count > math.MaxInt32 {
		return fmt.Errorf("request count %d is out of range", count)
	}

	t.Value = count
	t.set = true

	return nil
}

func (t TypeRequestCount) IsSet() bool {
	return t.set
}

func (t TypeRequestCount) Get(defaultValue int64) int64 {
	if !t.set {
		return defaultValue
	}

	return t.Value
}

func (t *TypeRequestCount) UnmarshalJSON(data []byte) error {
	return t.Set(string(data))
}

func (t TypeRequestCount) MarshalJSON() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t TypeRequestCount) String() string {
	return strconv.FormatInt(t.Value, 10)
}
