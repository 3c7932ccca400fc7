package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes from YAML duration strings
// ("24h", "90s") as well as integer nanoseconds. Struct `default:` tags
// apply to it the same way they do to time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}

		*d = Duration(parsed)

		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}

	*d = Duration(n)

	return nil
}

// String implements fmt.Stringer
func (d Duration) String() string {
	return time.Duration(d).String()
}
