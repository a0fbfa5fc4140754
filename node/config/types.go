package config

import (
	"time"
)

// Duration is a wrapper type for time.Duration for decoding and
// encoding from/to TOML.
type Duration time.Duration

// UnmarshalText implements interface for TOML decoding.
func (dur *Duration) UnmarshalText(text []byte) error {
	d, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*dur = Duration(d)
	return nil
}

// MarshalText implements interface for TOML encoding.
func (dur Duration) MarshalText() ([]byte, error) {
	d := time.Duration(dur)
	return []byte(d.String()), nil
}
