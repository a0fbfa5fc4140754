package config

import (
	"bytes"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"golang.org/x/xerrors"
)

// FromFile loads config from a TOML file. Missing files yield the
// default config so a fresh node can start without one.
func FromFile(path string) (*Full, error) {
	f, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
		return DefaultFull(), nil
	case err != nil:
		return nil, xerrors.Errorf("opening config file %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	return FromReader(f)
}

// FromReader loads config from a reader, layered over defaults.
func FromReader(r io.Reader) (*Full, error) {
	cfg := DefaultFull()

	md, err := toml.NewDecoder(r).Decode(cfg)
	if err != nil {
		return nil, xerrors.Errorf("decoding config: %w", err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return nil, xerrors.Errorf("unknown config key %q", undec[0].String())
	}

	return cfg, nil
}

// WriteTo dumps the config as TOML.
func WriteTo(w io.Writer, cfg *Full) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return xerrors.Errorf("encoding config: %w", err)
	}
	return nil
}

// WriteFile dumps the config as TOML, for generating a starter
// config.
func WriteFile(path string, cfg *Full) error {
	var buf bytes.Buffer
	if err := WriteTo(&buf, cfg); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return xerrors.Errorf("writing config file %s: %w", path, err)
	}
	return nil
}
