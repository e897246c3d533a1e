package config

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

type Logging struct {
	Level  string `koanf:"level" json:"level,omitempty"`
	Pretty bool   `koanf:"pretty" json:"pretty,omitempty"`
}

func (l Logging) validate() []error {
	var errs []error
	if _, err := zerolog.ParseLevel(l.Level); err != nil {
		errs = append(errs, fmt.Errorf("level: invalid log level %q: %w", l.Level, err))
	}
	return errs
}

var loggingDefault = Logging{
	Level: "info",
}

type Config struct {
	// KeysDir is the root directory holding one encrypted container per key.
	KeysDir string `koanf:"keys_dir" json:"keys_dir,omitempty"`
	// KeyBits is the RSA modulus size for newly generated key pairs. The
	// container codec itself enforces no floor; acceptable sizes are decided
	// here.
	KeyBits int     `koanf:"key_bits" json:"key_bits,omitempty"`
	Logging Logging `koanf:"logging" json:"logging,omitzero"`
}

func (c Config) Validate() error {
	var errs []error
	if c.KeysDir == "" {
		errs = append(errs, errors.New("keys_dir cannot be empty"))
	}
	if c.KeyBits <= 0 {
		errs = append(errs, fmt.Errorf("key_bits: invalid key size %d", c.KeyBits))
	}
	for _, err := range c.Logging.validate() {
		errs = append(errs, fmt.Errorf("logging.%w", err))
	}
	return errors.Join(errs...)
}

func DefaultConfig() Config {
	return Config{
		KeyBits: 2048,
		Logging: loggingDefault,
	}
}
